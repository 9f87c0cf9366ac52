// Package function holds the timer function bodies the host schedules.
//
// A function logs the time it fired, then looks up each configured key from
// an injected provider and logs "<key>: <value>". Missing keys are logged as
// absent. Only provider failures are returned.
package function
