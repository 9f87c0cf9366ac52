// Package scheduler turns schedule expressions into invocations.
//
// It only decides when a function fires. Each firing is handed to the task
// engine, which owns execution (overlap policy, timeouts, retries).
package scheduler
