// Package alert delivers operator messages for invocation outcomes.
//
// Outcome events from the task engine are turned into short text alerts and
// pushed through an async pipeline: bounded queue, worker goroutines, a
// token-bucket rate limit, retry with backoff and a dedup window. A burst of
// identical failures (same function, outcome and error) produces one message
// per window.
//
// # Transport
//
// Delivery goes through a Sender. Telegram is the built-in transport.
package alert
