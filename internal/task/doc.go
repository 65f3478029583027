// Package task runs a single unit of work off the control context and reports
// its lifecycle back to that context. A Worker is single-use: it moves from
// Idle to Running once and then to exactly one terminal state, delivering an
// ordered stream of notifications (started, zero or more progress updates,
// one terminal event) through a Dispatcher. Cancellation is cooperative: the
// task decides when to look at the flag.
package task
