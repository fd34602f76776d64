// Package timer implements a delayed/recurring task scheduler.
//
// Tasks are registered to run once, forever, or a fixed number of times after
// a delay. Due tasks are executed by a driver: either a goroutine owned by the
// Scheduler (Detached mode) or the caller itself via DrainDue (Attached mode,
// e.g. from an external event loop).
//
// Ordering is total: earlier deadlines run first, equal deadlines run in
// ascending id order (ids are issued monotonically per Scheduler, so this is
// FIFO). Recurring tasks keep the id returned by the original Add call.
//
// Callbacks run with no scheduler lock held and may call Add or Cancel on the
// same Scheduler. They are not recovered, retried or isolated: a panicking
// callback in Detached mode takes the process down like any goroutine panic,
// and in Attached mode propagates out of DrainDue.
package timer
