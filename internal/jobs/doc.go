// Package jobs turns configured job definitions into timer tasks.
//
// Interval jobs become recurring (or fixed-count) tasks. Cron jobs are one-shot
// tasks that re-arm themselves from their own callback at the next occurrence.
// Job actions never run on the timer's driver: each run is dispatched to its
// own goroutine and a run that would overlap the previous one is skipped.
package jobs
