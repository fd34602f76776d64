package eventbus

import "time"

// Run statuses carried by JobRun.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

// JobRun is the Data of a TypeJobRun event.
type JobRun struct {
	RunID    string
	Job      string
	Action   string
	TaskID   uint64
	Status   string
	Error    string
	Started  time.Time
	Duration time.Duration
}
