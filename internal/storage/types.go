package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Keep is how many runs are retained; 0 means DefaultKeep.
	Keep int
}

const DefaultKeep = 1000

func (c Config) keep() int {
	if c.Keep <= 0 {
		return DefaultKeep
	}
	return c.Keep
}

// RunEntry records one job run. Keep it compact and schema-stable.
type RunEntry struct {
	ID      string    `json:"id"`
	Job     string    `json:"job"`
	Action  string    `json:"action,omitempty"`
	TaskID  uint64    `json:"task_id,omitempty"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	Started time.Time `json:"started"`
	TookMS  int64     `json:"took_ms"`
}
