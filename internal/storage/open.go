package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	logx "timerd/pkg/logx"
)

// Store is the run-history API.
type Store interface {
	AppendRun(ctx context.Context, e RunEntry) error
	// RecentRuns returns up to limit runs, newest first. An empty job matches all.
	RecentRuns(ctx context.Context, job string, limit int) ([]RunEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// normalize fills in the fields every backend relies on.
func normalize(e RunEntry) RunEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Started.IsZero() {
		e.Started = timeNow()
	}
	return e
}
