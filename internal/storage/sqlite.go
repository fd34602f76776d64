package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "timerd/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// pruneEvery is how many appends pass between retention sweeps.
const pruneEvery = 64

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	appends atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: cfg.keep()}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 2 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Int("keep", st.keep))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	e = normalize(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, job, action, task_id, status, err, started, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, e.Job, nullStr(e.Action), int64(e.TaskID), e.Status, nullStr(e.Error),
		e.Started.UTC().Format(time.RFC3339Nano), e.TookMS,
	)
	if err != nil {
		return err
	}
	if s.appends.Add(1)%pruneEvery == 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Warn("run history prune failed", logx.Err(err))
		}
	}
	return nil
}

// prune drops everything older than the newest keep runs.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE seq <= (SELECT seq FROM runs ORDER BY seq DESC LIMIT 1 OFFSET ?)`,
		s.keep,
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	const cols = `SELECT id, job, COALESCE(action,''), task_id, status, COALESCE(err,''), started, took_ms FROM runs`
	var (
		rows *sql.Rows
		err  error
	)
	if job = strings.TrimSpace(job); job == "" {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY seq DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE job = ? ORDER BY seq DESC LIMIT ?`, job, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var (
			e       RunEntry
			taskID  int64
			started string
		)
		if err := rows.Scan(&e.ID, &e.Job, &e.Action, &taskID, &e.Status, &e.Error, &started, &e.TookMS); err != nil {
			return nil, err
		}
		e.TaskID = uint64(taskID)
		if e.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad started %q: %w", e.ID, started, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
