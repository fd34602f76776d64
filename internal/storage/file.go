package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "timerd/pkg/logx"
)

var timeNow = time.Now

// fileStore keeps run history in <prefix>.runs.jsonl (append-only JSON Lines)
// plus an in-memory copy of the newest keep entries. The file is rewritten
// with just those entries once it holds twice as many lines.
type fileStore struct {
	log  logx.Logger
	path string
	keep int

	mu     sync.Mutex
	f      *os.File
	recent []RunEntry // oldest first, at most keep
	lines  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:  log,
		path: filepath.Join(dir, base) + ".runs.jsonl",
		keep: cfg.keep(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	log.Debug("file store opened", logx.String("path", s.path), logx.Int("loaded", len(s.recent)))
	return s, nil
}

// load replays the journal. Malformed lines (e.g. a torn final write) are skipped.
func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	skipped := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		s.lines++
		var e RunEntry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		s.remember(e)
	}
	if skipped > 0 {
		s.log.Warn("skipped malformed run history lines", logx.Int("count", skipped))
	}
	return sc.Err()
}

func (s *fileStore) remember(e RunEntry) {
	s.recent = append(s.recent, e)
	if over := len(s.recent) - s.keep; over > 0 {
		copy(s.recent, s.recent[over:])
		s.recent = s.recent[:s.keep]
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, e RunEntry) error {
	e = normalize(e)
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return err
	}
	s.lines++
	s.remember(e)
	if s.lines >= 2*s.keep {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("run history compaction failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked rewrites the journal with the retained entries.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range s.recent {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	_ = s.f.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = nf
	s.lines = len(s.recent)
	return nil
}

func (s *fileStore) RecentRuns(_ context.Context, job string, limit int) ([]RunEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	job = strings.TrimSpace(job)
	out := make([]RunEntry, 0, min(limit, len(s.recent)))
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if job == "" || s.recent[i].Job == job {
			out = append(out, s.recent[i])
		}
	}
	return out, nil
}
