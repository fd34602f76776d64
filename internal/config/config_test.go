package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  mode: attached
  start_timeout: 500ms
metrics:
  enabled: true
  addr: 127.0.0.1:0
storage:
  driver: sqlite
  path: ./data/timerd.db
  keep: 50
systemd:
  notify: true
jobs:
  - name: heartbeat
    schedule: 10s
    action: log
    message: alive
  - name: nightly
    schedule: "0 3 * * *"
    action: exec
    command: ["/bin/true"]
    timeout: 30s
  - name: warmup
    schedule: 5s
    times: 3
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("timerd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.Mode != "attached" || cfg.Scheduler.StartTimeoutOrDefault() != 500*time.Millisecond {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Storage == nil || cfg.Storage.Resolved().Keep != 50 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Jobs) != 3 || cfg.Jobs[1].Command[0] != "/bin/true" || cfg.Jobs[2].Times != 3 {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "unknown json field", file: "c.json", data: `{"scheduler":{"mode":"attached","workers":2}}`},
		{name: "unknown yaml field", file: "c.yml", data: "telegram:\n  token: x\n"},
		{name: "trailing json", file: "c.json", data: `{} {}`},
		{name: "bad yaml", file: "c.yaml", data: "jobs: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", []byte("\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "zero", cfg: Config{}},
		{name: "bad mode", cfg: Config{Scheduler: SchedulerConfig{Mode: "threaded"}}, wantErr: "scheduler.mode"},
		{name: "bad start timeout", cfg: Config{Scheduler: SchedulerConfig{StartTimeout: "soon"}}, wantErr: "scheduler.start_timeout"},
		{name: "negative start timeout", cfg: Config{Scheduler: SchedulerConfig{StartTimeout: "-1s"}}, wantErr: ">= 0"},
		{name: "bad timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, wantErr: "scheduler.timezone"},
		{name: "unknown storage", cfg: Config{Storage: &StorageConfig{Driver: "redis"}}, wantErr: "storage.driver"},
		{name: "storage needs path", cfg: Config{Storage: &StorageConfig{Driver: "file"}}, wantErr: "storage.path"},
		{name: "bad namespace", cfg: Config{Metrics: &MetricsConfig{Enabled: true, Namespace: "my-app"}}, wantErr: "metrics.namespace"},
		{name: "job without name", cfg: Config{Jobs: []JobConfig{{Schedule: "1s"}}}, wantErr: "jobs[0].name"},
		{name: "job without schedule", cfg: Config{Jobs: []JobConfig{{Name: "a"}}}, wantErr: "jobs[0].schedule"},
		{name: "duplicate job", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1s"}, {Name: "a", Schedule: "2s"}}}, wantErr: "already used"},
		{name: "exec without command", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1s", Action: "exec"}}}, wantErr: "jobs[0].command"},
		{name: "unknown action", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1s", Action: "mail"}}}, wantErr: "jobs[0].action"},
		{name: "times out of range", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1s", Times: 70000}}}, wantErr: "jobs[0].times"},
		{name: "bad job timeout", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1s", Timeout: "x"}}}, wantErr: "jobs[0].timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	if got := cfg.Scheduler.StartTimeoutOrDefault(); got != DefaultStartTimeout {
		t.Fatalf("StartTimeoutOrDefault = %v", got)
	}
	if got := cfg.Scheduler.CancelWarnRate(); got != DefaultCancelWarnRate {
		t.Fatalf("CancelWarnRate = %v", got)
	}
	if got := (SchedulerConfig{CancelWarnPerSec: -1}).CancelWarnRate(); got != 0 {
		t.Fatalf("negative CancelWarnRate = %v, want 0", got)
	}
	m := cfg.Metrics.Resolved()
	if m.Enabled || m.Addr != DefaultMetricsAddr || m.Path != DefaultMetricsPath || m.Namespace != DefaultNamespace {
		t.Fatalf("metrics defaults = %+v", m)
	}
	if p := (&MetricsConfig{Path: "prom"}).Resolved().Path; p != "/prom" {
		t.Fatalf("path = %q", p)
	}
	s := cfg.Storage.Resolved()
	if s.Driver != "none" || s.Keep != DefaultStorageKeep {
		t.Fatalf("storage defaults = %+v", s)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: time.Second},
		{raw: "0s", want: time.Second},
		{raw: " 250ms ", want: 250 * time.Millisecond},
		{raw: "-1s", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, time.Second)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDurationOrDefault(%q) err = %v", tt.raw, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Jobs: []JobConfig{
			{Name: "a", Schedule: "1s"},
			{Name: "b", Schedule: "2s"},
			{Name: "c", Schedule: "3s"},
		},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Jobs: []JobConfig{
			{Name: "a", Schedule: "1s"},
			{Name: "b", Schedule: "5s"},
			{Name: "d", Schedule: "4s"},
		},
	}
	sections, attrs, jobs := SummarizeChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "logging,jobs" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if strings.Join(jobs, ",") != "b,c,d" {
		t.Fatalf("jobs = %v", jobs)
	}

	if s, _, _ := SummarizeChange(newCfg, newCfg); len(s) != 0 {
		t.Fatalf("identical configs reported changes: %v", s)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "timerd.json")
	writeFile(t, path, `{"logging":{"level":"info"},"jobs":[]}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the loaded config")
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx := context.Background()
	if ok, err := m.Reload(ctx); err != nil || ok {
		t.Fatalf("Reload of unchanged file = %v, %v", ok, err)
	}

	writeFile(t, path, `{"logging":{"level":"debug"},"jobs":[]}`)
	if ok, err := m.Reload(ctx); err != nil || !ok {
		t.Fatalf("Reload = %v, %v", ok, err)
	}
	select {
	case got := <-sub:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q", got.Logging.Level)
		}
	default:
		t.Fatal("no config published")
	}

	writeFile(t, path, `{"scheduler":{"mode":"nope"}}`)
	if ok, err := m.Reload(ctx); err == nil || ok {
		t.Fatalf("invalid reload = %v, %v", ok, err)
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("invalid config was committed")
	}
}

func TestManagerValidatorRejects(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "timerd.json")
	writeFile(t, path, `{}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if len(cfg.Jobs) > 0 {
			return os.ErrInvalid
		}
		return nil
	})
	writeFile(t, path, `{"jobs":[{"name":"a","schedule":"1s"}]}`)
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("validator rejection ignored")
	}
	if len(m.Get().Jobs) != 0 {
		t.Fatal("rejected config committed")
	}
}

func TestSubscriberKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	sub := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-sub; got != second {
		t.Fatal("slow subscriber did not receive the newest config")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel not closed by Unsubscribe")
	}
}

func TestManagerWatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "timerd.yaml")
	writeFile(t, path, "logging:\n  level: info\n")

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	// Keep rewriting until the watcher has registered and picked up a change.
	for {
		writeFile(t, path, "logging:\n  level: warn\n")
		select {
		case got := <-sub:
			if got.Logging.Level != "warn" {
				t.Fatalf("level = %q", got.Logging.Level)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("watcher never published the change")
		}
	}
}
