package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.NatsURL != defaultNATSURL {
		t.Fatalf("expected default nats url")
	}
	if cfg.RedisURL != defaultRedisURL {
		t.Fatalf("expected default redis url")
	}
	if cfg.EventSink != SinkNone {
		t.Fatalf("expected no event sink by default, got %q", cfg.EventSink)
	}
	if cfg.MetricsAddr != defaultMetricsAddr {
		t.Fatalf("expected default metrics addr")
	}
	if cfg.SchedulePath != defaultSchedulePath {
		t.Fatalf("expected default schedule path")
	}
	if cfg.EventLogCapacity != defaultEventLogCapacity || cfg.HistoryCapacity != defaultHistoryCapacity {
		t.Fatalf("unexpected capacities %d/%d", cfg.EventLogCapacity, cfg.HistoryCapacity)
	}
	if cfg.MaxParallel != 0 || len(cfg.ExprVars) != 0 || cfg.DriverLock {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envNATSURL, "nats://example:4222")
	t.Setenv(envRedisURL, "redis://example:6379")
	t.Setenv(envEventSink, " Redis ")
	t.Setenv(envMetricsAddr, ":1234")
	t.Setenv(envSchedulePath, "custom/schedule.yaml")
	t.Setenv(envEventLogCapacity, "50")
	t.Setenv(envHistoryCapacity, "20")
	t.Setenv(envMaxParallel, "4")
	t.Setenv(envExprVars, "region=eu, tier = gold,=skip,flag")
	t.Setenv(envDriverLock, "true")

	cfg := Load()
	if cfg.NatsURL != "nats://example:4222" {
		t.Fatalf("unexpected nats url")
	}
	if cfg.RedisURL != "redis://example:6379" {
		t.Fatalf("unexpected redis url")
	}
	if cfg.EventSink != SinkRedis {
		t.Fatalf("unexpected event sink %q", cfg.EventSink)
	}
	if cfg.MetricsAddr != ":1234" || cfg.SchedulePath != "custom/schedule.yaml" {
		t.Fatalf("unexpected addresses %+v", cfg)
	}
	if cfg.EventLogCapacity != 50 || cfg.HistoryCapacity != 20 || cfg.MaxParallel != 4 || !cfg.DriverLock {
		t.Fatalf("unexpected numeric overrides %+v", cfg)
	}
	want := map[string]string{"region": "eu", "tier": "gold", "flag": ""}
	if len(cfg.ExprVars) != len(want) {
		t.Fatalf("unexpected vars %v", cfg.ExprVars)
	}
	for k, v := range want {
		if cfg.ExprVars[k] != v {
			t.Fatalf("var %s = %q want %q", k, cfg.ExprVars[k], v)
		}
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv(envEventSink, "kafka")
	t.Setenv(envEventLogCapacity, "lots")
	t.Setenv(envMaxParallel, "-3")

	cfg := Load()
	if cfg.EventSink != SinkNone {
		t.Fatalf("unknown sink should fall back to none, got %q", cfg.EventSink)
	}
	if cfg.EventLogCapacity != defaultEventLogCapacity || cfg.MaxParallel != 0 {
		t.Fatalf("invalid numbers should fall back: %+v", cfg)
	}
}

const scheduleYAML = `
jobs:
  - name: nightly-etl
    cron: "0 2 * * *"
    workflow: workflows/nightly.yaml
    metadata:
      team: data
  - name: hourly-report
    frequency: hourly
    workflow: /abs/report.yaml
    enabled: false
`

func TestLoadSchedule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.yaml")
	if err := os.WriteFile(path, []byte(scheduleYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sched, err := LoadSchedule(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sched.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(sched.Jobs))
	}
	nightly, report := sched.Jobs[0], sched.Jobs[1]
	if nightly.Workflow != filepath.Join(dir, "workflows/nightly.yaml") {
		t.Fatalf("relative workflow not resolved: %s", nightly.Workflow)
	}
	if !nightly.IsEnabled() || nightly.Metadata["team"] != "data" || nightly.Cron != "0 2 * * *" {
		t.Fatalf("unexpected nightly entry %+v", nightly)
	}
	if report.Workflow != "/abs/report.yaml" || report.IsEnabled() || report.Frequency != "hourly" {
		t.Fatalf("unexpected report entry %+v", report)
	}
}

func TestParseScheduleRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"no jobs key":    "schedules: []\n",
		"missing name":   "jobs:\n  - workflow: a.yaml\n",
		"bad frequency":  "jobs:\n  - name: a\n    workflow: a.yaml\n    frequency: monthly\n",
		"unknown field":  "jobs:\n  - name: a\n    workflow: a.yaml\n    retries: 3\n",
		"duplicate name": "jobs:\n  - name: a\n    workflow: a.yaml\n  - name: a\n    workflow: b.yaml\n",
		"not yaml":       "jobs: [\n",
	}
	for name, data := range cases {
		if _, err := ParseSchedule([]byte(data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadScheduleMissingFile(t *testing.T) {
	if _, err := LoadSchedule(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	_, err := LoadSchedule(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read schedule") {
		t.Fatalf("expected read error, got %v", err)
	}
}
