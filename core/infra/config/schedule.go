package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cordum/jobcore/core/infra/schema"
)

//go:embed schema/schedule.schema.json
var scheduleSchemaJSON []byte

var scheduleSchema = schema.MustCompile("schedule.schema.json", scheduleSchemaJSON)

// ScheduleEntry binds a workflow definition file to a cron schedule.
type ScheduleEntry struct {
	Name      string            `yaml:"name"`
	Cron      string            `yaml:"cron,omitempty"`
	Frequency string            `yaml:"frequency,omitempty"`
	Workflow  string            `yaml:"workflow"`
	Enabled   *bool             `yaml:"enabled,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
}

// IsEnabled defaults to true when the entry does not say otherwise.
func (e ScheduleEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Schedule lists the workflows the daemon runs on a timer.
type Schedule struct {
	Jobs []ScheduleEntry `yaml:"jobs"`
}

// ParseSchedule parses schedule data from YAML/JSON bytes. Relative workflow
// paths are kept as written.
func ParseSchedule(data []byte) (*Schedule, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("schedule is empty")
	}
	if err := scheduleSchema.ValidateYAML(data); err != nil {
		return nil, fmt.Errorf("validate schedule: %w", err)
	}
	var sched Schedule
	if err := yaml.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	seen := map[string]struct{}{}
	for _, entry := range sched.Jobs {
		if _, dup := seen[entry.Name]; dup {
			return nil, fmt.Errorf("schedule: duplicate job %q", entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}
	return &sched, nil
}

// LoadSchedule reads a schedule file and resolves workflow paths relative to
// the file's directory.
func LoadSchedule(path string) (*Schedule, error) {
	if path == "" {
		return nil, errors.New("schedule path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	sched, err := ParseSchedule(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i := range sched.Jobs {
		if !filepath.IsAbs(sched.Jobs[i].Workflow) {
			sched.Jobs[i].Workflow = filepath.Join(dir, sched.Jobs[i].Workflow)
		}
	}
	return sched, nil
}
