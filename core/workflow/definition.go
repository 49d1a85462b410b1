package workflow

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cordum/jobcore/core/infra/schema"
	"github.com/cordum/jobcore/core/model"
)

//go:embed schema/workflow.schema.json
var workflowSchemaJSON []byte

var workflowSchema = schema.MustCompile("workflow.schema.json", workflowSchemaJSON)

// Definition is the declarative (YAML or JSON) form of a workflow. Build
// turns it into a fresh, runnable *model.Workflow.
type Definition struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Jobs        []JobDefinition `yaml:"jobs" json:"jobs"`
}

// JobDefinition declares one job.
type JobDefinition struct {
	Name      string           `yaml:"name" json:"name"`
	DependsOn []string         `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Steps     []StepDefinition `yaml:"steps" json:"steps"`
}

// StepDefinition declares one step. Timeout is a Go duration string or a
// number of seconds; empty selects the default.
type StepDefinition struct {
	Name    string            `yaml:"name" json:"name"`
	Type    string            `yaml:"type" json:"type"`
	Command string            `yaml:"command" json:"command"`
	Timeout Timeout           `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Timeout holds the raw scalar so both "30s" and 30 decode.
type Timeout string

func (t *Timeout) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("timeout must be a scalar")
	}
	*t = Timeout(node.Value)
	return nil
}

// ParseDefinition validates data against the workflow schema and decodes it.
func ParseDefinition(data []byte) (*Definition, error) {
	if err := workflowSchema.ValidateYAML(data); err != nil {
		return nil, fmt.Errorf("workflow definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	return &def, nil
}

// LoadDefinition reads and parses a definition file.
func LoadDefinition(path string) (*Definition, error) {
	// #nosec G304 -- definition paths are operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	return ParseDefinition(data)
}

// Build creates a new workflow instance with fresh IDs and pending statuses.
// Dependency references are checked when the workflow runs.
func (d *Definition) Build() (*model.Workflow, error) {
	jobs := make([]*model.Job, 0, len(d.Jobs))
	for _, jd := range d.Jobs {
		steps := make([]model.Step, 0, len(jd.Steps))
		for _, sd := range jd.Steps {
			timeout, err := parseTimeout(string(sd.Timeout))
			if err != nil {
				return nil, fmt.Errorf("job %q step %q: %w", jd.Name, sd.Name, err)
			}
			step, err := model.NewStep(sd.Name, model.StepType(sd.Type), sd.Command, timeout, sd.Env)
			if err != nil {
				return nil, fmt.Errorf("job %q: %w", jd.Name, err)
			}
			steps = append(steps, step)
		}
		jobs = append(jobs, model.NewJob(jd.Name, steps, jd.DependsOn...))
	}
	wf := model.NewWorkflow(d.Name, jobs...)
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("timeout must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}
