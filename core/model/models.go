package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultStepTimeout applies when a step is constructed without a timeout.
const DefaultStepTimeout = 60 * time.Second

var (
	// ErrInvalidStep is returned by NewStep for malformed steps.
	ErrInvalidStep = errors.New("invalid step")
	// ErrInvalidTransition is returned when a job status change violates the lifecycle.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrDuplicateJobName is returned when a workflow holds two jobs with one name.
	ErrDuplicateJobName = errors.New("duplicate job name")
)

// StepType identifies how a step is executed.
type StepType string

const (
	StepTypeShell  StepType = "shell"
	StepTypePython StepType = "python"
	StepTypeHTTP   StepType = "http"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeShell, StepTypePython, StepTypeHTTP:
		return true
	}
	return false
}

// JobStatus captures the lifecycle of a job inside a workflow run.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusSkipped
}

// WorkflowStatus captures the lifecycle of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// Step is a single unit of work inside a job. Steps are values; Env is copied
// on construction so a built step is not affected by later caller mutation.
type Step struct {
	Name    string            `json:"name" yaml:"name"`
	Type    StepType          `json:"type" yaml:"type"`
	Command string            `json:"command" yaml:"command"`
	Timeout time.Duration     `json:"timeout" yaml:"timeout"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// NewStep validates and builds a step. A zero timeout selects DefaultStepTimeout.
func NewStep(name string, typ StepType, command string, timeout time.Duration, env map[string]string) (Step, error) {
	if timeout == 0 {
		timeout = DefaultStepTimeout
	}
	s := Step{
		Name:    strings.TrimSpace(name),
		Type:    typ,
		Command: command,
		Timeout: timeout,
	}
	if len(env) > 0 {
		s.Env = make(map[string]string, len(env))
		for k, v := range env {
			s.Env[k] = v
		}
	}
	if err := s.Validate(); err != nil {
		return Step{}, err
	}
	return s, nil
}

// Validate checks the step invariants.
func (s Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidStep)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("%w: step %q: command required", ErrInvalidStep, s.Name)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: step %q: timeout must be positive", ErrInvalidStep, s.Name)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: step %q: unknown type %q", ErrInvalidStep, s.Name, s.Type)
	}
	return nil
}

// Job is a named, ordered sequence of steps with name-based dependencies.
type Job struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	DependsOn  []string         `json:"depends_on,omitempty"`
	Steps      []Step           `json:"steps"`
	Status     JobStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	Outputs    []map[string]any `json:"outputs,omitempty"`
	StartedAt  time.Time        `json:"started_at,omitempty"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
}

// NewJob builds a pending job with a fresh ID.
func NewJob(name string, steps []Step, dependsOn ...string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Name:      name,
		DependsOn: append([]string(nil), dependsOn...),
		Steps:     append([]Step(nil), steps...),
		Status:    JobStatusPending,
	}
}

// Transition moves the job to next, enforcing
// pending -> running -> {completed, failed} and pending -> skipped.
func (j *Job) Transition(next JobStatus) error {
	cur := j.Status
	if cur == "" {
		cur = JobStatusPending
	}
	ok := false
	switch cur {
	case JobStatusPending:
		ok = next == JobStatusRunning || next == JobStatusSkipped
	case JobStatusRunning:
		ok = next == JobStatusCompleted || next == JobStatusFailed
	}
	if !ok {
		return fmt.Errorf("%w: job %q %s -> %s", ErrInvalidTransition, j.Name, cur, next)
	}
	j.Status = next
	return nil
}

// Duration returns how long the job ran, or zero if it never started/finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Workflow is a set of jobs linked by dependencies.
type Workflow struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Jobs   []*Job         `json:"jobs"`
	Status WorkflowStatus `json:"status"`
}

// NewWorkflow builds a pending workflow with a fresh ID.
func NewWorkflow(name string, jobs ...*Job) *Workflow {
	return &Workflow{
		ID:     uuid.NewString(),
		Name:   name,
		Jobs:   jobs,
		Status: WorkflowStatusPending,
	}
}

// Job looks up a job by name.
func (w *Workflow) Job(name string) *Job {
	for _, j := range w.Jobs {
		if j != nil && j.Name == name {
			return j
		}
	}
	return nil
}

// Validate checks that job names are present and unique.
func (w *Workflow) Validate() error {
	seen := make(map[string]struct{}, len(w.Jobs))
	for i, j := range w.Jobs {
		if j == nil {
			return fmt.Errorf("job %d is nil", i)
		}
		if j.Name == "" {
			return fmt.Errorf("job %d: name required", i)
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateJobName, j.Name)
		}
		seen[j.Name] = struct{}{}
	}
	return nil
}

// HasFailures reports whether any job failed. Skipped jobs do not count.
func (w *Workflow) HasFailures() bool {
	for _, j := range w.Jobs {
		if j.Status == JobStatusFailed {
			return true
		}
	}
	return false
}

// AllCompleted reports whether every job reached a terminal status.
func (w *Workflow) AllCompleted() bool {
	for _, j := range w.Jobs {
		if !j.Status.Terminal() {
			return false
		}
	}
	return true
}
