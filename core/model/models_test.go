package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewStepValidation(t *testing.T) {
	cases := []struct {
		name    string
		step    string
		typ     StepType
		command string
		timeout time.Duration
		wantErr bool
	}{
		{"ok", "build", StepTypeShell, "make", time.Second, false},
		{"default timeout", "build", StepTypeShell, "make", 0, false},
		{"empty name", " ", StepTypeShell, "make", time.Second, true},
		{"empty command", "build", StepTypeShell, "  ", time.Second, true},
		{"negative timeout", "build", StepTypeShell, "make", -time.Second, true},
		{"unknown type", "build", StepType("ruby"), "make", time.Second, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewStep(tc.step, tc.typ, tc.command, tc.timeout, nil)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidStep) {
					t.Fatalf("expected ErrInvalidStep, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.timeout == 0 && s.Timeout != DefaultStepTimeout {
				t.Fatalf("expected default timeout, got %s", s.Timeout)
			}
		})
	}
}

func TestNewStepCopiesEnv(t *testing.T) {
	env := map[string]string{"A": "1"}
	s, err := NewStep("s", StepTypeShell, "true", 0, env)
	if err != nil {
		t.Fatalf("new step: %v", err)
	}
	env["A"] = "2"
	if s.Env["A"] != "1" {
		t.Fatalf("step env changed with caller map: %v", s.Env)
	}
}

func TestJobTransitions(t *testing.T) {
	j := NewJob("a", nil)
	if j.ID == "" || j.Status != JobStatusPending {
		t.Fatalf("unexpected new job: %+v", j)
	}
	if err := j.Transition(JobStatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed should fail, got %v", err)
	}
	if err := j.Transition(JobStatusRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if err := j.Transition(JobStatusFailed); err != nil {
		t.Fatalf("running -> failed: %v", err)
	}
	for _, next := range []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusSkipped} {
		if err := j.Transition(next); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("terminal failed -> %s should be rejected, got %v", next, err)
		}
	}
	if j.Status != JobStatusFailed {
		t.Fatalf("terminal status reverted to %s", j.Status)
	}

	skipped := NewJob("b", nil)
	if err := skipped.Transition(JobStatusSkipped); err != nil {
		t.Fatalf("pending -> skipped: %v", err)
	}
	if err := skipped.Transition(JobStatusRunning); err == nil {
		t.Fatalf("skipped job must not run")
	}
}

func TestWorkflowPredicates(t *testing.T) {
	a := NewJob("a", nil)
	b := NewJob("b", nil, "a")
	wf := NewWorkflow("wf", a, b)
	if wf.AllCompleted() || wf.HasFailures() {
		t.Fatalf("fresh workflow should be neither complete nor failed")
	}
	a.Status = JobStatusCompleted
	b.Status = JobStatusSkipped
	if !wf.AllCompleted() {
		t.Fatalf("expected all terminal")
	}
	if wf.HasFailures() {
		t.Fatalf("skipped job must not count as failure")
	}
	b.Status = JobStatusFailed
	if !wf.HasFailures() {
		t.Fatalf("expected failure")
	}
	if wf.Job("b") != b || wf.Job("missing") != nil {
		t.Fatalf("job lookup mismatch")
	}
}

func TestWorkflowValidateDuplicateNames(t *testing.T) {
	wf := NewWorkflow("wf", NewJob("a", nil), NewJob("a", nil))
	if err := wf.Validate(); !errors.Is(err, ErrDuplicateJobName) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestPipelineTransforms(t *testing.T) {
	p := NewETLPipeline("src", "dst", nil, nil)
	p.AddTransform("upper", nil).AddTransform("dedupe", nil)
	if len(p.TransformFns) != 2 || p.TransformName(1) != "dedupe" || p.TransformName(5) != "" {
		t.Fatalf("unexpected transforms: %v", p.Transforms)
	}
	if p.Status != PipelineStatusPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}
}

func TestFrequency(t *testing.T) {
	if !FrequencyCron.Valid() || Frequency("monthly").Valid() {
		t.Fatalf("frequency validity mismatch")
	}
	if FrequencyOnce.Recurring() || !FrequencyDaily.Recurring() {
		t.Fatalf("recurrence mismatch")
	}
}
