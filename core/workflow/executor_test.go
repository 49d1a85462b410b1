package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cordum/jobcore/core/infra/secrets"
	"github.com/cordum/jobcore/core/model"
)

func newStep(t *testing.T, typ model.StepType, command string, timeout time.Duration, env map[string]string) model.Step {
	t.Helper()
	s, err := model.NewStep("s", typ, command, timeout, env)
	if err != nil {
		t.Fatalf("new step: %v", err)
	}
	return s
}

func TestShellRunnerCapturesOutputAndEnv(t *testing.T) {
	ex := NewDefaultExecutor(nil)
	out, err := ex.Execute(context.Background(), newStep(t, model.StepTypeShell, `echo "hello $TARGET"`, 0, map[string]string{"TARGET": "world"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out["stdout"].(string)) != "hello world" || out["exit_code"] != 0 {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestShellRunnerResolvesAndMasksSecrets(t *testing.T) {
	runner := ShellRunner{Lookup: func(name string) (string, bool) {
		if name == "DB_PASSWORD" {
			return "hunter2", true
		}
		return "", false
	}}
	step := newStep(t, model.StepTypeShell, `echo "pw=$PW"; echo "$PW" >&2`, 0, map[string]string{"PW": "secret://DB_PASSWORD"})
	out, err := runner.Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(out["stdout"].(string)); got != "pw=<redacted>" {
		t.Fatalf("secret leaked into stdout: %q", got)
	}
	if strings.Contains(out["stderr"].(string), "hunter2") {
		t.Fatalf("secret leaked into stderr")
	}

	missing := newStep(t, model.StepTypeShell, "true", 0, map[string]string{"PW": "secret://UNKNOWN"})
	if _, err := runner.Run(context.Background(), missing); !errors.Is(err, secrets.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestShellRunnerNonZeroExit(t *testing.T) {
	ex := NewDefaultExecutor(nil)
	out, err := ex.Execute(context.Background(), newStep(t, model.StepTypeShell, "echo nope >&2; exit 3", 0, nil))
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected failure carrying stderr, got %v", err)
	}
	if out["exit_code"] != 3 {
		t.Fatalf("expected exit code 3, got %v", out["exit_code"])
	}
}

func TestShellRunnerTimeout(t *testing.T) {
	ex := NewDefaultExecutor(nil)
	start := time.Now()
	_, err := ex.Execute(context.Background(), newStep(t, model.StepTypeShell, "sleep 5", 100*time.Millisecond, nil))
	if !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced promptly")
	}
}

func TestShellTimeoutFailsOnlyOwningJob(t *testing.T) {
	slow, _ := model.NewStep("slow", model.StepTypeShell, "sleep 5", 100*time.Millisecond, nil)
	quick, _ := model.NewStep("quick", model.StepTypeShell, "true", 0, nil)
	wf := model.NewWorkflow("timeouts",
		model.NewJob("slow", []model.Step{slow}),
		model.NewJob("quick", []model.Step{quick}),
	)
	if _, err := NewEngine().RunWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("run: %v", err)
	}
	if wf.Job("slow").Status != model.JobStatusFailed || wf.Job("quick").Status != model.JobStatusCompleted {
		t.Fatalf("unexpected statuses: slow=%s quick=%s", wf.Job("slow").Status, wf.Job("quick").Status)
	}
	if !strings.Contains(wf.Job("slow").Error, "timed out") {
		t.Fatalf("expected timeout error text, got %q", wf.Job("slow").Error)
	}
}

func TestExprRunner(t *testing.T) {
	ex := NewDefaultExecutor(map[string]any{"region": "eu", "limits": map[string]any{"rows": 10}})
	out, err := ex.Execute(context.Background(), newStep(t, model.StepTypePython, "region == 'eu' and limits.rows > 5 and env.MODE == 'full'", 0, map[string]string{"MODE": "full"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["result"] != true {
		t.Fatalf("expected true, got %v", out["result"])
	}
	if _, err := ex.Execute(context.Background(), newStep(t, model.StepTypePython, "__import__('os')", 0, nil)); !errors.Is(err, ErrExpression) {
		t.Fatalf("expected expression error, got %v", err)
	}
}

func TestHTTPRunnerStub(t *testing.T) {
	out, err := NewDefaultExecutor(nil).Execute(context.Background(), newStep(t, model.StepTypeHTTP, "https://example.invalid/hook", 0, nil))
	if err != nil || out["status"] != "not_implemented" {
		t.Fatalf("unexpected stub result %v %v", out, err)
	}
}

type constRunner map[string]any

func (c constRunner) Run(context.Context, model.Step) (map[string]any, error) { return c, nil }

func TestDefaultExecutorRegister(t *testing.T) {
	ex := NewDefaultExecutor(nil)
	if _, err := ex.Execute(context.Background(), model.Step{Name: "x", Type: "grpc", Command: "c", Timeout: time.Second}); err == nil {
		t.Fatalf("expected error for unregistered type")
	}
	ex.Register(model.StepTypeHTTP, constRunner{"status": 200})
	out, err := ex.Execute(context.Background(), newStep(t, model.StepTypeHTTP, "https://example.invalid", 0, nil))
	if err != nil || out["status"] != 200 {
		t.Fatalf("expected replaced runner, got %v %v", out, err)
	}
}
