package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cordum/jobcore/core/infra/secrets"
	"github.com/cordum/jobcore/core/model"
)

// Executor runs a single step and returns its result map.
type Executor interface {
	Execute(ctx context.Context, step model.Step) (map[string]any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, step model.Step) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, step model.Step) (map[string]any, error) {
	return f(ctx, step)
}

// StepRunner executes steps of one type.
type StepRunner interface {
	Run(ctx context.Context, step model.Step) (map[string]any, error)
}

// ErrStepTimeout is wrapped by runners when a step exceeds its timeout.
var ErrStepTimeout = errors.New("step timed out")

// DefaultExecutor routes each step to the runner registered for its type.
type DefaultExecutor struct {
	mu      sync.RWMutex
	runners map[model.StepType]StepRunner
}

// NewDefaultExecutor registers the shell, python and http runners. vars are
// visible to python expressions alongside each step's env.
func NewDefaultExecutor(vars map[string]any) *DefaultExecutor {
	return &DefaultExecutor{runners: map[model.StepType]StepRunner{
		model.StepTypeShell:  ShellRunner{},
		model.StepTypePython: ExprRunner{Vars: vars},
		model.StepTypeHTTP:   HTTPRunner{},
	}}
}

// Register installs or replaces the runner for typ.
func (e *DefaultExecutor) Register(typ model.StepType, r StepRunner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners[typ] = r
}

func (e *DefaultExecutor) Execute(ctx context.Context, step model.Step) (map[string]any, error) {
	e.mu.RLock()
	r, ok := e.runners[step.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no runner for step type %q", step.Type)
	}
	return r.Run(ctx, step)
}

// ShellRunner runs the command with "sh -c", killing it when the step
// timeout elapses. A non-zero exit status fails the step. Env values of the
// form secret://NAME are read from Lookup (the process environment when nil)
// and masked in the captured output.
type ShellRunner struct {
	Lookup secrets.LookupFunc
}

func (r ShellRunner) Run(ctx context.Context, step model.Step) (map[string]any, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env, secretValues, err := secrets.Resolve(step.Env, lookup)
	if err != nil {
		return nil, err
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = model.DefaultStepTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- commands come from the workflow author.
	cmd := exec.CommandContext(cctx, "sh", "-c", step.Command)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// children holding the pipes open must not outlive the timeout.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	errText := secrets.MaskString(stderr.String(), secretValues)
	out := map[string]any{
		"stdout":    secrets.MaskString(stdout.String(), secretValues),
		"stderr":    errText,
		"exit_code": exitCode,
	}
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return out, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
		}
		if msg := strings.TrimSpace(errText); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// ExprRunner evaluates the command as a restricted expression (see Eval)
// against Vars overlaid with the step env. The env is also reachable as "env".
type ExprRunner struct {
	Vars map[string]any
}

func (r ExprRunner) Run(_ context.Context, step model.Step) (map[string]any, error) {
	scope := make(map[string]any, len(r.Vars)+len(step.Env)+1)
	for k, v := range r.Vars {
		scope[k] = v
	}
	env := make(map[string]any, len(step.Env))
	for k, v := range step.Env {
		scope[k] = v
		env[k] = v
	}
	scope["env"] = env
	val, err := Eval(step.Command, scope)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": val}, nil
}

// HTTPRunner is a placeholder; it returns a marker result without making a request.
type HTTPRunner struct{}

func (HTTPRunner) Run(_ context.Context, step model.Step) (map[string]any, error) {
	return map[string]any{"status": "not_implemented", "url": step.Command}, nil
}
