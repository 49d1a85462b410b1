package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cordum/jobcore/core/engine"
	"github.com/cordum/jobcore/core/infra/events"
	"github.com/cordum/jobcore/core/infra/logging"
	"github.com/cordum/jobcore/core/infra/metrics"
	"github.com/cordum/jobcore/core/model"
)

const component = "workflow-engine"

// RunResult summarises one RunWorkflow call.
type RunResult struct {
	WorkflowID string               `json:"workflow_id"`
	Status     model.WorkflowStatus `json:"status"`
	Levels     [][]string           `json:"levels"`
	Completed  []string             `json:"completed,omitempty"`
	Failed     []string             `json:"failed,omitempty"`
	Skipped    []string             `json:"skipped,omitempty"`
	Duration   time.Duration        `json:"duration"`
}

// Engine runs workflows level by level. Jobs in one level run concurrently and
// the level is joined before its dependents are considered.
type Engine struct {
	engine.Lifecycle

	executor    Executor
	events      *events.Log
	metrics     metrics.WorkflowMetrics
	maxParallel int
	now         func() time.Time
}

var _ engine.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor replaces the default step executor.
func WithExecutor(ex Executor) Option {
	return func(e *Engine) {
		if ex != nil {
			e.executor = ex
		}
	}
}

// WithEventLog shares an event log (and its sinks) with the engine.
func WithEventLog(l *events.Log) Option {
	return func(e *Engine) {
		if l != nil {
			e.events = l
		}
	}
}

// WithMetrics installs workflow metrics.
func WithMetrics(m metrics.WorkflowMetrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithMaxParallel caps how many jobs of one level run at once; n <= 0 means no cap.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an engine with the default executor, a bounded event log
// and no-op metrics unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		executor: NewDefaultExecutor(nil),
		events:   events.NewLog(0),
		metrics:  metrics.Noop{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the engine's event log.
func (e *Engine) Events() *events.Log { return e.events }

// Plan returns the execution levels of wf without running anything.
func (e *Engine) Plan(wf *model.Workflow) ([][]string, error) {
	_, levels, err := plan(wf)
	return levels, err
}

// RunWorkflow executes wf. Only structural problems (unknown dependencies,
// cycles, jobs that are not pending) are returned as errors, and they are
// detected before any job runs. Step failures are recorded on the jobs.
func (e *Engine) RunWorkflow(ctx context.Context, wf *model.Workflow) (*RunResult, error) {
	g, levels, err := plan(wf)
	if err != nil {
		return nil, err
	}
	for _, j := range wf.Jobs {
		if j.Status != "" && j.Status != model.JobStatusPending {
			return nil, &Error{WorkflowID: wf.ID, Msg: fmt.Sprintf("job %q is %s, not pending", j.Name, j.Status)}
		}
	}

	start := e.now()
	wf.Status = model.WorkflowStatusRunning
	e.metrics.IncWorkflowStarted(wf.Name)
	e.emit(ctx, wf, events.Event{Type: events.WorkflowStarted, Success: true, Data: map[string]any{"jobs": len(wf.Jobs), "levels": len(levels)}})
	logging.Info(component, "workflow started", "workflow_id", wf.ID, "name", wf.Name, "jobs", len(wf.Jobs), "levels", len(levels))

	for i, level := range levels {
		var runnable []*model.Job
		for _, name := range level {
			if j := wf.Job(name); j.Status == model.JobStatusPending || j.Status == "" {
				runnable = append(runnable, j)
			}
		}
		logging.Debug(component, "level started", "workflow_id", wf.ID, "level", i, "jobs", len(runnable))

		var grp errgroup.Group
		if e.maxParallel > 0 {
			grp.SetLimit(e.maxParallel)
		}
		for _, job := range runnable {
			grp.Go(func() error {
				e.runJob(ctx, wf, job)
				return nil
			})
		}
		_ = grp.Wait()

		var failed []string
		for _, job := range runnable {
			if job.Status == model.JobStatusFailed {
				failed = append(failed, job.Name)
			}
		}
		for _, name := range g.downstream(failed) {
			e.skipJob(ctx, wf, wf.Job(name))
		}
	}

	res := &RunResult{WorkflowID: wf.ID, Levels: levels}
	for _, j := range wf.Jobs {
		switch j.Status {
		case model.JobStatusCompleted:
			res.Completed = append(res.Completed, j.Name)
		case model.JobStatusFailed:
			res.Failed = append(res.Failed, j.Name)
		case model.JobStatusSkipped:
			res.Skipped = append(res.Skipped, j.Name)
		}
	}
	if wf.HasFailures() {
		wf.Status = model.WorkflowStatusFailed
	} else {
		wf.Status = model.WorkflowStatusCompleted
	}
	res.Status = wf.Status
	res.Duration = e.now().Sub(start)

	e.metrics.IncWorkflowCompleted(wf.Name, string(wf.Status))
	e.metrics.ObserveWorkflowDuration(wf.Name, res.Duration.Seconds())
	e.emit(ctx, wf, events.Event{
		Type:     events.WorkflowCompleted,
		Success:  wf.Status == model.WorkflowStatusCompleted,
		Duration: res.Duration,
		Data:     map[string]any{"completed": len(res.Completed), "failed": len(res.Failed), "skipped": len(res.Skipped)},
	})
	logging.Info(component, "workflow finished", "workflow_id", wf.ID, "status", wf.Status,
		"completed", len(res.Completed), "failed", len(res.Failed), "skipped", len(res.Skipped), "duration", res.Duration)
	return res, nil
}

// runJob executes the job's steps in order; the first failure fails the job
// and the remaining steps are not run.
func (e *Engine) runJob(ctx context.Context, wf *model.Workflow, job *model.Job) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("%w: job %q: %v", engine.ErrFault, job.Name, r)
		if job.Status == model.JobStatusRunning {
			job.Error = err.Error()
			_ = job.Transition(model.JobStatusFailed)
		}
		e.Fail(err)
		logging.Error(component, "job fault", "workflow_id", wf.ID, "job", job.Name, "error", err)
	}()
	_ = job.Transition(model.JobStatusRunning)
	job.StartedAt = e.now()

	var failure *JobExecutionError
	for _, step := range job.Steps {
		out, err := e.executeStep(ctx, step)
		if err != nil {
			failure = &JobExecutionError{JobID: job.ID, Job: job.Name, Step: step.Name, Err: err}
			break
		}
		job.Outputs = append(job.Outputs, out)
	}

	job.FinishedAt = e.now()
	if failure != nil {
		job.Error = failure.Error()
		_ = job.Transition(model.JobStatusFailed)
		e.emit(ctx, wf, events.Event{Type: events.StepFailed, Job: job.Name, Step: failure.Step, Error: failure.Err.Error()})
		logging.Warn(component, "job failed", "workflow_id", wf.ID, "job", job.Name, "step", failure.Step, "error", failure.Err)
	} else {
		_ = job.Transition(model.JobStatusCompleted)
	}
	e.metrics.IncJobsCompleted(wf.Name, string(job.Status))
	e.emit(ctx, wf, events.Event{
		Type:     events.JobCompleted,
		Job:      job.Name,
		Success:  failure == nil,
		Duration: job.Duration(),
		Error:    job.Error,
	})
}

func (e *Engine) executeStep(ctx context.Context, step model.Step) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return e.executor.Execute(ctx, step)
}

func (e *Engine) skipJob(ctx context.Context, wf *model.Workflow, job *model.Job) {
	if job == nil || job.Transition(model.JobStatusSkipped) != nil {
		return
	}
	e.metrics.IncJobsCompleted(wf.Name, string(model.JobStatusSkipped))
	e.emit(ctx, wf, events.Event{Type: events.JobSkipped, Job: job.Name})
	logging.Info(component, "job skipped", "workflow_id", wf.ID, "job", job.Name)
}

func (e *Engine) emit(ctx context.Context, wf *model.Workflow, ev events.Event) {
	ev.Source = events.SourceWorkflow
	ev.WorkflowID = wf.ID
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	_ = e.events.Emit(ctx, ev)
}

// Execute runs payload["workflow"] (a *model.Workflow) and returns
// workflow_id, status and result.
func (e *Engine) Execute(ctx context.Context, payload map[string]any) (_ map[string]any, err error) {
	if err := e.Guard(); err != nil {
		return nil, err
	}
	defer e.Trap(&err)
	wf, err := engine.PayloadValue[*model.Workflow](payload, "workflow")
	if err != nil {
		return nil, err
	}
	res, err := e.RunWorkflow(ctx, wf)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"workflow_id": wf.ID,
		"status":      string(wf.Status),
		"result":      res,
	}, nil
}
