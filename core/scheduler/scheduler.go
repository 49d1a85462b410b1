package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cordum/jobcore/core/engine"
	"github.com/cordum/jobcore/core/infra/events"
	"github.com/cordum/jobcore/core/infra/logging"
	"github.com/cordum/jobcore/core/infra/metrics"
	"github.com/cordum/jobcore/core/infra/ring"
	"github.com/cordum/jobcore/core/model"
)

const component = "scheduler"

var (
	ErrDuplicateJob = errors.New("job already registered")
	ErrInvalidCron  = errors.New("invalid cron expression")
	ErrUnknownJob   = errors.New("unknown job")
	ErrInvalidJob   = errors.New("invalid job")
	// ErrDriverRunning is returned by Run when another driver loop owns the scheduler.
	ErrDriverRunning = errors.New("scheduler driver already running")
)

// Error is a registration or lookup failure for one job.
type Error struct {
	Job string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("scheduler: job %q: %v", e.Job, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Outcome records one execution of a scheduled job.
type Outcome struct {
	Job       string        `json:"job"`
	Success   bool          `json:"success"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// DurationSeconds returns Duration as fractional seconds.
func (o Outcome) DurationSeconds() float64 { return o.Duration.Seconds() }

// MarshalJSON encodes Duration as duration_seconds.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		plain
		DurationSeconds float64 `json:"duration_seconds"`
	}{plain(o), o.DurationSeconds()})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	type plain Outcome
	aux := struct {
		*plain
		DurationSeconds float64 `json:"duration_seconds"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.Duration = time.Duration(aux.DurationSeconds * float64(time.Second))
	return nil
}

type entry struct {
	job  *model.ScheduledJob
	cron *CronExpr
}

// Scheduler keeps a registry of cron-driven jobs. Tick marks jobs due and
// RunPending executes them; Run is the single owner of that cycle in a
// long-running process.
type Scheduler struct {
	engine.Lifecycle

	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	pending []string

	history *ring.Buffer[Outcome]
	events  *events.Log
	metrics metrics.SchedulerMetrics
	now     func() time.Time
	driving atomic.Bool
}

var _ engine.Engine = (*Scheduler)(nil)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHistoryCapacity bounds how many outcomes History retains.
func WithHistoryCapacity(n int) Option {
	return func(s *Scheduler) { s.history = ring.New[Outcome](n) }
}

// WithEventLog emits a ScheduledJobRun event for every outcome.
func WithEventLog(l *events.Log) Option {
	return func(s *Scheduler) { s.events = l }
}

// WithMetrics installs scheduler metrics.
func WithMetrics(m metrics.SchedulerMetrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the clock used by Run and for LastRun.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:    make(map[string]*entry),
		history: ring.New[Outcome](ring.DefaultCapacity),
		metrics: metrics.Noop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterOption adjusts a job at registration.
type RegisterOption func(*model.ScheduledJob)

// WithMetadata attaches metadata to the registered job.
func WithMetadata(md map[string]any) RegisterOption {
	return func(j *model.ScheduledJob) {
		if j.Metadata == nil {
			j.Metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			j.Metadata[k] = v
		}
	}
}

// ResolveCron returns the expression a frequency runs on. Once and cron use
// expr as given.
func ResolveCron(expr string, freq model.Frequency) (string, error) {
	switch freq {
	case model.FrequencyHourly:
		return HourlyCron, nil
	case model.FrequencyDaily:
		return DailyCron, nil
	case model.FrequencyWeekly:
		return WeeklyCron, nil
	case model.FrequencyOnce, model.FrequencyCron:
		return expr, nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidJob, freq)
}

// RegisterJob adds an enabled job. An empty frequency means cron.
func (s *Scheduler) RegisterJob(name, cronExpr string, fn model.JobFunc, freq model.Frequency, opts ...RegisterOption) (model.ScheduledJob, error) {
	if name == "" {
		return model.ScheduledJob{}, &Error{Job: name, Err: fmt.Errorf("%w: name required", ErrInvalidJob)}
	}
	if fn == nil {
		return model.ScheduledJob{}, &Error{Job: name, Err: fmt.Errorf("%w: callable required", ErrInvalidJob)}
	}
	if freq == "" {
		freq = model.FrequencyCron
	}
	expr, err := ResolveCron(cronExpr, freq)
	if err != nil {
		return model.ScheduledJob{}, &Error{Job: name, Err: err}
	}
	cron, err := ParseCron(expr)
	if err != nil {
		return model.ScheduledJob{}, &Error{Job: name, Err: err}
	}

	job := &model.ScheduledJob{
		Name:      name,
		CronExpr:  cron.String(),
		Func:      fn,
		Frequency: freq,
		Enabled:   true,
	}
	for _, opt := range opts {
		opt(job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return model.ScheduledJob{}, &Error{Job: name, Err: ErrDuplicateJob}
	}
	s.jobs[name] = &entry{job: job, cron: cron}
	s.order = append(s.order, name)
	logging.Info(component, "job registered", "job", name, "cron", job.CronExpr, "frequency", freq)
	return *job, nil
}

// Unregister removes a job and drops it from the pending set.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; !ok {
		return &Error{Job: name, Err: ErrUnknownJob}
	}
	delete(s.jobs, name)
	s.order = without(s.order, name)
	s.pending = without(s.pending, name)
	return nil
}

// Enable lets Tick consider the job again.
func (s *Scheduler) Enable(name string) error { return s.setEnabled(name, true) }

// Disable keeps the job registered but never due.
func (s *Scheduler) Disable(name string) error { return s.setEnabled(name, false) }

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return &Error{Job: name, Err: ErrUnknownJob}
	}
	e.job.Enabled = enabled
	return nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(name string) (model.ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return model.ScheduledJob{}, false
	}
	return *e.job, true
}

// Jobs returns snapshots of all jobs in registration order.
func (s *Scheduler) Jobs() []model.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledJob, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.jobs[name].job)
	}
	return out
}

// Pending returns the names currently marked due.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pending...)
}

// Tick marks every enabled job whose expression matches now as due and
// returns their names. Once-jobs fire only while RunCount is zero; a
// recurring job is not reported twice within the same calendar minute.
// Due jobs left over from a previous Tick that were never run are replaced.
func (s *Scheduler) Tick(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for _, name := range s.order {
		e := s.jobs[name]
		j := e.job
		if !j.Enabled {
			continue
		}
		if j.Frequency == model.FrequencyOnce && j.RunCount > 0 {
			continue
		}
		if !e.cron.Match(now) {
			continue
		}
		if sameMinute(j.LastRun, now) || sameMinute(j.LastDue, now) {
			continue
		}
		j.LastDue = now
		due = append(due, name)
	}

	// Jobs marked due earlier in this same minute stay pending; older
	// undrained entries are replaced.
	next := append([]string(nil), due...)
	var dropped []string
	for _, name := range difference(s.pending, due) {
		if e, ok := s.jobs[name]; ok && sameMinute(e.job.LastDue, now) {
			next = append(next, name)
			continue
		}
		dropped = append(dropped, name)
	}
	if len(dropped) > 0 {
		logging.Warn(component, "tick replaced undrained pending jobs", "dropped", dropped)
		s.metrics.IncPendingDropped(len(dropped))
	}
	s.pending = next
	s.metrics.IncTicks()
	for _, name := range due {
		s.metrics.IncJobsDue(name)
	}
	return append([]string(nil), due...)
}

// RunPending executes every due job concurrently and clears the pending set.
// The set is taken atomically, so overlapping calls never run a job twice.
// Outcomes are returned in due order.
func (s *Scheduler) RunPending(ctx context.Context) []Outcome {
	s.mu.Lock()
	due := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(due) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(due))
	var grp errgroup.Group
	for i, name := range due {
		grp.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("%w: job %q: %v", engine.ErrFault, name, r)
					outcomes[i] = Outcome{Job: name, StartedAt: s.now(), Error: err.Error()}
					s.Fail(err)
					logging.Error(component, "job fault", "job", name, "error", err)
				}
			}()
			out, err := s.run(ctx, name)
			if err != nil {
				out = Outcome{Job: name, StartedAt: s.now(), Error: err.Error()}
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = grp.Wait()
	return outcomes
}

// RunJob executes one job immediately, ignoring its schedule.
func (s *Scheduler) RunJob(ctx context.Context, name string) (Outcome, error) {
	return s.run(ctx, name)
}

func (s *Scheduler) run(ctx context.Context, name string) (Outcome, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	var fn model.JobFunc
	if ok {
		fn = e.job.Func
	}
	s.mu.Unlock()
	if !ok {
		return Outcome{}, &Error{Job: name, Err: ErrUnknownJob}
	}

	out := Outcome{Job: name, StartedAt: s.now()}
	start := time.Now()
	result, err := call(ctx, fn)
	out.Duration = time.Since(start)
	out.Success = err == nil
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Result = result
	}

	s.mu.Lock()
	runCount := 0
	if s.jobs[name] == e {
		e.job.LastRun = s.now()
		e.job.RunCount++
		runCount = e.job.RunCount
	}
	s.mu.Unlock()

	s.record(ctx, out, runCount)
	return out, nil
}

func call(ctx context.Context, fn model.JobFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) record(ctx context.Context, out Outcome, runCount int) {
	s.history.Add(out)
	status := "success"
	if !out.Success {
		status = "failure"
		logging.Warn(component, "job failed", "job", out.Job, "error", out.Error, "duration", out.Duration)
	} else {
		logging.Info(component, "job finished", "job", out.Job, "duration", out.Duration, "run_count", runCount)
	}
	s.metrics.IncJobRuns(out.Job, status)
	s.metrics.ObserveJobDuration(out.Job, out.DurationSeconds())
	if s.events != nil {
		_ = s.events.Emit(ctx, events.Event{
			Type:     events.ScheduledJobRun,
			Source:   events.SourceScheduler,
			Time:     out.StartedAt,
			Job:      out.Job,
			Success:  out.Success,
			Duration: out.Duration,
			Error:    out.Error,
			Data:     map[string]any{"run_count": runCount},
		})
	}
}

// History returns retained outcomes, oldest first.
func (s *Scheduler) History() []Outcome {
	return s.history.Snapshot()
}

// NextRun returns when the job is next due after now. Disabled jobs and
// once-jobs that already ran have no next run.
func (s *Scheduler) NextRun(name string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	if !ok || !e.job.Enabled || (e.job.Frequency == model.FrequencyOnce && e.job.RunCount > 0) {
		s.mu.Unlock()
		return time.Time{}, false
	}
	cron := e.cron
	s.mu.Unlock()
	return cron.Next(now)
}

// Run drives Tick then RunPending once immediately and again at every minute
// boundary until ctx is done or the scheduler is stopped. Only one Run may be
// active at a time.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.drive(ctx, minuteTicks(ctx))
}

func (s *Scheduler) drive(ctx context.Context, ticks <-chan time.Time) error {
	if !s.driving.CompareAndSwap(false, true) {
		return ErrDriverRunning
	}
	defer s.driving.Store(false)
	if s.Status() != engine.StatusRunning {
		_ = s.Start(ctx)
	}
	logging.Info(component, "driver loop started", "jobs", len(s.Jobs()))
	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.Info(component, "driver loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return ctx.Err()
			}
			if s.Status() == engine.StatusStopped {
				logging.Info(component, "driver loop stopped", "reason", "scheduler stopped")
				return nil
			}
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) []Outcome {
	if due := s.Tick(s.now()); len(due) > 0 {
		logging.Debug(component, "jobs due", "jobs", due)
	}
	return s.RunPending(ctx)
}

func minuteTicks(ctx context.Context) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		defer close(ch)
		for {
			now := time.Now()
			timer := time.NewTimer(now.Truncate(time.Minute).Add(time.Minute).Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case t := <-timer.C:
				select {
				case ch <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// Execute runs payload["job"] immediately and returns job, success,
// duration_seconds and either result or error.
func (s *Scheduler) Execute(ctx context.Context, payload map[string]any) (_ map[string]any, err error) {
	if err := s.Guard(); err != nil {
		return nil, err
	}
	defer s.Trap(&err)
	name, err := engine.PayloadValue[string](payload, "job")
	if err != nil {
		return nil, err
	}
	out, err := s.RunJob(ctx, name)
	if err != nil {
		return nil, err
	}
	res := map[string]any{
		"job":              out.Job,
		"success":          out.Success,
		"duration_seconds": out.DurationSeconds(),
	}
	if out.Success {
		res["result"] = out.Result
	} else {
		res["error"] = out.Error
	}
	return res, nil
}

func sameMinute(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

func without(names []string, drop string) []string {
	out := names[:0]
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}

// difference returns the members of a missing from b.
func difference(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(b))
	for _, n := range b {
		keep[n] = struct{}{}
	}
	var out []string
	for _, n := range a {
		if _, ok := keep[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
