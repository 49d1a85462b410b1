// Package jobd wires the workflow, ETL and scheduler engines into a
// long-running daemon.
package jobd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordum/jobcore/core/engine"
	"github.com/cordum/jobcore/core/etl"
	"github.com/cordum/jobcore/core/infra/bus"
	"github.com/cordum/jobcore/core/infra/config"
	"github.com/cordum/jobcore/core/infra/events"
	"github.com/cordum/jobcore/core/infra/locks"
	"github.com/cordum/jobcore/core/infra/logging"
	"github.com/cordum/jobcore/core/infra/metrics"
	"github.com/cordum/jobcore/core/model"
	"github.com/cordum/jobcore/core/scheduler"
	"github.com/cordum/jobcore/core/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	component              = "jobd"
	metricsNamespace       = "jobcore"
	driverLockResource     = "scheduler:driver"
	driverLockTTL          = 30 * time.Second
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 3 * time.Second
)

// Daemon owns the engines and the sinks they share.
type Daemon struct {
	cfg       *config.Config
	events    *events.Log
	workflows *workflow.Engine
	pipelines *etl.Engine
	scheduler *scheduler.Scheduler
	closers   []func()
}

// New builds a daemon from cfg. Metrics are registered on reg, or the
// default registry when reg is nil.
func New(cfg *config.Config, reg prometheus.Registerer) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	d := &Daemon{cfg: cfg, events: events.NewLog(cfg.EventLogCapacity)}
	if err := d.attachSink(); err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(cfg.ExprVars))
	for k, v := range cfg.ExprVars {
		vars[k] = v
	}
	d.workflows = workflow.NewEngine(
		workflow.WithExecutor(workflow.NewDefaultExecutor(vars)),
		workflow.WithEventLog(d.events),
		workflow.WithMetrics(metrics.NewWorkflowProm(reg, metricsNamespace)),
		workflow.WithMaxParallel(cfg.MaxParallel),
	)
	d.pipelines = etl.NewEngine(
		etl.WithEventLog(d.events),
		etl.WithMetrics(metrics.NewETLProm(reg, metricsNamespace)),
	)
	d.scheduler = scheduler.New(
		scheduler.WithEventLog(d.events),
		scheduler.WithMetrics(metrics.NewSchedulerProm(reg, metricsNamespace)),
		scheduler.WithHistoryCapacity(cfg.HistoryCapacity),
	)
	return d, nil
}

func (d *Daemon) attachSink() error {
	switch d.cfg.EventSink {
	case config.SinkRedis:
		sink, err := events.NewRedisSink(d.cfg.RedisURL, int64(d.cfg.EventLogCapacity))
		if err != nil {
			return fmt.Errorf("connect redis event sink: %w", err)
		}
		d.events.AddSink(sink)
		d.closers = append(d.closers, func() { _ = sink.Close() })
	case config.SinkNATS:
		natsBus, err := bus.NewNatsBus(d.cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		d.events.AddSink(events.NewNatsSink(natsBus, ""))
		d.closers = append(d.closers, natsBus.Close)
	}
	return nil
}

// Workflows returns the workflow engine.
func (d *Daemon) Workflows() *workflow.Engine { return d.workflows }

// Pipelines returns the ETL engine.
func (d *Daemon) Pipelines() *etl.Engine { return d.pipelines }

// Scheduler returns the scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// Events returns the shared event log.
func (d *Daemon) Events() *events.Log { return d.events }

// Close releases sink connections.
func (d *Daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// LoadSchedule registers every enabled entry of sched as a scheduled job.
// Disabled entries are registered and left disabled.
func (d *Daemon) LoadSchedule(sched *config.Schedule) error {
	if sched == nil {
		return nil
	}
	for _, entry := range sched.Jobs {
		def, err := workflow.LoadDefinition(entry.Workflow)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", entry.Name, err)
		}
		md := map[string]any{"workflow": def.Name, "definition": entry.Workflow}
		for k, v := range entry.Metadata {
			md[k] = v
		}
		if _, err := d.scheduler.RegisterJob(entry.Name, entry.Cron, d.workflowJob(def),
			model.Frequency(entry.Frequency), scheduler.WithMetadata(md)); err != nil {
			return err
		}
		if !entry.IsEnabled() {
			if err := d.scheduler.Disable(entry.Name); err != nil {
				return err
			}
		}
		logging.Info(component, "scheduled workflow", "job", entry.Name, "workflow", def.Name, "enabled", entry.IsEnabled())
	}
	return nil
}

// workflowJob builds a fresh workflow instance from def on every run.
func (d *Daemon) workflowJob(def *workflow.Definition) model.JobFunc {
	return func(ctx context.Context) (any, error) {
		wf, err := def.Build()
		if err != nil {
			return nil, err
		}
		res, err := d.workflows.RunWorkflow(ctx, wf)
		if err != nil {
			return nil, err
		}
		if res.Status == model.WorkflowStatusFailed {
			return res, fmt.Errorf("workflow %s failed: %v", def.Name, res.Failed)
		}
		return res, nil
	}
}

// Start starts every engine.
func (d *Daemon) Start(ctx context.Context) error {
	for _, e := range d.engines() {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every engine.
func (d *Daemon) Stop(ctx context.Context) error {
	var errs []error
	for _, e := range d.engines() {
		errs = append(errs, e.Stop(ctx))
	}
	return errors.Join(errs...)
}

func (d *Daemon) engines() []engine.Engine {
	return []engine.Engine{d.workflows, d.pipelines, d.scheduler}
}

type jobStatus struct {
	Name      string     `json:"name"`
	Cron      string     `json:"cron"`
	Enabled   bool       `json:"enabled"`
	RunCount  int        `json:"run_count"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Frequency string     `json:"frequency"`
}

type statusResponse struct {
	Engines map[string]engine.Status `json:"engines"`
	Jobs    []jobStatus              `json:"jobs"`
	Dropped uint64                   `json:"events_dropped"`
}

// Handler serves /health, /status and /metrics.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		for name, st := range d.status(time.Now()).Engines {
			if st == engine.StatusError {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(name + " error"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.status(time.Now()))
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (d *Daemon) status(now time.Time) statusResponse {
	resp := statusResponse{
		Engines: map[string]engine.Status{
			"workflow":  d.workflows.Status(),
			"etl":       d.pipelines.Status(),
			"scheduler": d.scheduler.Status(),
		},
		Dropped: d.events.Dropped(),
	}
	for _, j := range d.scheduler.Jobs() {
		st := jobStatus{
			Name:      j.Name,
			Cron:      j.CronExpr,
			Enabled:   j.Enabled,
			RunCount:  j.RunCount,
			Frequency: string(j.Frequency),
		}
		if !j.LastRun.IsZero() {
			last := j.LastRun
			st.LastRun = &last
		}
		if next, ok := d.scheduler.NextRun(j.Name, now); ok {
			st.NextRun = &next
		}
		resp.Jobs = append(resp.Jobs, st)
	}
	return resp
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Load()
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Serve(ctx, cfg)
}

// Serve runs the daemon until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config) error {
	d, err := New(cfg, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	sched, err := config.LoadSchedule(cfg.SchedulePath)
	switch {
	case err == nil:
		if err := d.LoadSchedule(sched); err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
		logging.Warn(component, "schedule file not found; running without scheduled jobs", "path", cfg.SchedulePath)
	default:
		return err
	}

	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.MetricsAddr, err)
	}
	return d.serve(ctx, ln)
}

// serve runs the engines, the HTTP server on ln and the scheduler driver until
// ctx is done. A driver failure marks the scheduler as errored and leaves the
// HTTP server up so /health reports it; the failure is returned on shutdown.
func (d *Daemon) serve(ctx context.Context, ln net.Listener) error {
	if err := d.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	srv := startHTTPServer(ln, d.Handler())
	logging.Info(component, "started", "http", ln.Addr().String(), "event_sink", d.cfg.EventSink, "jobs", len(d.scheduler.Jobs()))

	driverDone := make(chan error, 1)
	go func() { driverDone <- d.runDriver(ctx) }()

	var driverErr error
	driverExited := false
	select {
	case <-ctx.Done():
	case driverErr = <-driverDone:
		driverExited = true
		if driverErr != nil && ctx.Err() == nil {
			d.scheduler.Fail(driverErr)
			logging.Error(component, "scheduler driver exited; serving until shutdown", "error", driverErr)
			<-ctx.Done()
		} else {
			driverErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if !driverExited {
		select {
		case <-driverDone:
		case <-shutdownCtx.Done():
			logging.Warn(component, "scheduler driver did not exit before shutdown timeout")
		}
	}
	_ = d.Stop(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)

	logging.Info(component, "stopped")
	return driverErr
}

// runDriver runs the scheduler loop, behind a Redis lease when replicas
// share a schedule.
func (d *Daemon) runDriver(ctx context.Context) error {
	if !d.cfg.DriverLock {
		return d.scheduler.Run(ctx)
	}
	store, err := locks.NewRedisStore(d.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis lock store: %w", err)
	}
	defer store.Close()
	return locks.Hold(ctx, store, driverLockResource, driverOwner(), driverLockTTL, d.scheduler.Run)
}

func driverOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "jobcore"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func startHTTPServer(ln net.Listener, handler http.Handler) *http.Server {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error(component, "http server error", "error", err)
		}
	}()
	return srv
}
