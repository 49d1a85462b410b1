package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkflowMetrics captures workflow engine activity.
type WorkflowMetrics interface {
	IncWorkflowStarted(workflow string)
	IncWorkflowCompleted(workflow, status string)
	ObserveWorkflowDuration(workflow string, durationSeconds float64)
	IncJobsCompleted(workflow, status string)
}

// SchedulerMetrics captures scheduler ticks and job runs.
type SchedulerMetrics interface {
	IncTicks()
	IncJobsDue(job string)
	IncJobRuns(job, status string)
	ObserveJobDuration(job string, durationSeconds float64)
	IncPendingDropped(count int)
}

// ETLMetrics captures pipeline throughput.
type ETLMetrics interface {
	AddRows(pipeline, phase string, rows int)
	IncPipelineRuns(pipeline, status string)
	ObservePhaseDuration(pipeline, phase string, durationSeconds float64)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) IncWorkflowStarted(string)                     {}
func (Noop) IncWorkflowCompleted(string, string)           {}
func (Noop) ObserveWorkflowDuration(string, float64)       {}
func (Noop) IncJobsCompleted(string, string)               {}
func (Noop) IncTicks()                                     {}
func (Noop) IncJobsDue(string)                             {}
func (Noop) IncJobRuns(string, string)                     {}
func (Noop) ObserveJobDuration(string, float64)            {}
func (Noop) IncPendingDropped(int)                         {}
func (Noop) AddRows(string, string, int)                   {}
func (Noop) IncPipelineRuns(string, string)                {}
func (Noop) ObservePhaseDuration(string, string, float64) {}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// register adds collectors to reg, reusing collectors that are already
// registered under the same descriptor so constructors are safe to call twice.
func register(reg prometheus.Registerer, cs ...prometheus.Collector) []prometheus.Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	out := make([]prometheus.Collector, len(cs))
	for i, c := range cs {
		out[i] = c
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				out[i] = are.ExistingCollector
				continue
			}
			panic(err)
		}
	}
	return out
}

// --- Workflow metrics ---

type workflowProm struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	jobs      *prometheus.CounterVec
}

// NewWorkflowProm registers workflow engine collectors on reg (default registry when nil).
func NewWorkflowProm(reg prometheus.Registerer, namespace string) WorkflowMetrics {
	cs := register(reg,
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Workflows started by name",
		}, []string{"workflow"}),
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_completed_total",
			Help:      "Workflows completed by name and status",
		}, []string{"workflow", "status"}),
		prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow duration seconds by name",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow"}),
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_jobs_completed_total",
			Help:      "Workflow jobs reaching a terminal status",
		}, []string{"workflow", "status"}),
	)
	return &workflowProm{
		started:   cs[0].(*prometheus.CounterVec),
		completed: cs[1].(*prometheus.CounterVec),
		duration:  cs[2].(*prometheus.HistogramVec),
		jobs:      cs[3].(*prometheus.CounterVec),
	}
}

func (w *workflowProm) IncWorkflowStarted(workflow string) {
	w.started.WithLabelValues(workflow).Inc()
}

func (w *workflowProm) IncWorkflowCompleted(workflow, status string) {
	w.completed.WithLabelValues(workflow, status).Inc()
}

func (w *workflowProm) ObserveWorkflowDuration(workflow string, durationSeconds float64) {
	w.duration.WithLabelValues(workflow).Observe(durationSeconds)
}

func (w *workflowProm) IncJobsCompleted(workflow, status string) {
	w.jobs.WithLabelValues(workflow, status).Inc()
}

// --- Scheduler metrics ---

type schedulerProm struct {
	ticks    prometheus.Counter
	due      *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  prometheus.Counter
}

// NewSchedulerProm registers scheduler collectors on reg (default registry when nil).
func NewSchedulerProm(reg prometheus.Registerer, namespace string) SchedulerMetrics {
	cs := register(reg,
		prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks evaluated",
		}),
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_jobs_due_total",
			Help:      "Scheduled jobs marked due by a tick",
		}, []string{"job"}),
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job runs by outcome",
		}, []string{"job", "status"}),
		prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_job_duration_seconds",
			Help:      "Scheduled job run duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_pending_dropped_total",
			Help:      "Due jobs dropped because a tick overwrote an undrained pending set",
		}),
	)
	return &schedulerProm{
		ticks:    cs[0].(prometheus.Counter),
		due:      cs[1].(*prometheus.CounterVec),
		runs:     cs[2].(*prometheus.CounterVec),
		duration: cs[3].(*prometheus.HistogramVec),
		dropped:  cs[4].(prometheus.Counter),
	}
}

func (s *schedulerProm) IncTicks() { s.ticks.Inc() }

func (s *schedulerProm) IncJobsDue(job string) { s.due.WithLabelValues(job).Inc() }

func (s *schedulerProm) IncJobRuns(job, status string) { s.runs.WithLabelValues(job, status).Inc() }

func (s *schedulerProm) ObserveJobDuration(job string, durationSeconds float64) {
	s.duration.WithLabelValues(job).Observe(durationSeconds)
}

func (s *schedulerProm) IncPendingDropped(count int) {
	if count > 0 {
		s.dropped.Add(float64(count))
	}
}

// --- ETL metrics ---

type etlProm struct {
	rows     *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewETLProm registers ETL collectors on reg (default registry when nil).
func NewETLProm(reg prometheus.Registerer, namespace string) ETLMetrics {
	cs := register(reg,
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "etl_rows_total",
			Help:      "Rows processed by pipeline and phase",
		}, []string{"pipeline", "phase"}),
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "etl_pipeline_runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"pipeline", "status"}),
		prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "etl_phase_duration_seconds",
			Help:      "Pipeline phase duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline", "phase"}),
	)
	return &etlProm{
		rows:     cs[0].(*prometheus.CounterVec),
		runs:     cs[1].(*prometheus.CounterVec),
		duration: cs[2].(*prometheus.HistogramVec),
	}
}

func (e *etlProm) AddRows(pipeline, phase string, rows int) {
	if rows > 0 {
		e.rows.WithLabelValues(pipeline, phase).Add(float64(rows))
	}
}

func (e *etlProm) IncPipelineRuns(pipeline, status string) {
	e.runs.WithLabelValues(pipeline, status).Inc()
}

func (e *etlProm) ObservePhaseDuration(pipeline, phase string, durationSeconds float64) {
	e.duration.WithLabelValues(pipeline, phase).Observe(durationSeconds)
}
