// Package events records engine activity in a bounded in-memory log and
// forwards each record to pluggable sinks (Redis lists, NATS subjects).
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cordum/jobcore/core/infra/logging"
	"github.com/cordum/jobcore/core/infra/ring"
)

// Type names an event kind.
type Type string

const (
	WorkflowStarted   Type = "WorkflowStarted"
	WorkflowCompleted Type = "WorkflowCompleted"
	JobCompleted      Type = "JobCompleted"
	JobSkipped        Type = "JobSkipped"
	StepFailed        Type = "StepFailed"
	ETLCompleted      Type = "ETLCompleted"
	ScheduledJobRun   Type = "ScheduledJobRun"
)

// Source identifies the engine that produced an event.
type Source string

const (
	SourceWorkflow  Source = "workflow"
	SourceETL       Source = "etl"
	SourceScheduler Source = "scheduler"
)

// Event is one engine activity record.
type Event struct {
	Type       Type           `json:"type"`
	Source     Source         `json:"source"`
	Time       time.Time      `json:"time"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	PipelineID string         `json:"pipeline_id,omitempty"`
	Job        string         `json:"job,omitempty"`
	Step       string         `json:"step,omitempty"`
	Success    bool           `json:"success"`
	Duration   time.Duration  `json:"duration,omitempty"`
	Error      string         `json:"error,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// MarshalJSON adds duration_seconds next to the nanosecond duration.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		DurationSeconds float64 `json:"duration_seconds,omitempty"`
	}{plain(e), e.Duration.Seconds()})
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Log keeps the newest events in memory and forwards every event to its sinks.
// Sink failures are logged and never reach the emitting engine.
type Log struct {
	buf   *ring.Buffer[Event]
	mu    sync.RWMutex
	sinks []Sink
}

// NewLog returns a log retaining at most capacity events.
func NewLog(capacity int, sinks ...Sink) *Log {
	l := &Log{buf: ring.New[Event](capacity)}
	for _, s := range sinks {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
	return l
}

// AddSink attaches another sink.
func (l *Log) AddSink(s Sink) {
	if s == nil {
		return
	}
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Emit records ev and forwards it.
func (l *Log) Emit(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	l.buf.Add(ev)
	l.mu.RLock()
	sinks := l.sinks
	l.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Emit(ctx, ev); err != nil {
			logging.Error("events", "sink emit failed", "type", ev.Type, "source", ev.Source, "error", err)
		}
	}
	return nil
}

// Events returns retained events, oldest first.
func (l *Log) Events() []Event {
	return l.buf.Snapshot()
}

// ForWorkflow returns retained events for one workflow.
func (l *Log) ForWorkflow(workflowID string) []Event {
	var out []Event
	for _, ev := range l.buf.Snapshot() {
		if ev.WorkflowID == workflowID {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped returns how many events were evicted from memory.
func (l *Log) Dropped() uint64 {
	return l.buf.Dropped()
}
