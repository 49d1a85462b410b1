// Package etl runs extract, transform and load pipelines and reports row
// counts and per-phase timings.
package etl

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/cordum/jobcore/core/engine"
	"github.com/cordum/jobcore/core/infra/events"
	"github.com/cordum/jobcore/core/infra/logging"
	"github.com/cordum/jobcore/core/infra/metrics"
	"github.com/cordum/jobcore/core/model"
)

const component = "etl-engine"

// Phase names a pipeline stage.
type Phase string

const (
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseLoad      Phase = "load"
)

// PipelineError is returned when a pipeline cannot run a phase at all.
type PipelineError struct {
	PipelineID string
	Phase      Phase
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %s: %v", e.PipelineID, e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Result describes one pipeline run. FailedTransform is the index of the
// transform that failed, or -1.
type Result struct {
	PipelineID        string        `json:"pipeline_id"`
	RowsExtracted     int           `json:"rows_extracted"`
	RowsTransformed   int           `json:"rows_transformed"`
	RowsLoaded        int           `json:"rows_loaded"`
	ExtractDuration   time.Duration `json:"extract_duration"`
	TransformDuration time.Duration `json:"transform_duration"`
	LoadDuration      time.Duration `json:"load_duration"`
	Duration          time.Duration `json:"duration"`
	Success           bool          `json:"success"`
	Errors            []string      `json:"errors,omitempty"`
	FailedTransform   int           `json:"failed_transform"`
	Output            any           `json:"-"`
}

// Engine runs ETL pipelines.
type Engine struct {
	engine.Lifecycle

	events  *events.Log
	metrics metrics.ETLMetrics
}

var _ engine.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithEventLog shares an event log with the engine.
func WithEventLog(l *events.Log) Option {
	return func(e *Engine) {
		if l != nil {
			e.events = l
		}
	}
}

// WithMetrics installs ETL metrics.
func WithMetrics(m metrics.ETLMetrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine returns an engine with its own bounded event log.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{events: events.NewLog(0), metrics: metrics.Noop{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the engine's event log.
func (e *Engine) Events() *events.Log { return e.events }

// RunPipeline runs extract, each transform in order, then load.
//
// A missing extract function fails before anything runs. A missing load
// function fails after extract and transforms, and the partially filled
// result is returned with the error. Failures inside the user functions are
// reported through Result.Errors with a nil error. An ETLCompleted event is
// emitted for every run that gets past the extract check.
func (e *Engine) RunPipeline(ctx context.Context, p *model.ETLPipeline) (res *Result, err error) {
	if p == nil {
		return nil, &PipelineError{Phase: PhaseExtract, Err: fmt.Errorf("pipeline is nil")}
	}
	if p.ExtractFn == nil {
		return nil, &PipelineError{PipelineID: p.ID, Phase: PhaseExtract, Err: fmt.Errorf("no extract function configured")}
	}

	res = &Result{PipelineID: p.ID, FailedTransform: -1}
	p.Status = model.PipelineStatusRunning
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
		res.Success = err == nil && len(res.Errors) == 0
		if res.Success {
			p.Status = model.PipelineStatusCompleted
		} else {
			p.Status = model.PipelineStatusFailed
		}
		e.finish(ctx, p, res)
	}()

	phaseStart := time.Now()
	data, ferr := safeExtract(ctx, p.ExtractFn, p.Source)
	res.ExtractDuration = time.Since(phaseStart)
	if ferr != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", PhaseExtract, ferr))
		return res, nil
	}
	res.RowsExtracted = rowCount(data)

	phaseStart = time.Now()
	for i, fn := range p.TransformFns {
		out, terr := safeTransform(ctx, fn, data)
		if terr != nil {
			res.FailedTransform = i
			res.Errors = append(res.Errors, fmt.Sprintf("%s[%d] %s: %v", PhaseTransform, i, p.TransformName(i), terr))
			res.TransformDuration = time.Since(phaseStart)
			return res, nil
		}
		data = out
	}
	res.TransformDuration = time.Since(phaseStart)
	res.RowsTransformed = rowCount(data)
	res.Output = data

	if p.LoadFn == nil {
		return res, &PipelineError{PipelineID: p.ID, Phase: PhaseLoad, Err: fmt.Errorf("no load function configured")}
	}
	phaseStart = time.Now()
	loaded, lerr := safeLoad(ctx, p.LoadFn, p.Target, data)
	res.LoadDuration = time.Since(phaseStart)
	if lerr != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", PhaseLoad, lerr))
		return res, nil
	}
	if n, ok := asInt(loaded); ok {
		res.RowsLoaded = n
	} else {
		res.RowsLoaded = rowCount(data)
	}
	return res, nil
}

func (e *Engine) finish(ctx context.Context, p *model.ETLPipeline, res *Result) {
	name := p.Name
	if name == "" {
		name = p.Source + "->" + p.Target
	}
	status := string(p.Status)
	e.metrics.IncPipelineRuns(name, status)
	e.metrics.AddRows(name, string(PhaseExtract), res.RowsExtracted)
	e.metrics.AddRows(name, string(PhaseTransform), res.RowsTransformed)
	e.metrics.AddRows(name, string(PhaseLoad), res.RowsLoaded)
	e.metrics.ObservePhaseDuration(name, string(PhaseExtract), res.ExtractDuration.Seconds())
	e.metrics.ObservePhaseDuration(name, string(PhaseTransform), res.TransformDuration.Seconds())
	e.metrics.ObservePhaseDuration(name, string(PhaseLoad), res.LoadDuration.Seconds())

	errText := ""
	if len(res.Errors) > 0 {
		errText = res.Errors[0]
		logging.Warn(component, "pipeline failed", "pipeline_id", p.ID, "error", errText)
	} else {
		logging.Info(component, "pipeline completed", "pipeline_id", p.ID,
			"rows_extracted", res.RowsExtracted, "rows_loaded", res.RowsLoaded, "duration", res.Duration)
	}
	_ = e.events.Emit(ctx, events.Event{
		Type:       events.ETLCompleted,
		Source:     events.SourceETL,
		PipelineID: p.ID,
		Success:    res.Success,
		Duration:   res.Duration,
		Error:      errText,
		Data: map[string]any{
			"rows_extracted":   res.RowsExtracted,
			"rows_transformed": res.RowsTransformed,
			"rows_loaded":      res.RowsLoaded,
		},
	})
}

func safeExtract(ctx context.Context, fn model.ExtractFunc, source string) (out any, err error) {
	defer recoverInto(&err)
	return fn(ctx, source)
}

func safeTransform(ctx context.Context, fn model.TransformFunc, data any) (out any, err error) {
	defer recoverInto(&err)
	if fn == nil {
		return nil, fmt.Errorf("transform function is nil")
	}
	return fn(ctx, data)
}

func safeLoad(ctx context.Context, fn model.LoadFunc, target string, data any) (out any, err error) {
	defer recoverInto(&err)
	return fn(ctx, target, data)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}

// rowCount is the length of sized values (slices, arrays, maps, strings,
// channels) and 1 for anything else.
func rowCount(v any) int {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return rv.Len()
	}
	return 1
}

// asInt reports integer load results; bool is not treated as a count.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

// Execute runs payload["pipeline"] (a *model.ETLPipeline) and returns
// pipeline_id, success and rows_loaded.
func (e *Engine) Execute(ctx context.Context, payload map[string]any) (_ map[string]any, err error) {
	if err := e.Guard(); err != nil {
		return nil, err
	}
	defer e.Trap(&err)
	p, err := engine.PayloadValue[*model.ETLPipeline](payload, "pipeline")
	if err != nil {
		return nil, err
	}
	res, err := e.RunPipeline(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pipeline_id": p.ID,
		"success":     res.Success,
		"rows_loaded": res.RowsLoaded,
	}, nil
}
