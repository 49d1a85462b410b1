package etl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cordum/jobcore/core/engine"
	"github.com/cordum/jobcore/core/infra/events"
	"github.com/cordum/jobcore/core/infra/metrics"
	"github.com/cordum/jobcore/core/model"
)

type row map[string]int

func fiveRows(context.Context, string) (any, error) {
	return []row{{"v": 1}, {"v": 2}, {"v": 3}, {"v": 4}, {"v": 5}}, nil
}

func dropOdd(_ context.Context, data any) (any, error) {
	var out []row
	for _, r := range data.([]row) {
		if r["v"]%2 == 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRunPipelineCountsRows(t *testing.T) {
	var loadedTo string
	p := model.NewETLPipeline("db://src", "db://dst", fiveRows, func(_ context.Context, target string, data any) (any, error) {
		loadedTo = target
		return nil, nil
	})
	p.AddTransform("drop_odd", dropOdd)

	res, err := NewEngine().RunPipeline(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success || len(res.Errors) != 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.RowsExtracted != 5 || res.RowsTransformed != 2 || res.RowsLoaded != 2 {
		t.Fatalf("unexpected counts %d/%d/%d", res.RowsExtracted, res.RowsTransformed, res.RowsLoaded)
	}
	if loadedTo != "db://dst" {
		t.Fatalf("load got target %q", loadedTo)
	}
	if p.Status != model.PipelineStatusCompleted {
		t.Fatalf("expected completed status, got %s", p.Status)
	}
	if res.FailedTransform != -1 {
		t.Fatalf("unexpected failed transform %d", res.FailedTransform)
	}
	if res.Duration < res.ExtractDuration+res.TransformDuration+res.LoadDuration {
		t.Fatalf("total duration %s shorter than phases", res.Duration)
	}
}

func TestRunPipelineWithoutLoad(t *testing.T) {
	p := model.NewETLPipeline("src", "dst", fiveRows, nil)
	eng := NewEngine()
	res, err := eng.RunPipeline(context.Background(), p)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Phase != PhaseLoad {
		t.Fatalf("expected load PipelineError, got %v", err)
	}
	if res == nil || res.RowsExtracted != 5 || res.RowsTransformed != 5 || res.RowsLoaded != 0 || res.Success {
		t.Fatalf("unexpected partial result %+v", res)
	}
	if p.Status != model.PipelineStatusFailed {
		t.Fatalf("expected failed status, got %s", p.Status)
	}
	if got := eng.Events().Events(); len(got) != 1 || got[0].Type != events.ETLCompleted || got[0].Success {
		t.Fatalf("expected one failed completion event, got %+v", got)
	}
}

func TestRunPipelineWithoutExtract(t *testing.T) {
	p := model.NewETLPipeline("src", "dst", nil, nil)
	eng := NewEngine()
	res, err := eng.RunPipeline(context.Background(), p)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Phase != PhaseExtract || res != nil {
		t.Fatalf("expected extract PipelineError, got %v %+v", err, res)
	}
	if len(eng.Events().Events()) != 0 {
		t.Fatalf("no event expected before extract runs")
	}
	if _, err := eng.RunPipeline(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil pipeline")
	}
}

func TestTransformFailureStopsPipeline(t *testing.T) {
	loaded := false
	p := model.NewETLPipeline("src", "dst", fiveRows, func(context.Context, string, any) (any, error) {
		loaded = true
		return nil, nil
	})
	p.AddTransform("keep", func(_ context.Context, d any) (any, error) { return d, nil })
	p.AddTransform("explode", func(context.Context, any) (any, error) { return nil, errors.New("bad row") })
	p.AddTransform("never", func(_ context.Context, d any) (any, error) {
		t.Errorf("transform after failure should not run")
		return d, nil
	})

	res, err := NewEngine().RunPipeline(context.Background(), p)
	if err != nil {
		t.Fatalf("user failures are reported in the result, got %v", err)
	}
	if res.Success || res.FailedTransform != 1 || loaded {
		t.Fatalf("unexpected result %+v loaded=%v", res, loaded)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "explode") || !strings.Contains(res.Errors[0], "bad row") {
		t.Fatalf("unexpected errors %v", res.Errors)
	}
	if res.RowsExtracted != 5 || res.RowsTransformed != 0 {
		t.Fatalf("unexpected counts %+v", res)
	}
}

func TestExtractAndLoadFailures(t *testing.T) {
	p := model.NewETLPipeline("src", "dst", func(context.Context, string) (any, error) {
		return nil, errors.New("source down")
	}, nil)
	res, err := NewEngine().RunPipeline(context.Background(), p)
	if err != nil || res.Success || !strings.HasPrefix(res.Errors[0], "extract") {
		t.Fatalf("unexpected extract failure handling: %v %+v", err, res)
	}

	p = model.NewETLPipeline("src", "dst", fiveRows, func(context.Context, string, any) (any, error) {
		panic("disk full")
	})
	res, err = NewEngine().RunPipeline(context.Background(), p)
	if err != nil || res.Success || !strings.Contains(res.Errors[0], "disk full") {
		t.Fatalf("unexpected load panic handling: %v %+v", err, res)
	}
}

func TestIntegerLoadResultIsAuthoritative(t *testing.T) {
	p := model.NewETLPipeline("src", "dst", fiveRows, func(context.Context, string, any) (any, error) {
		return int64(3), nil
	})
	res, err := NewEngine().RunPipeline(context.Background(), p)
	if err != nil || res.RowsLoaded != 3 {
		t.Fatalf("expected 3 loaded rows, got %v %+v", err, res)
	}
}

func TestRowCount(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{nil, 1},
		{42, 1},
		{"abc", 3},
		{[]int{}, 0},
		{map[string]int{"a": 1, "b": 2}, 2},
		{[3]int{}, 3},
		{struct{}{}, 1},
	}
	for _, c := range cases {
		if got := rowCount(c.in); got != c.want {
			t.Fatalf("rowCount(%#v) = %d want %d", c.in, got, c.want)
		}
	}
}

func TestEventsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	log := events.NewLog(10)
	eng := NewEngine(WithEventLog(log), WithMetrics(metrics.NewETLProm(reg, "jobcore")))

	p := model.NewETLPipeline("src", "dst", fiveRows, func(context.Context, string, any) (any, error) { return nil, nil })
	p.Name = "orders"
	if _, err := eng.RunPipeline(context.Background(), p); err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := log.Events()
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Source != events.SourceETL || ev.PipelineID != p.ID || !ev.Success || ev.Data["rows_loaded"] != 5 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("expected gathered ETL series, got %d %v", n, err)
	}
}

func TestExecutePayload(t *testing.T) {
	eng := NewEngine()
	p := model.NewETLPipeline("src", "dst", fiveRows, func(context.Context, string, any) (any, error) { return nil, nil })
	out, err := eng.Execute(context.Background(), map[string]any{"pipeline": p})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["pipeline_id"] != p.ID || out["success"] != true || out["rows_loaded"] != 5 {
		t.Fatalf("unexpected output %v", out)
	}
	if _, err := eng.Execute(context.Background(), map[string]any{"pipeline": "nope"}); !errors.Is(err, engine.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	_ = eng.Stop(context.Background())
	if _, err := eng.Execute(context.Background(), map[string]any{"pipeline": p}); !errors.Is(err, engine.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestExecuteFaultMovesEngineToError(t *testing.T) {
	ctx := context.Background()
	sink := events.SinkFunc(func(context.Context, events.Event) error { panic("sink exploded") })
	eng := NewEngine(WithEventLog(events.NewLog(10, sink)))
	_ = eng.Start(ctx)
	p := model.NewETLPipeline("src", "dst", fiveRows, func(context.Context, string, any) (any, error) { return nil, nil })
	if _, err := eng.Execute(ctx, map[string]any{"pipeline": model.NewETLPipeline("src", "dst", nil, nil)}); err == nil {
		t.Fatalf("expected missing extract error")
	}
	if eng.Status() != engine.StatusRunning {
		t.Fatalf("pipeline errors must not fault the engine, got %s", eng.Status())
	}
	if _, err := eng.Execute(ctx, map[string]any{"pipeline": p}); !errors.Is(err, engine.ErrFault) {
		t.Fatalf("expected ErrFault, got %v", err)
	}
	if eng.Status() != engine.StatusError {
		t.Fatalf("expected error status, got %s", eng.Status())
	}
}
