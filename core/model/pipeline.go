package model

import (
	"context"

	"github.com/google/uuid"
)

// PipelineStatus captures the lifecycle of an ETL pipeline.
type PipelineStatus string

const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusCompleted PipelineStatus = "completed"
	PipelineStatusFailed    PipelineStatus = "failed"
)

// ExtractFunc reads data from source.
type ExtractFunc func(ctx context.Context, source string) (any, error)

// TransformFunc consumes the previous phase's output and returns the next.
type TransformFunc func(ctx context.Context, data any) (any, error)

// LoadFunc writes data to target. An integer return value is taken as the
// number of rows actually loaded.
type LoadFunc func(ctx context.Context, target string, data any) (any, error)

// ETLPipeline describes one extract -> transform(s) -> load run.
type ETLPipeline struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Source       string          `json:"source"`
	Target       string          `json:"target"`
	Transforms   []string        `json:"transforms,omitempty"`
	ExtractFn    ExtractFunc     `json:"-"`
	TransformFns []TransformFunc `json:"-"`
	LoadFn       LoadFunc        `json:"-"`
	Status       PipelineStatus  `json:"status"`
}

// NewETLPipeline builds a pending pipeline. Extract and load functions may be
// attached later; they are only required when the pipeline runs.
func NewETLPipeline(source, target string, extract ExtractFunc, load LoadFunc) *ETLPipeline {
	return &ETLPipeline{
		ID:        uuid.NewString(),
		Source:    source,
		Target:    target,
		ExtractFn: extract,
		LoadFn:    load,
		Status:    PipelineStatusPending,
	}
}

// AddTransform appends a named transform; transforms run in registration order.
func (p *ETLPipeline) AddTransform(name string, fn TransformFunc) *ETLPipeline {
	p.Transforms = append(p.Transforms, name)
	p.TransformFns = append(p.TransformFns, fn)
	return p
}

// TransformName returns the identifier registered at index i.
func (p *ETLPipeline) TransformName(i int) string {
	if i >= 0 && i < len(p.Transforms) {
		return p.Transforms[i]
	}
	return ""
}
