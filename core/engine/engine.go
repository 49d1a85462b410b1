// Package engine defines the capability surface shared by the workflow,
// ETL, and scheduler engines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Status is the coarse lifecycle state of an engine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

var (
	// ErrStopped is returned by Execute once an engine has been stopped.
	ErrStopped = errors.New("engine stopped")
	// ErrInvalidPayload is returned when an Execute payload lacks its key or has the wrong type.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrFault wraps a panic recovered by Trap.
	ErrFault = errors.New("engine fault")
)

// Engine is implemented by every orchestration engine.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	Execute(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Lifecycle tracks engine status. Embed it to get Start, Stop and Status.
type Lifecycle struct {
	mu     sync.RWMutex
	status Status
	err    error
}

// Start moves the engine to running. Starting a stopped engine revives it.
func (l *Lifecycle) Start(context.Context) error {
	l.mu.Lock()
	l.status = StatusRunning
	l.err = nil
	l.mu.Unlock()
	return nil
}

// Stop moves the engine to stopped.
func (l *Lifecycle) Stop(context.Context) error {
	l.mu.Lock()
	l.status = StatusStopped
	l.mu.Unlock()
	return nil
}

// Status returns the current status; a zero Lifecycle is idle.
func (l *Lifecycle) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.status == "" {
		return StatusIdle
	}
	return l.status
}

// Fail records an unexpected engine fault and moves the engine to error.
func (l *Lifecycle) Fail(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	l.status = StatusError
	l.err = err
	l.mu.Unlock()
}

// Err returns the fault recorded by Fail, if any.
func (l *Lifecycle) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Trap recovers a panic in the calling method, records it with Fail and
// stores it in *errp. It must be deferred directly: defer l.Trap(&err).
func (l *Lifecycle) Trap(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("%w: %v", ErrFault, r)
	l.Fail(err)
	if errp != nil {
		*errp = err
	}
}

// Guard returns ErrStopped when the engine no longer accepts work.
func (l *Lifecycle) Guard() error {
	if l.Status() == StatusStopped {
		return ErrStopped
	}
	return nil
}

// PayloadValue extracts payload[key] as T.
func PayloadValue[T any](payload map[string]any, key string) (T, error) {
	var zero T
	raw, ok := payload[key]
	if !ok || raw == nil {
		return zero, fmt.Errorf("%w: missing %q", ErrInvalidPayload, key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q has type %T", ErrInvalidPayload, key, raw)
	}
	return v, nil
}
