package workflow

import (
	"fmt"
	"strings"
)

// Error is a workflow-level failure detected before or outside job execution.
type Error struct {
	WorkflowID string
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	msg := "workflow " + e.WorkflowID + ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CyclicDependencyError reports jobs whose dependencies can never resolve.
// Jobs lists the names that sit on a cycle; Unresolved also includes jobs
// blocked only because they depend on a cycle.
type CyclicDependencyError struct {
	WorkflowID string
	Jobs       []string
	Unresolved []string
}

func newCyclicDependencyError(workflowID string, cyclic, unresolved []string) *CyclicDependencyError {
	return &CyclicDependencyError{WorkflowID: workflowID, Jobs: cyclic, Unresolved: unresolved}
}

func (e *CyclicDependencyError) Error() string {
	return e.base().Error()
}

// Unwrap exposes the generic workflow error so errors.As(err, **Error) matches.
func (e *CyclicDependencyError) Unwrap() error { return e.base() }

func (e *CyclicDependencyError) base() *Error {
	return &Error{
		WorkflowID: e.WorkflowID,
		Msg:        "cyclic dependency among jobs: " + strings.Join(e.Jobs, ", "),
	}
}

// JobExecutionError is one job's step failure. It is recorded on the job and
// never returned from RunWorkflow.
type JobExecutionError struct {
	JobID string
	Job   string
	Step  string
	Err   error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %s: step %s: %v", e.Job, e.Step, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }
