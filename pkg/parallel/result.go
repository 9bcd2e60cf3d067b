package parallel

import (
	"errors"
	"time"
)

// FailureKind distinguishes a task that ran out of time from one that
// simply returned an error.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureError   FailureKind = "ERROR"
	FailureTimeout FailureKind = "TIMEOUT"
)

// ErrDependencyFailed marks a task skipped because a dependency it needed
// never completed successfully.
var ErrDependencyFailed = errors.New("parallel: dependency failed")

// ErrCascadeAborted marks a task skipped because another task's failure
// triggered a cascading abort of the whole graph.
var ErrCascadeAborted = errors.New("parallel: aborted by cascading failure elsewhere in the graph")

// TaskResult is the outcome of one task's execution, including retries.
type TaskResult struct {
	TaskID      string
	Output      any
	Err         error
	FailureKind FailureKind
	Attempts    int
	Skipped     bool
	Started     time.Time
	Finished    time.Time
}

func (r *TaskResult) succeeded() bool {
	return r.Err == nil && !r.Skipped
}

// Result is the aggregate outcome of execute_graph.
type Result struct {
	Tasks    map[string]*TaskResult
	Aborted  bool
	Started  time.Time
	Finished time.Time
}

// Succeeded reports whether every task in the graph completed without
// error or being skipped.
func (r *Result) Succeeded() bool {
	for _, tr := range r.Tasks {
		if !tr.succeeded() {
			return false
		}
	}
	return true
}
