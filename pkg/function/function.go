// Package function defines the uniform function abstraction layered
// over the task queue: a descriptor (name, timeout, retries, uniqueness,
// priority, failure-notification policy) plus a factory for fresh
// per-attempt instances, so no state leaks between retries of the same
// job.
package function

import (
	"context"
	"time"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/pkg/progress"
)

// Priority mirrors the three submission priority classes. Dispatcher
// and WorkerPool translate it to queueclient.Priority at the queue
// boundary so this package never depends on the wire client.
type Priority int

// Priority values.
const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

// Function is one fresh instance of a function's logic, created for a
// single attempt of a single job.
type Function interface {
	// Run executes the function body against args and returns the
	// result value to be wrapped as {"result": value}, or an error if
	// the attempt failed.
	Run(ctx context.Context, args codec.Dict) (any, error)
}

// ProgressBinder is implemented by a Function that wants to report
// progress. JobRunner binds the job's Sink to each fresh instance before
// calling Run and clears the reference immediately after, regardless of
// outcome.
type ProgressBinder interface {
	BindProgress(sink progress.Sink)
}

// Factory creates a fresh Function instance for one attempt.
type Factory func() Function

// Descriptor is the function descriptor: name, timeout, retries,
// unique, priority, notify_on_failure, and a factory standing in for
// "run".
type Descriptor struct {
	Name string

	// Timeout bounds a single attempt; zero means no timeout.
	Timeout time.Duration

	// Retries is the number of retry attempts after the first, so the
	// total attempt budget is Retries+1.
	Retries int

	// Unique marks the function as admitting at most one active job per
	// canonical argument set at a time.
	Unique bool

	Priority Priority

	// NotifyOnFailure triggers the Notifier on terminal failure.
	NotifyOnFailure bool

	// New builds a fresh Function instance for one attempt.
	New Factory
}
