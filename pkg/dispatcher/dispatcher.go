// Package dispatcher implements the three client dispatch modes: run_locally
// (skip the queue, run in-process via JobRunner), run_on_gearman (submit
// foreground and block for the result), and enqueue_on_gearman (submit
// background and return a handle).
package dispatcher

import (
	"context"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/internal/gjserr"
	"github.com/nuulab/gjs/internal/identity"
	"github.com/nuulab/gjs/pkg/function"
	"github.com/nuulab/gjs/pkg/jobrunner"
	"github.com/nuulab/gjs/pkg/queueclient"
)

// Dispatcher is stateless across calls: every method takes the function
// descriptor and arguments it needs and returns, so a single Dispatcher
// value can be shared across goroutines.
type Dispatcher struct {
	Queue  *queueclient.QueueClient
	Runner jobrunner.Options
}

// New builds a Dispatcher over queue (may be nil if only run_locally
// will ever be used) and the JobRunner options every locally-executed
// attempt uses.
func New(queue *queueclient.QueueClient, runnerOpts jobrunner.Options) *Dispatcher {
	return &Dispatcher{Queue: queue, Runner: runnerOpts}
}

func toQueuePriority(p function.Priority) queueclient.Priority {
	switch p {
	case function.PriorityHigh:
		return queueclient.PriorityHigh
	case function.PriorityLow:
		return queueclient.PriorityLow
	default:
		return queueclient.PriorityNormal
	}
}

func uniqueKeyFor(d function.Descriptor, args codec.Dict) string {
	if !d.Unique {
		return ""
	}
	return identity.CanonicalKey(d.Name, args)
}

func validateArgs(args codec.Dict) error {
	if _, err := codec.Encode(args); err != nil {
		return err
	}
	return nil
}

// RunLocally executes the function in-process via JobRunner, bypassing
// the queue entirely.
func (d *Dispatcher) RunLocally(ctx context.Context, desc function.Descriptor, args codec.Dict) (any, error) {
	if err := validateArgs(args); err != nil {
		return nil, err
	}

	gjsID, err := identity.GJSID("", desc.Name, args)
	if err != nil {
		return nil, err
	}

	result, err := jobrunner.Run(ctx, jobrunner.Request{
		Descriptor: desc,
		Args:       args,
		GJSID:      gjsID,
	}, d.Runner)
	if err != nil {
		return nil, err
	}

	return codec.UnwrapResult(result)
}

// RunOnGearman submits the job in the foreground and blocks until the
// queue reports completion or failure. The result is always unwrapped
// from its {"result": value} envelope uniformly.
func (d *Dispatcher) RunOnGearman(ctx context.Context, desc function.Descriptor, args codec.Dict) (any, error) {
	if d.Queue == nil {
		return nil, gjserr.Newf(gjserr.QueueError, "dispatcher: run_on_gearman requires a configured QueueClient")
	}
	if err := validateArgs(args); err != nil {
		return nil, err
	}

	payload, err := codec.Encode(args)
	if err != nil {
		return nil, err
	}

	resultBytes, err := d.Queue.SubmitForeground(desc.Name, payload, toQueuePriority(desc.Priority), uniqueKeyFor(desc, args))
	if err != nil {
		return nil, err
	}

	resultDict, err := codec.Decode(resultBytes)
	if err != nil {
		return nil, err
	}
	return codec.UnwrapResult(resultDict)
}

// EnqueueOnGearman submits the job in the background and returns its
// queue handle immediately.
func (d *Dispatcher) EnqueueOnGearman(ctx context.Context, desc function.Descriptor, args codec.Dict) (string, error) {
	if d.Queue == nil {
		return "", gjserr.Newf(gjserr.QueueError, "dispatcher: enqueue_on_gearman requires a configured QueueClient")
	}
	if err := validateArgs(args); err != nil {
		return "", err
	}

	payload, err := codec.Encode(args)
	if err != nil {
		return "", err
	}

	return d.Queue.SubmitBackground(desc.Name, payload, toQueuePriority(desc.Priority), uniqueKeyFor(desc, args))
}
