// Package jobrunner implements the job lifecycle: per-attempt log
// isolation, the retry loop, timeout handling, terminal failure
// notification, and uniform {"result": value} wrapping. Retries run
// in-process, with a fresh attempt and a fresh log segment each time,
// rather than re-enqueueing onto the backend.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/internal/gjserr"
	"github.com/nuulab/gjs/pkg/function"
	"github.com/nuulab/gjs/pkg/gjslog"
	"github.com/nuulab/gjs/pkg/notifier"
	"github.com/nuulab/gjs/pkg/progress"
)

// tailLines is the number of trailing log lines included in a failure
// notification body.
const tailLines = 50

// Options configures the behavior shared by every job this runner
// executes: where logs live, who gets notified, and how the local host
// identifies itself in a notification body.
type Options struct {
	LogDir   string
	Notifier notifier.Notifier
	Host     string
}

// Request is one job to run to completion (including retries).
type Request struct {
	Descriptor function.Descriptor
	Args       codec.Dict
	GJSID      string

	// Sink receives progress reports. Defaults to progress.NoopSink{}
	// when nil, matching run_locally's "no queue status channel" case.
	Sink progress.Sink
}

// Run executes req to completion, honoring the function's configured
// retry budget, and returns the wrapped {"result": value} dictionary on
// success. Terminal failure is returned as a *gjserr.Error of kind
// JobFailure or JobTimeout; a non-fatal notifier failure is appended to
// it via gjserr.Append rather than replacing it.
func Run(ctx context.Context, req Request, opts Options) (codec.Dict, error) {
	d := req.Descriptor
	sink := req.Sink
	if sink == nil {
		sink = progress.NoopSink{}
	}
	notify := opts.Notifier
	if notify == nil {
		notify = notifier.NullNotifier{}
	}

	var lastErr error
	var logPath string

	for attempt := 0; attempt <= d.Retries; attempt++ {
		attemptLog, err := gjslog.Open(opts.LogDir, d.Name, req.GJSID, attempt)
		if err != nil {
			return nil, gjserr.New(gjserr.JobFailure, err).WithFunction(d.Name).WithGJSID(req.GJSID)
		}
		logPath = attemptLog.Path()

		value, runErr := runOneAttempt(ctx, d, req.Args, sink, attemptLog)

		if runErr == nil {
			attemptLog.Logger().Info().Msg("Finished job")
			_ = attemptLog.Close()
			return codec.WrapResult(value), nil
		}

		attemptLog.Logger().Error().Err(runErr).Int("attempt", attempt).Msg("Failed")
		_ = attemptLog.Close()

		lastErr = runErr

		if attempt < d.Retries {
			continue
		}

		// Terminal failure.
		terminal := classify(d.Name, req.GJSID, lastErr)
		if d.NotifyOnFailure {
			notifyErr := sendFailureNotification(ctx, notify, opts.Host, d.Name, req.GJSID, terminal, logPath)
			if notifyErr != nil {
				return nil, gjserr.Append(terminal, notifyErr)
			}
		}
		return nil, terminal
	}

	// Unreachable: the loop above always returns by its last iteration.
	return nil, gjserr.New(gjserr.JobFailure, lastErr).WithFunction(d.Name).WithGJSID(req.GJSID)
}

func runOneAttempt(ctx context.Context, d function.Descriptor, args codec.Dict, sink progress.Sink, attemptLog *gjslog.Attempt) (value any, err error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if d.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	fn := d.New()
	if binder, ok := fn.(function.ProgressBinder); ok {
		binder.BindProgress(sink)
		defer binder.BindProgress(nil)
	}

	defer func() {
		if r := recover(); r != nil {
			attemptLog.Logger().Error().Interface("panic", r).Msg("recovered panic")
			err = fmt.Errorf("jobrunner: function %q panicked: %v", d.Name, r)
		}
	}()

	value, err = fn.Run(runCtx, args)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, gjserr.New(gjserr.JobTimeout, err)
		}
		return nil, err
	}
	return value, nil
}

func classify(name, gjsID string, cause error) *gjserr.Error {
	if gjserr.Of(cause, gjserr.JobTimeout) {
		var e *gjserr.Error
		errors.As(cause, &e)
		return e.WithFunction(name).WithGJSID(gjsID)
	}
	return gjserr.New(gjserr.JobFailure, cause).WithFunction(name).WithGJSID(gjsID)
}

func sendFailureNotification(ctx context.Context, n notifier.Notifier, host, name, gjsID string, cause *gjserr.Error, logPath string) error {
	host = orDefault(host, "unknown-host")

	lines, _ := gjslog.TailLines(logPath, tailLines)

	subject := fmt.Sprintf("Function %q failed", name)

	var b strings.Builder
	fmt.Fprintf(&b, "Function: %s\n", name)
	fmt.Fprintf(&b, "Host: %s\n", host)
	fmt.Fprintf(&b, "Time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Failure: %v\n", cause)
	fmt.Fprintf(&b, "Log: %s\n", logPath)
	b.WriteString("\n---- last log lines ----\n")
	b.WriteString(strings.Join(lines, "\n"))

	if err := n.Notify(ctx, subject, b.String()); err != nil {
		return gjserr.New(gjserr.NotifierError, err).WithFunction(name).WithGJSID(gjsID)
	}
	return nil
}

func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
