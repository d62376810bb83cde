// Package progress implements the progress-reporting sink: report(
// numerator, denominator), with denominator>0 required and
// numerator<=denominator merely recommended. A sink forwards to the
// owning worker's queue connection (and, best-effort, to the status
// cache) when a job is worker-bound, or is a no-op when running locally.
package progress

import (
	"github.com/nuulab/gjs/internal/gjserr"
)

// Sink receives progress for one job; JobRunner binds the job's Sink to
// each attempt's fresh Function instance before invoking Run and clears
// the reference afterward, so every attempt of a job reports through the
// same Sink.
type Sink interface {
	Report(numerator, denominator int64) error
}

// Validate enforces the one mandatory invariant: denominator must be
// positive. Sink implementations call this before doing any I/O.
func Validate(numerator, denominator int64) error {
	if denominator <= 0 {
		return gjserr.Newf(gjserr.InvalidProgressError, "progress: denominator must be > 0, got %d", denominator)
	}
	return nil
}

// NoopSink discards every report after validating it; used for
// run_locally dispatch, where there is no queue status channel to
// forward to.
type NoopSink struct{}

// Report validates and discards.
func (NoopSink) Report(numerator, denominator int64) error {
	return Validate(numerator, denominator)
}

// Reporter is implemented by anything a QueueSink can forward progress
// to — satisfied by *gearmanproto.Client (the worker's own connection to
// the server that assigned it the job).
type Reporter interface {
	ReportStatus(handle string, numerator, denominator int64) error
}

// CacheReporter is implemented by the optional statuscache mirror.
type CacheReporter interface {
	ReportProgress(handle string, numerator, denominator int64) error
}

// QueueSink forwards progress to the worker's own connection via
// WORK_STATUS, and opportunistically to a status cache mirror.
type QueueSink struct {
	Handle   string
	Backend  Reporter
	Cache    CacheReporter
}

// Report validates, forwards to the backend, and best-effort updates the
// cache (cache errors are swallowed, matching statuscache's role as a
// non-authoritative mirror).
func (s QueueSink) Report(numerator, denominator int64) error {
	if err := Validate(numerator, denominator); err != nil {
		return err
	}
	if err := s.Backend.ReportStatus(s.Handle, numerator, denominator); err != nil {
		return gjserr.New(gjserr.QueueError, err).WithHandle(s.Handle)
	}
	if s.Cache != nil {
		_ = s.Cache.ReportProgress(s.Handle, numerator, denominator)
	}
	return nil
}
