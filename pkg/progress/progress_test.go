package progress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/internal/gjserr"
	"github.com/nuulab/gjs/pkg/progress"
)

func TestValidateRejectsNonPositiveDenominator(t *testing.T) {
	err := progress.Validate(1, 0)
	require.Error(t, err)
	assert.True(t, gjserr.Of(err, gjserr.InvalidProgressError))
}

func TestValidateAllowsNumeratorExceedingDenominator(t *testing.T) {
	require.NoError(t, progress.Validate(11, 10))
}

func TestNoopSinkStillValidates(t *testing.T) {
	err := progress.NoopSink{}.Report(1, 0)
	require.Error(t, err)
}

type fakeReporter struct {
	handle               string
	numerator, denominator int64
	err                  error
}

func (f *fakeReporter) ReportStatus(handle string, numerator, denominator int64) error {
	f.handle, f.numerator, f.denominator = handle, numerator, denominator
	return f.err
}

type fakeCacheReporter struct {
	calls int
	err   error
}

func (f *fakeCacheReporter) ReportProgress(handle string, numerator, denominator int64) error {
	f.calls++
	return f.err
}

func TestQueueSinkForwardsToBackendAndCache(t *testing.T) {
	backend := &fakeReporter{}
	cache := &fakeCacheReporter{}
	sink := progress.QueueSink{Handle: "H:host:1", Backend: backend, Cache: cache}

	require.NoError(t, sink.Report(3, 10))
	assert.Equal(t, "H:host:1", backend.handle)
	assert.Equal(t, int64(3), backend.numerator)
	assert.Equal(t, 1, cache.calls)
}

func TestQueueSinkSwallowsCacheErrorsButNotBackendErrors(t *testing.T) {
	backend := &fakeReporter{err: assertErr("boom")}
	sink := progress.QueueSink{Handle: "H:host:2", Backend: backend}

	err := sink.Report(1, 2)
	require.Error(t, err)
	assert.True(t, gjserr.Of(err, gjserr.QueueError))

	cache := &fakeCacheReporter{err: assertErr("cache down")}
	cached := progress.QueueSink{Handle: "H:host:3", Backend: &fakeReporter{}, Cache: cache}
	require.NoError(t, cached.Report(1, 2))
	assert.Equal(t, 1, cache.calls)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
