package function_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/pkg/function"
	"github.com/nuulab/gjs/pkg/progress"
)

type echoFunc struct {
	sink progress.Sink
}

func (f *echoFunc) Run(ctx context.Context, args codec.Dict) (any, error) {
	return args["value"], nil
}

func (f *echoFunc) BindProgress(sink progress.Sink) {
	f.sink = sink
}

func TestFactoryProducesFreshInstances(t *testing.T) {
	var built []*echoFunc
	factory := function.Factory(func() function.Function {
		f := &echoFunc{}
		built = append(built, f)
		return f
	})

	a := factory()
	b := factory()
	assert.NotSame(t, a, b)
	assert.Len(t, built, 2)
}

func TestDescriptorDefaultsAreZeroValues(t *testing.T) {
	d := function.Descriptor{Name: "Echo", New: func() function.Function { return &echoFunc{} }}
	assert.Equal(t, 0, d.Retries)
	assert.Equal(t, time.Duration(0), d.Timeout)
	assert.False(t, d.Unique)
	assert.Equal(t, function.PriorityNormal, d.Priority)
}

func TestEchoFunctionRunsAndBindsProgress(t *testing.T) {
	fn := &echoFunc{}
	var binder function.ProgressBinder = fn
	binder.BindProgress(progress.NoopSink{})
	require.NotNil(t, fn.sink)

	out, err := fn.Run(context.Background(), codec.Dict{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}
