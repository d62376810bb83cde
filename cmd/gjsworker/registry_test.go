package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/internal/codec"
)

func TestLookupFindsRegisteredFunctions(t *testing.T) {
	descs, err := lookup([]string{"Echo", "Sleep"})
	require.NoError(t, err)
	assert.Len(t, descs, 2)
}

func TestLookupReportsUnknownFunctions(t *testing.T) {
	_, err := lookup([]string{"Echo", "DoesNotExist"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DoesNotExist")
}

func TestEchoFunctionReturnsValueUnchanged(t *testing.T) {
	out, err := echoFunction{}.Run(context.Background(), codec.Dict{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestSleepFunctionDefaultsToOneSecond(t *testing.T) {
	f := &sleepFunction{}
	out, err := f.Run(context.Background(), codec.Dict{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestSleepFunctionRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &sleepFunction{}
	_, err := f.Run(ctx, codec.Dict{"seconds": int64(5)})
	require.Error(t, err)
}
