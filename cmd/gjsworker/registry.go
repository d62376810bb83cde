package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/pkg/function"
	"github.com/nuulab/gjs/pkg/progress"
)

// registry is the compiled-in function table this worker binary serves.
// Go has no idiomatic way to load arbitrary compiled code at runtime, so
// functions are resolved by a name-only lookup against a registry linked
// into the binary at compile time — an application embedding this worker
// adds its own functions here and passes their names as a comma-separated
// list on the command line.
var registry = map[string]function.Descriptor{
	"Echo": {
		Name:    "Echo",
		Retries: 0,
		New:     func() function.Function { return echoFunction{} },
	},
	"Sleep": {
		Name:            "Sleep",
		Retries:         1,
		NotifyOnFailure: true,
		New:             func() function.Function { return &sleepFunction{} },
	},
}

func lookup(names []string) ([]function.Descriptor, error) {
	descs := make([]function.Descriptor, 0, len(names))
	var missing []string
	for _, name := range names {
		d, ok := registry[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		descs = append(descs, d)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("gjsworker: unknown function(s) %s (registered: %s)",
			strings.Join(missing, ", "), strings.Join(registeredNames(), ", "))
	}
	return descs, nil
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

// echoFunction returns its "value" argument unchanged; it is the
// simplest possible smoke-test function for a freshly configured worker.
type echoFunction struct{}

func (echoFunction) Run(ctx context.Context, args codec.Dict) (any, error) {
	return args["value"], nil
}

// sleepFunction sleeps for "seconds" (default 1) while reporting
// progress, demonstrating the progress-sink binding lifecycle.
type sleepFunction struct {
	sink progress.Sink
}

func (f *sleepFunction) BindProgress(sink progress.Sink) {
	f.sink = sink
}

func (f *sleepFunction) Run(ctx context.Context, args codec.Dict) (any, error) {
	seconds := int64(1)
	if v, ok := args["seconds"].(int64); ok && v > 0 {
		seconds = v
	}

	for i := int64(1); i <= seconds; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		if f.sink != nil {
			_ = f.sink.Report(i, seconds)
		}
	}
	return "done", nil
}
