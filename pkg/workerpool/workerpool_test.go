package workerpool_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/internal/gearmanproto"
	"github.com/nuulab/gjs/pkg/function"
	"github.com/nuulab/gjs/pkg/jobrunner"
	"github.com/nuulab/gjs/pkg/workerpool"
)

type additionFunc struct{}

func (additionFunc) Run(ctx context.Context, args codec.Dict) (any, error) {
	a := args["a"].(int64)
	b := args["b"].(int64)
	return a + b, nil
}

func fakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	return ln.Addr().String()
}

func TestRegisterRejectsOverCapacity(t *testing.T) {
	p := workerpool.New(workerpool.Config{Cap: 2})
	desc := function.Descriptor{Name: "Addition", New: func() function.Function { return additionFunc{} }}

	require.NoError(t, p.Register(desc, 2))
	err := p.Register(desc, 1)
	require.Error(t, err)
}

func TestRunWithNoServersReportsBackendRegistrationError(t *testing.T) {
	p := workerpool.New(workerpool.Config{})
	desc := function.Descriptor{Name: "Addition", New: func() function.Function { return additionFunc{} }}
	require.NoError(t, p.Register(desc, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errs := p.Run(ctx)
	require.Len(t, errs, 1)
}

func TestWorkerProcessesOneJobEndToEnd(t *testing.T) {
	dir := t.TempDir()

	payload, err := codec.Encode(codec.Dict{"a": int64(2), "b": int64(3)})
	require.NoError(t, err)

	done := make(chan struct{})

	addr := fakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)

		// CAN_DO
		pkt, err := gearmanproto.ReadRequestPacket(r)
		require.NoError(t, err)
		require.Equal(t, gearmanproto.CanDo, pkt.Type)

		// GRAB_JOB -> JOB_ASSIGN
		pkt, err = gearmanproto.ReadRequestPacket(r)
		require.NoError(t, err)
		require.Equal(t, gearmanproto.GrabJob, pkt.Type)
		err = gearmanproto.WriteResponsePacket(conn, gearmanproto.JobAssign, []byte("H:host:1"), []byte("Addition"), payload)
		require.NoError(t, err)

		// WORK_COMPLETE
		pkt, err = gearmanproto.ReadRequestPacket(r)
		require.NoError(t, err)
		require.Equal(t, gearmanproto.WorkComplete, pkt.Type)
		close(done)

		// Keep reading so the worker's next GRAB_JOB doesn't see a closed
		// connection as a protocol error before the test finishes.
		for {
			if _, err := gearmanproto.ReadRequestPacket(r); err != nil {
				return
			}
		}
	})

	p := workerpool.New(workerpool.Config{
		Servers:     []string{addr},
		DialTimeout: time.Second,
		Notifier:    jobrunner.Options{LogDir: dir},
	})
	desc := function.Descriptor{Name: "Addition", New: func() function.Function { return additionFunc{} }}
	require.NoError(t, p.Register(desc, 1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go p.Run(ctx)

	select {
	case <-done:
	case <-time.After(900 * time.Millisecond):
		t.Fatal("timed out waiting for WORK_COMPLETE")
	}
}
