package dispatcher_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/internal/gearmanproto"
	"github.com/nuulab/gjs/pkg/dispatcher"
	"github.com/nuulab/gjs/pkg/function"
	"github.com/nuulab/gjs/pkg/jobrunner"
	"github.com/nuulab/gjs/pkg/queueclient"
)

type additionFunc struct{}

func (additionFunc) Run(ctx context.Context, args codec.Dict) (any, error) {
	return args["a"].(int64) + args["b"].(int64), nil
}

func TestRunLocallyWrapsAndUnwrapsResult(t *testing.T) {
	dir := t.TempDir()
	d := dispatcher.New(nil, jobrunner.Options{LogDir: dir})

	desc := function.Descriptor{Name: "Addition", New: func() function.Function { return additionFunc{} }}

	result, err := d.RunLocally(context.Background(), desc, codec.Dict{"a": int64(2), "b": int64(3)})
	require.NoError(t, err)
	require.EqualValues(t, 5, result)
}

func TestRunLocallyRejectsUnserializableArgs(t *testing.T) {
	dir := t.TempDir()
	d := dispatcher.New(nil, jobrunner.Options{LogDir: dir})
	desc := function.Descriptor{Name: "Addition", New: func() function.Function { return additionFunc{} }}

	_, err := d.RunLocally(context.Background(), desc, codec.Dict{"fn": func() {}})
	require.Error(t, err)
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

func TestRunOnGearmanUnwrapsResult(t *testing.T) {
	wrapped, err := codec.Encode(codec.WrapResult(int64(5)))
	require.NoError(t, err)

	addr := fakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, err := gearmanproto.ReadRequestPacket(r)
		require.NoError(t, err)
		_ = gearmanproto.WriteResponsePacket(conn, gearmanproto.JobCreated, []byte("H:host:1"))
		_ = gearmanproto.WriteResponsePacket(conn, gearmanproto.WorkComplete, []byte("H:host:1"), wrapped)
	})

	q, err := queueclient.New(queueclient.Config{Servers: []string{addr}, DialTimeout: time.Second})
	require.NoError(t, err)
	defer q.Close()

	d := dispatcher.New(q, jobrunner.Options{})
	desc := function.Descriptor{Name: "Addition"}

	result, err := d.RunOnGearman(context.Background(), desc, codec.Dict{"a": int64(2), "b": int64(3)})
	require.NoError(t, err)
	require.EqualValues(t, 5, result)
}

func TestEnqueueOnGearmanReturnsHandle(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, err := gearmanproto.ReadRequestPacket(r)
		require.NoError(t, err)
		_ = gearmanproto.WriteResponsePacket(conn, gearmanproto.JobCreated, []byte("H:host:9"))
	})

	q, err := queueclient.New(queueclient.Config{Servers: []string{addr}, DialTimeout: time.Second})
	require.NoError(t, err)
	defer q.Close()

	d := dispatcher.New(q, jobrunner.Options{})
	desc := function.Descriptor{Name: "Notify", Unique: true}

	handle, err := d.EnqueueOnGearman(context.Background(), desc, codec.Dict{"to": "ops@example.com"})
	require.NoError(t, err)
	require.Equal(t, "H:host:9", handle)
}
