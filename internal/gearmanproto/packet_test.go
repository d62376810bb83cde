package gearmanproto_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/internal/gearmanproto"
)

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	err := gearmanproto.WriteResponsePacket(&buf, gearmanproto.JobCreated, []byte("H:host:1"))
	require.NoError(t, err)

	pkt, err := gearmanproto.ReadPacket(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, gearmanproto.JobCreated, pkt.Type)
	require.Len(t, pkt.Args, 1)
	assert.Equal(t, "H:host:1", string(pkt.Args[0]))
}

func TestPacketMultiArg(t *testing.T) {
	var buf bytes.Buffer
	err := gearmanproto.WriteResponsePacket(&buf, gearmanproto.StatusRes,
		[]byte("H:host:2"), []byte("1"), []byte("1"), []byte("5"), []byte("10"))
	require.NoError(t, err)

	pkt, err := gearmanproto.ReadPacket(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Len(t, pkt.Args, 5)
	assert.Equal(t, "5", string(pkt.Args[3]))
	assert.Equal(t, "10", string(pkt.Args[4]))
}

func TestPacketFinalArgPreservesEmbeddedNULs(t *testing.T) {
	// A codec-encoded dictionary payload carries a big-endian uint32 count
	// after its version and tag bytes, whose high bytes are 0x00 — the
	// kind of opaque data a naive split-on-every-NUL would shred.
	opaque := []byte{0x01, 0x00, 0x00, 0x00, 0x01, 'x'}

	var buf bytes.Buffer
	err := gearmanproto.WriteResponsePacket(&buf, gearmanproto.WorkComplete, []byte("H:host:3"), opaque)
	require.NoError(t, err)

	pkt, err := gearmanproto.ReadPacket(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Len(t, pkt.Args, 2)
	assert.Equal(t, "H:host:3", string(pkt.Args[0]))
	assert.Equal(t, opaque, pkt.Args[1])
}

func TestPacketJobAssignPreservesEmbeddedNULsInPayload(t *testing.T) {
	opaque := []byte{0x01, 0x00, 0x00, 0x00, 0x02, 'a', 'b'}

	var buf bytes.Buffer
	err := gearmanproto.WriteResponsePacket(&buf, gearmanproto.JobAssign,
		[]byte("H:host:4"), []byte("MyFunc"), opaque)
	require.NoError(t, err)

	pkt, err := gearmanproto.ReadPacket(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Len(t, pkt.Args, 3)
	assert.Equal(t, "H:host:4", string(pkt.Args[0]))
	assert.Equal(t, "MyFunc", string(pkt.Args[1]))
	assert.Equal(t, opaque, pkt.Args[2])
}

func TestPacketRejectsWrongMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gearmanproto.WritePacket(&buf, gearmanproto.GrabJob))

	_, err := gearmanproto.ReadPacket(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestPacketEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gearmanproto.WriteResponsePacket(&buf, gearmanproto.Noop))

	pkt, err := gearmanproto.ReadPacket(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, gearmanproto.Noop, pkt.Type)
	assert.Empty(t, pkt.Args)
}
