package peer

import (
	"bytes"
	"testing"

	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMagic = 0xf9beb4d9

func encodedPing(t *testing.T, nonce uint64) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, wire.EncodeMessage(&buf, testMagic, &wire.MsgPing{Nonce: nonce}))

	return buf.Bytes()
}

func TestHandleIncomingSingleFrame(t *testing.T) {
	p := New(Config{ID: 1, Direction: DirInbound, Logger: ulogger.TestLogger()})

	var got []wire.Message
	p.handleIncoming(testMagic, encodedPing(t, 7), func(cmd wire.Command, msg wire.Message) {
		got = append(got, msg)
	})

	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].(*wire.MsgPing).Nonce)
	assert.Empty(t, p.recvBuf)
}

func TestHandleIncomingSplitAcrossChunks(t *testing.T) {
	p := New(Config{ID: 1, Direction: DirInbound, Logger: ulogger.TestLogger()})

	full := encodedPing(t, 11)
	split := len(full) / 2

	var got []wire.Message
	onMsg := func(cmd wire.Command, msg wire.Message) { got = append(got, msg) }

	p.handleIncoming(testMagic, full[:split], onMsg)
	assert.Empty(t, got)
	assert.NotEmpty(t, p.recvBuf)

	p.handleIncoming(testMagic, full[split:], onMsg)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(11), got[0].(*wire.MsgPing).Nonce)
}

func TestHandleIncomingTwoFramesInOneChunk(t *testing.T) {
	p := New(Config{ID: 1, Direction: DirInbound, Logger: ulogger.TestLogger()})

	var chunk []byte
	chunk = append(chunk, encodedPing(t, 1)...)
	chunk = append(chunk, encodedPing(t, 2)...)

	var got []wire.Message
	p.handleIncoming(testMagic, chunk, func(cmd wire.Command, msg wire.Message) {
		got = append(got, msg)
	})

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].(*wire.MsgPing).Nonce)
	assert.Equal(t, uint64(2), got[1].(*wire.MsgPing).Nonce)
}

func TestHandleIncomingBadMagicDisconnects(t *testing.T) {
	p := New(Config{ID: 1, Direction: DirOutbound, Logger: ulogger.TestLogger()})
	require.NoError(t, p.TransitionConnected())

	var buf bytes.Buffer
	require.NoError(t, wire.EncodeMessage(&buf, 0xdeadbeef, &wire.MsgPing{Nonce: 1}))

	p.handleIncoming(testMagic, buf.Bytes(), func(wire.Command, wire.Message) {})

	assert.Equal(t, StateDisconnected, p.State())
}

func TestHandleIncomingFloodLimitDisconnects(t *testing.T) {
	p := New(Config{ID: 1, Direction: DirOutbound, Logger: ulogger.TestLogger()})
	require.NoError(t, p.TransitionConnected())

	oversized := make([]byte, DefaultFloodLimit+1)
	p.handleIncoming(testMagic, oversized, func(wire.Command, wire.Message) {})

	assert.Equal(t, StateDisconnected, p.State())
}
