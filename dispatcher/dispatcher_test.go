package dispatcher

import (
	"testing"

	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyPeer(t *testing.T) *peer.Peer {
	t.Helper()

	p := peer.New(peer.Config{ID: 1, Direction: peer.DirOutbound, LocalNonce: 1})
	require.NoError(t, p.TransitionConnected())
	require.NoError(t, p.TransitionVersionReceived(&wire.MsgVersion{Nonce: 2}))
	require.NoError(t, p.TransitionReady())

	return p
}

func freshPeer(t *testing.T) *peer.Peer {
	t.Helper()

	return peer.New(peer.Config{ID: 2, Direction: peer.DirInbound, LocalNonce: 1})
}

func TestUnknownCommandIgnored(t *testing.T) {
	d := New(ulogger.TestLogger())
	p := readyPeer(t)

	assert.True(t, d.Dispatch(p, wire.CmdPing, &wire.MsgPing{}))
}

func TestRegisteredHandlerInvoked(t *testing.T) {
	d := New(ulogger.TestLogger())
	p := readyPeer(t)

	called := false
	d.Register(wire.CmdGetHeaders, func(p *peer.Peer, msg wire.Message) bool {
		called = true
		return true
	})

	assert.True(t, d.Dispatch(p, wire.CmdGetHeaders, &wire.MsgGetHeaders{}))
	assert.True(t, called)
}

func TestGatedCommandDroppedBeforeHandshake(t *testing.T) {
	d := New(ulogger.TestLogger())
	p := freshPeer(t)

	called := false
	d.Register(wire.CmdHeaders, func(p *peer.Peer, msg wire.Message) bool {
		called = true
		return true
	})

	assert.True(t, d.Dispatch(p, wire.CmdHeaders, &wire.MsgHeaders{}))
	assert.False(t, called)
}

func TestUngatedCommandAllowedBeforeHandshake(t *testing.T) {
	d := New(ulogger.TestLogger())
	p := freshPeer(t)

	called := false
	d.Register(wire.CmdPing, func(p *peer.Peer, msg wire.Message) bool {
		called = true
		return true
	})

	assert.True(t, d.Dispatch(p, wire.CmdPing, &wire.MsgPing{}))
	assert.True(t, called)
}

func TestHandlerPanicRecoveredAsFailure(t *testing.T) {
	d := New(ulogger.TestLogger())
	p := readyPeer(t)

	d.Register(wire.CmdInv, func(p *peer.Peer, msg wire.Message) bool {
		panic("boom")
	})

	assert.False(t, d.Dispatch(p, wire.CmdInv, &wire.MsgInv{}))
}
