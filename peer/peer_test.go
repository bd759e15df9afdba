package peer

import (
	"testing"
	"time"

	"github.com/bitcoin-sv/headerd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOutbound(t *testing.T) *Peer {
	t.Helper()

	return New(Config{ID: 1, Direction: DirOutbound, LocalNonce: 42})
}

func newTestInbound(t *testing.T) *Peer {
	t.Helper()

	return New(Config{ID: 2, Direction: DirInbound, LocalNonce: 99})
}

func TestOutboundHandshakeHappyPath(t *testing.T) {
	p := newTestOutbound(t)
	assert.Equal(t, StateConnecting, p.State())

	require.NoError(t, p.TransitionConnected())
	assert.Equal(t, StateConnected, p.State())
	assert.False(t, p.SuccessfullyConnected())

	require.NoError(t, p.TransitionVersionReceived(&wire.MsgVersion{Nonce: 7}))
	assert.Equal(t, StateVersionSent, p.State())

	require.NoError(t, p.TransitionReady())
	assert.Equal(t, StateReady, p.State())
	assert.True(t, p.SuccessfullyConnected())
}

func TestInboundStartsConnected(t *testing.T) {
	p := newTestInbound(t)
	assert.Equal(t, StateConnected, p.State())
}

func TestSecondVersionIgnoredAfterNegotiation(t *testing.T) {
	p := newTestInbound(t)
	require.NoError(t, p.TransitionVersionReceived(&wire.MsgVersion{Nonce: 1, UserAgent: "a"}))
	require.NoError(t, p.TransitionReady())

	// A second VERSION after READY must not error and must not overwrite.
	err := p.TransitionVersionReceived(&wire.MsgVersion{Nonce: 2, UserAgent: "b"})
	assert.NoError(t, err)
	assert.Equal(t, "a", p.UserAgent())
}

func TestSecondVerAckIgnored(t *testing.T) {
	p := newTestInbound(t)
	require.NoError(t, p.TransitionVersionReceived(&wire.MsgVersion{Nonce: 1}))
	require.NoError(t, p.TransitionReady())

	assert.NoError(t, p.TransitionReady())
	assert.True(t, p.SuccessfullyConnected())
}

func TestDisconnectFromAnyState(t *testing.T) {
	p := newTestOutbound(t)
	p.Disconnect()
	assert.Equal(t, StateDisconnected, p.State())

	// Idempotent.
	p.Disconnect()
	assert.Equal(t, StateDisconnected, p.State())
}

func TestSelfConnectionDetection(t *testing.T) {
	p := newTestOutbound(t)
	assert.True(t, p.IsSelfConnection(42))
	assert.False(t, p.IsSelfConnection(43))
}

func TestMisbehaviorAccumulates(t *testing.T) {
	p := newTestInbound(t)
	assert.Equal(t, 20, p.Misbehave(20))
	assert.Equal(t, 120, p.Misbehave(100))
	assert.Equal(t, 120, p.MisbehaviorScore())
}

func TestHandshakeExpiry(t *testing.T) {
	p := newTestInbound(t)
	assert.False(t, p.HandshakeExpired(time.Now()))
	assert.True(t, p.HandshakeExpired(time.Now().Add(HandshakeTimeout+time.Second)))
}

func TestPingRoundTrip(t *testing.T) {
	p := newTestInbound(t)
	require.NoError(t, p.TransitionVersionReceived(&wire.MsgVersion{Nonce: 1}))
	require.NoError(t, p.TransitionReady())

	now := time.Now()
	assert.True(t, p.NeedsPing(now.Add(PingInterval+time.Second)))

	p.MarkPingSent(999, now)
	assert.False(t, p.NeedsPing(now.Add(time.Second)))
	assert.True(t, p.ObservePong(999))
	assert.False(t, p.ObservePong(999))
}

func TestGotAddrOnlyOncePerConnection(t *testing.T) {
	p := newTestOutbound(t)
	assert.True(t, p.MarkGotAddrSent())
	assert.False(t, p.MarkGotAddrSent())
}
