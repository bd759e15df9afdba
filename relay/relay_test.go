package relay

import (
	"testing"
	"time"

	"github.com/bitcoin-sv/headerd/connmgr"
	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddr struct{ s string }

func (f fakeAddr) Network() string { return "tcp" }
func (f fakeAddr) String() string  { return f.s }

func readyPeer(id int32, ip string) *peer.Peer {
	p := peer.New(peer.Config{
		ID:         id,
		Direction:  peer.DirOutbound,
		LocalNonce: uint64(id),
		RemoteAddr: fakeAddr{s: ip},
	})

	if err := p.TransitionConnected(); err != nil {
		panic(err)
	}

	_ = p.TransitionVersionReceived(&wire.MsgVersion{Nonce: uint64(id) + 1000})
	_ = p.TransitionReady()

	return p
}

func newTestManager() *Manager {
	cm := connmgr.New(connmgr.DefaultConfig(), "")
	return New(Config{ConnMgr: cm, Logger: ulogger.TestLogger()}, 0xf9beb4d9)
}

func TestAnnounceSendsToAllExceptLearner(t *testing.T) {
	m := newTestManager()

	learner := readyPeer(1, "1.2.3.4:8633")
	other := readyPeer(2, "5.6.7.8:8633")

	m.handleNewPeer(learner)
	m.handleNewPeer(other)

	hash := chainhash.Hash{0x1}
	m.handleAnnounce(&announceMsg{hash: hash, learnedAt: time.Now(), learnedFrom: learner.ID()})

	// The hash must not sit in either peer's pending queue afterward: sent
	// immediately to other (and pruned from its queue), and never enqueued
	// for the learner.
	assert.Empty(t, m.states[other.ID()].pending)
	assert.Empty(t, m.states[learner.ID()].pending)
}

func TestAnnounceIgnoresStaleBlock(t *testing.T) {
	m := newTestManager()
	p := readyPeer(1, "1.2.3.4:8633")
	m.handleNewPeer(p)

	hash := chainhash.Hash{0x2}
	m.handleAnnounce(&announceMsg{hash: hash, learnedAt: time.Now().Add(-MaxBlockRelayAge - time.Second), learnedFrom: 0})

	assert.Equal(t, chainhash.Hash{}, m.currentTip)
}

func TestFlushDrainsQueue(t *testing.T) {
	m := newTestManager()
	p := readyPeer(1, "1.2.3.4:8633")
	m.handleNewPeer(p)

	ps := m.states[p.ID()]
	ps.enqueue(chainhash.Hash{0x1})
	ps.enqueue(chainhash.Hash{0x2})
	require.Len(t, ps.pending, 2)

	m.flush()

	assert.Empty(t, ps.pending)
}

func TestSweepReannounceRespectsTTL(t *testing.T) {
	m := newTestManager()
	p := readyPeer(1, "1.2.3.4:8633")
	m.handleNewPeer(p)
	m.currentTip = chainhash.Hash{0x3}

	m.sweepReannounce()
	assert.Len(t, m.states[p.ID()].pending, 1)

	m.states[p.ID()].drain()
	m.sweepReannounce()
	assert.Empty(t, m.states[p.ID()].pending)
}

func TestDonePeerDropsQueue(t *testing.T) {
	m := newTestManager()
	p := readyPeer(1, "1.2.3.4:8633")
	m.handleNewPeer(p)
	m.handleDonePeer(p)

	_, ok := m.states[p.ID()]
	assert.False(t, ok)
}
