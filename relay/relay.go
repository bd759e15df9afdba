// Package relay implements block-announcement/INV relay (spec.md §4.9):
// an immediate-send path for freshly learned tips, a periodic per-peer
// tip re-announce for partition recovery, and a flush timer that drains
// each peer's pending queue into chunked INV messages. The teacher inlines
// this into its sync manager (handleBlockchainNotification calling
// peerNotifier.RelayInventory); spec.md calls for a standalone component,
// so the logic is factored out here while keeping the same
// channel-reactor idiom as netsync.Manager (msgChan/quit/wg, atomic
// started/shutdown flags).
package relay

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitcoin-sv/headerd/connmgr"
	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// Tuning constants (spec.md §4.9).
const (
	MaxBlockRelayAge = 10 * time.Second
	FlushInterval    = 1 * time.Second
	TipReannounceTTL = 10 * time.Minute
	reannounceSweep  = 30 * time.Second

	// flushTickInterval is the ticker's own granularity; trickleJitter
	// (spec.md §5's supplemental trickle feature, grounded on the
	// bmd-family peer's invTrickleSize/maxKnownInventory trickle queue)
	// is a per-peer phase offset on top of it so peers don't all flush in
	// lock-step, which would make the node's own relay timing fingerprintable.
	flushTickInterval = 100 * time.Millisecond
	trickleJitter     = 250 * time.Millisecond
)

// Config supplies the relay's dependencies.
type Config struct {
	ConnMgr *connmgr.Manager
	Logger  ulogger.Logger
}

// peerState is one peer's pending-INV queue.
type peerState struct {
	pending           []chainhash.Hash
	seen              map[chainhash.Hash]struct{}
	lastTipReannounce time.Time
	nextFlushAt       time.Time
	jitter            time.Duration
}

// newPeerState assigns a fixed per-peer trickle jitter and makes the peer
// immediately flush-eligible; the jitter only spreads out subsequent
// flushes (spec.md §5's trickle feature).
func newPeerState(rng *rand.Rand) *peerState {
	return &peerState{
		seen:        make(map[chainhash.Hash]struct{}),
		nextFlushAt: time.Now(),
		jitter:      time.Duration(rng.Int63n(int64(trickleJitter))),
	}
}

func (ps *peerState) enqueue(hash chainhash.Hash) {
	if _, ok := ps.seen[hash]; ok {
		return
	}

	ps.seen[hash] = struct{}{}
	ps.pending = append(ps.pending, hash)
}

// prune removes hash from the pending queue without sending it, used by the
// immediate-relay path so the flusher never re-sends a hash already pushed
// out-of-band (spec.md §4.9's "previous bug" note).
func (ps *peerState) prune(hash chainhash.Hash) {
	if _, ok := ps.seen[hash]; !ok {
		return
	}

	delete(ps.seen, hash)

	for i, h := range ps.pending {
		if h == hash {
			ps.pending = append(ps.pending[:i], ps.pending[i+1:]...)
			break
		}
	}
}

func (ps *peerState) drain() []chainhash.Hash {
	out := ps.pending
	ps.pending = nil
	ps.seen = make(map[chainhash.Hash]struct{})

	return out
}

type announceMsg struct {
	hash        chainhash.Hash
	learnedAt   time.Time
	learnedFrom int32
}

type tipMsg struct {
	hash chainhash.Hash
}

type newPeerMsg struct{ peer *peer.Peer }
type donePeerMsg struct{ peer *peer.Peer }

// Manager is the relay reactor, run single-threaded on its own goroutine.
type Manager struct {
	cfg    Config
	magic  uint32
	logger ulogger.Logger

	started  int32
	shutdown int32

	msgChan chan interface{}
	quit    chan struct{}
	wg      sync.WaitGroup

	mu         sync.Mutex
	peers      map[int32]*peer.Peer
	states     map[int32]*peerState
	currentTip chainhash.Hash

	rng *rand.Rand
}

// New constructs a relay Manager for the given wire magic.
func New(cfg Config, magic uint32) *Manager {
	initPrometheusMetrics()

	return &Manager{
		cfg:     cfg,
		magic:   magic,
		logger:  cfg.Logger,
		msgChan: make(chan interface{}, 256),
		quit:    make(chan struct{}),
		peers:   make(map[int32]*peer.Peer),
		states:  make(map[int32]*peerState),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins the reactor goroutine. Idempotent.
func (m *Manager) Start() {
	if atomic.AddInt32(&m.started, 1) != 1 {
		return
	}

	m.wg.Add(1)

	go m.run()
}

// Stop signals the reactor to exit and waits for it. Idempotent.
func (m *Manager) Stop() error {
	if atomic.AddInt32(&m.shutdown, 1) != 1 {
		return nil
	}

	close(m.quit)
	m.wg.Wait()

	return nil
}

// NewPeer registers p for relay once it reaches READY.
func (m *Manager) NewPeer(p *peer.Peer) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &newPeerMsg{peer: p}
}

// DonePeer drops a disconnected peer's pending queue.
func (m *Manager) DonePeer(p *peer.Peer) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &donePeerMsg{peer: p}
}

// AnnounceBlock is the immediate-relay entry point: a locally mined block
// or a newly connected tip, learned from learnedFrom (0 if untracked/
// locally produced). Only blocks learned within MaxBlockRelayAge of the
// call are eligible (spec.md §4.9).
func (m *Manager) AnnounceBlock(hash chainhash.Hash, learnedAt time.Time, learnedFrom int32) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &announceMsg{hash: hash, learnedAt: learnedAt, learnedFrom: learnedFrom}
}

// SetCurrentTip records the active tip for periodic re-announcement.
func (m *Manager) SetCurrentTip(hash chainhash.Hash) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &tipMsg{hash: hash}
}

func (m *Manager) run() {
	flushTicker := time.NewTicker(flushTickInterval)
	reannounceTicker := time.NewTicker(reannounceSweep)

	defer flushTicker.Stop()
	defer reannounceTicker.Stop()
	defer m.wg.Done()

	for {
		select {
		case <-flushTicker.C:
			m.flush()

		case <-reannounceTicker.C:
			m.sweepReannounce()

		case raw := <-m.msgChan:
			switch msg := raw.(type) {
			case *newPeerMsg:
				m.handleNewPeer(msg.peer)
			case *donePeerMsg:
				m.handleDonePeer(msg.peer)
			case *announceMsg:
				m.handleAnnounce(msg)
			case *tipMsg:
				m.currentTip = msg.hash
			}

		case <-m.quit:
			return
		}
	}
}

func (m *Manager) handleNewPeer(p *peer.Peer) {
	m.peers[p.ID()] = p

	if _, ok := m.states[p.ID()]; !ok {
		m.states[p.ID()] = newPeerState(m.rng)
	}
}

func (m *Manager) handleDonePeer(p *peer.Peer) {
	delete(m.peers, p.ID())
	delete(m.states, p.ID())
}

// handleAnnounce implements the immediate-relay path: send an INV to every
// READY peer except the learner, pruning the same hash from that peer's
// pending queue so the flusher never re-sends it.
func (m *Manager) handleAnnounce(msg *announceMsg) {
	if time.Since(msg.learnedAt) > MaxBlockRelayAge {
		return
	}

	m.currentTip = msg.hash
	prometheusRelayAnnounced.Inc()

	for id, p := range m.peers {
		if id == msg.learnedFrom {
			continue
		}

		if !p.SuccessfullyConnected() {
			continue
		}

		if ps, ok := m.states[id]; ok {
			ps.prune(msg.hash)
		}

		m.sendInv(p, []chainhash.Hash{msg.hash})
	}
}

// sweepReannounce enqueues the current tip for every READY peer whose last
// tip re-announce is older than TipReannounceTTL, ignoring the age filter
// (spec.md §4.9's partition-recovery path).
func (m *Manager) sweepReannounce() {
	if m.currentTip == (chainhash.Hash{}) {
		return
	}

	now := time.Now()

	for id, p := range m.peers {
		if !p.SuccessfullyConnected() {
			continue
		}

		ps, ok := m.states[id]
		if !ok {
			continue
		}

		if now.Sub(ps.lastTipReannounce) < TipReannounceTTL {
			continue
		}

		ps.enqueue(m.currentTip)
		ps.lastTipReannounce = now
	}
}

// flush drains the pending queue of every peer whose jittered flush time
// has arrived, into INV messages chunked to MaxInvPerMsg entries each
// (spec.md §4.9, trickle-jittered per §5).
func (m *Manager) flush() {
	now := time.Now()

	for id, ps := range m.states {
		if now.Before(ps.nextFlushAt) {
			continue
		}

		ps.nextFlushAt = now.Add(FlushInterval + ps.jitter)

		if len(ps.pending) == 0 {
			continue
		}

		p, ok := m.peers[id]
		if !ok {
			continue
		}

		hashes := ps.drain()
		prometheusRelayQueueFlushed.Add(float64(len(hashes)))
		m.sendInv(p, hashes)
	}

	pending := 0
	for _, ps := range m.states {
		if len(ps.pending) > 0 {
			pending++
		}
	}
	prometheusRelayPendingPeers.Set(float64(pending))
}

func (m *Manager) sendInv(p *peer.Peer, hashes []chainhash.Hash) {
	for start := 0; start < len(hashes); start += wire.MaxInvPerMsg {
		end := start + wire.MaxInvPerMsg
		if end > len(hashes) {
			end = len(hashes)
		}

		msg := wire.NewMsgInv()

		for _, h := range hashes[start:end] {
			if err := msg.AddInvVect(wire.NewInvVectFromHash(h)); err != nil {
				m.logger.Warnf("relay: build inv for peer %d: %v", p.ID(), err)
				return
			}
		}

		if err := p.Send(m.magic, msg); err != nil {
			m.logger.Warnf("relay: send inv to peer %d: %v", p.ID(), err)
			return
		}
	}
}
