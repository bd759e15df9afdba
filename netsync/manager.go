// Package netsync implements the header-sync orchestrator: single
// sync-peer selection, the GETHEADERS/HEADERS loop, stall detection, and
// the DoS-gated HEADERS receipt pipeline (spec.md §4.8). Grounded almost
// line-for-line in control flow on
// services/legacy/netsync/manager.go's SyncManager (the msgChan/quit/wg
// reactor, atomic started/shutdown flags, blockHandler select loop,
// handleHeadersMsg/handleCheckSyncPeer shape), generalized from
// tx/block-and-checkpoint sync to this chain's headers-only,
// checkpoint-free batches.
package netsync

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitcoin-sv/headerd/chainstore"
	"github.com/bitcoin-sv/headerd/connmgr"
	"github.com/bitcoin-sv/headerd/errors"
	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/tracing"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// Tuning constants (spec.md §4.8).
const (
	MaxHeadersSize             = wire.MaxHeadersPerMsg
	MaxUnsolicitedAnnouncement = 2
	StallTimeout               = 120 * time.Second
	SyncPeerCheckInterval      = 30 * time.Second
)

// getHeadersRateLimitWindow bounds how often the same peer is re-served an
// identical locator, blunting a peer that rapidly re-requests the same
// range (a complete btcd-style header syncer's defensive posture, not
// named explicitly in the distilled spec).
const getHeadersRateLimitWindow = 500 * time.Millisecond

// servedGetHeaders records the last GETHEADERS this manager answered for a
// given peer, keyed cheaply on the locator's first hash and length rather
// than hashing the whole slice.
type servedGetHeaders struct {
	firstLocator chainhash.Hash
	locatorLen   int
	hashStop     chainhash.Hash
	at           time.Time
}

// Penalty points (spec.md §4.5 table), duplicated here rather than
// imported from connmgr to keep this package's dependency on connmgr
// limited to Penalize/RemovePeer/Peers.
const (
	penaltyInvalidPoW               = 100
	penaltyTooManyUnconnectingHdrs  = 100
	penaltyOversizedMessage         = 20
	penaltyNonContinuousHeaders     = 20
	penaltyLowWorkHeaders           = 10
)

// OrphanPool is consulted when a HEADERS batch contains headers whose
// parent isn't locally known yet (spec.md §4.10). A concrete
// *orphans.Pool satisfies this without netsync importing that package
// directly.
type OrphanPool interface {
	Admit(header *wire.BlockHeader, peerID int32) bool
	// OnHeaderAccepted returns every hash it cascades into ChainStore, so a
	// caller that later rejects the batch can purge them too.
	OnHeaderAccepted(parentHash chainhash.Hash) []chainhash.Hash
}

// Config supplies the orchestrator's dependencies and tunables.
type Config struct {
	ChainStore chainstore.ChainStore
	ConnMgr    *connmgr.Manager
	Orphans    OrphanPool
	Logger     ulogger.Logger
	Magic      uint32
}

type newPeerMsg struct{ peer *peer.Peer }
type donePeerMsg struct{ peer *peer.Peer }

type headersMsg struct {
	peer    *peer.Peer
	headers *wire.MsgHeaders
}

type getHeadersMsg struct {
	peer *peer.Peer
	msg  *wire.MsgGetHeaders
}

// Manager is the header-sync orchestrator, run single-threaded on its own
// goroutine (the "reactor execution context" for this component).
type Manager struct {
	cfg    Config
	logger ulogger.Logger

	started  int32
	shutdown int32

	msgChan chan interface{}
	quit    chan struct{}
	wg      sync.WaitGroup

	syncPeer        *peer.Peer
	lastHeadersTime time.Time

	lastServed map[int32]servedGetHeaders
}

// New constructs a Manager; call Start to begin its reactor goroutine.
func New(cfg Config) *Manager {
	initPrometheusMetrics()

	return &Manager{
		cfg:        cfg,
		logger:     cfg.Logger,
		msgChan:    make(chan interface{}, 64),
		quit:       make(chan struct{}),
		lastServed: make(map[int32]servedGetHeaders),
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

// NewPeer informs the orchestrator a peer reached READY, making it eligible
// for sync-peer selection.
func (m *Manager) NewPeer(p *peer.Peer) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &newPeerMsg{peer: p}
}

// DonePeer informs the orchestrator a peer disconnected.
func (m *Manager) DonePeer(p *peer.Peer) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &donePeerMsg{peer: p}
}

// QueueHeaders hands a received HEADERS message to the reactor.
func (m *Manager) QueueHeaders(p *peer.Peer, headers *wire.MsgHeaders) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &headersMsg{peer: p, headers: headers}
}

// QueueGetHeaders hands a received GETHEADERS request to the reactor.
func (m *Manager) QueueGetHeaders(p *peer.Peer, msg *wire.MsgGetHeaders) {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return
	}

	m.msgChan <- &getHeadersMsg{peer: p, msg: msg}
}

func (m *Manager) run() {
	ticker := time.NewTicker(SyncPeerCheckInterval)
	defer ticker.Stop()
	defer m.wg.Done()

	for {
		select {
		case <-ticker.C:
			m.checkSyncPeer()

		case raw := <-m.msgChan:
			switch msg := raw.(type) {
			case *newPeerMsg:
				m.handleNewPeer(msg.peer)
			case *donePeerMsg:
				m.handleDonePeer(msg.peer)
			case *headersMsg:
				m.handleHeaders(msg.peer, msg.headers)
			case *getHeadersMsg:
				m.handleGetHeaders(msg.peer, msg.msg)
			}

		case <-m.quit:
			return
		}
	}
}

func (m *Manager) isSyncCandidate(p *peer.Peer) bool {
	if p.Direction() == peer.DirInbound || p.Direction() == peer.DirFeeler {
		return false
	}

	return p.SuccessfullyConnected() && p != m.syncPeer && !p.SyncStarted()
}

// handleNewPeer considers p for sync-peer selection if none is active.
func (m *Manager) handleNewPeer(p *peer.Peer) {
	if m.syncPeer != nil {
		return
	}

	if m.isSyncCandidate(p) {
		m.startSyncWith(p)
	}
}

func (m *Manager) handleDonePeer(p *peer.Peer) {
	delete(m.lastServed, p.ID())

	if m.syncPeer == p {
		p.SetSyncStarted(false)
		m.syncPeer = nil
		m.selectNewSyncPeer()
	}
}

// selectNewSyncPeer scans connected peers for the first eligible candidate.
func (m *Manager) selectNewSyncPeer() {
	for _, p := range m.cfg.ConnMgr.Peers() {
		if m.isSyncCandidate(p) {
			m.startSyncWith(p)
			return
		}
	}
}

// startSyncWith designates p the sync peer and issues the first GETHEADERS
// using a locator rooted at the parent of our current tip, guaranteeing a
// non-empty response even when p shares our tip (spec.md §4.8).
func (m *Manager) startSyncWith(p *peer.Peer) {
	p.SetSyncStarted(true)
	m.syncPeer = p
	m.lastHeadersTime = time.Now()

	locator := m.cfg.ChainStore.GetLocatorFromPrev()
	m.sendGetHeaders(p, locator, chainhash.Hash{})
}

func (m *Manager) sendGetHeaders(p *peer.Peer, locator chainstore.Locator, hashStop chainhash.Hash) {
	req := &wire.MsgGetHeaders{
		ProtocolVersion:    0,
		BlockLocatorHashes: locator.Hashes,
		HashStop:           hashStop,
	}

	if err := p.Send(m.cfg.Magic, req); err != nil {
		m.logger.Warnf("netsync: failed to send getheaders to peer %d: %v", p.ID(), err)
	}
}

// checkSyncPeer is the periodic ticker handler: ensures a sync peer is
// designated when possible, and disconnects the current one on stall.
func (m *Manager) checkSyncPeer() {
	if m.syncPeer == nil {
		m.selectNewSyncPeer()
		return
	}

	if time.Since(m.lastHeadersTime) > StallTimeout {
		m.logger.Warnf("netsync: sync peer %d stalled, disconnecting", m.syncPeer.ID())

		victim := m.syncPeer
		victim.SetSyncStarted(false)
		m.syncPeer = nil

		m.cfg.ConnMgr.RemovePeer(victim.ID())
		m.selectNewSyncPeer()
	}
}

// continuityOK reports whether headers[i].PrevHash == hash(headers[i-1])
// for every i >= 1.
func continuityOK(headers []*wire.BlockHeader) bool {
	for i := 1; i < len(headers); i++ {
		prev := headers[i-1].BlockHash()
		if headers[i].PrevHash != prev {
			return false
		}
	}

	return true
}

// handleHeaders runs the full HEADERS receipt pipeline from spec.md §4.8.
func (m *Manager) handleHeaders(p *peer.Peer, msg *wire.MsgHeaders) {
	_, _, endSpan := tracing.StartTracing(context.Background(), "netsync.handleHeaders",
		tracing.WithHistogram(prometheusNetsyncHandleHeadersDuration),
		tracing.WithDebugLogMessage(m.logger, "netsync: received %d headers from peer %d", len(msg.Headers), p.ID()),
	)
	defer endSpan()

	headers := msg.Headers
	isIBD := m.cfg.ChainStore.IsInitialBlockDownload()

	prometheusNetsyncHandleHeadersBatchSize.Observe(float64(len(headers)))

	// 1. IBD gating.
	if isIBD && p != m.syncPeer {
		if len(headers) > MaxUnsolicitedAnnouncement {
			return
		}
	}

	// 2. Size check.
	if len(headers) > MaxHeadersSize {
		m.cfg.ConnMgr.Penalize(p.ID(), penaltyOversizedMessage, "oversized headers batch")
		prometheusNetsyncHeadersRejected.Inc()
		return
	}

	if len(headers) == 0 {
		if p == m.syncPeer {
			m.lastHeadersTime = time.Now()
		}

		return
	}

	// 3. First-connects check.
	firstConnects := false

	if _, ok := m.cfg.ChainStore.LookupBlockIndex(headers[0].PrevHash); ok {
		firstConnects = true
		p.ResetUnconnectingHeaders()
	} else {
		n := p.IncrUnconnectingHeaders()
		if n > peer.MaxUnconnectingHdrs {
			m.cfg.ConnMgr.Penalize(p.ID(), penaltyTooManyUnconnectingHdrs, "too many unconnecting headers")
			prometheusNetsyncHeadersRejected.Inc()
			return
		}
	}

	// 4. Continuity check.
	if !continuityOK(headers) {
		m.cfg.ConnMgr.Penalize(p.ID(), penaltyNonContinuousHeaders, "non-continuous headers batch")
		prometheusNetsyncHeadersRejected.Inc()
		return
	}

	// 5. Cheap PoW pre-filter.
	if !m.cfg.ChainStore.VerifyHeadersPoW(headers) {
		m.cfg.ConnMgr.Penalize(p.ID(), penaltyInvalidPoW, "invalid proof of work")
		prometheusNetsyncHeadersRejected.Inc()
		return
	}

	// 7. Per-header validation (and orphan admission for unconnecting ones).
	// acceptedHashes tracks every header (batch or orphan-cascade) indexed
	// while processing this HEADERS message, so the low-work gate below can
	// purge all of them in one shot if the batch fails it: none of these
	// headers are activated yet (ActivateBestChain hasn't run), so until the
	// gate passes they are provisional (spec.md §4.8 step 6).
	var (
		lastAccepted   chainstore.IndexNode
		acceptedHashes []chainhash.Hash
	)

	if firstConnects {
		for _, h := range headers {
			node, err := m.cfg.ChainStore.AcceptBlockHeader(h, p.ID(), true)
			if err != nil {
				var appErr *errors.Error

				if errors.As(err, &appErr) && appErr.Code == errors.ErrPrevBlockNotFound {
					if !m.cfg.Orphans.Admit(h, p.ID()) {
						m.cfg.ConnMgr.Penalize(p.ID(), penaltyTooManyUnconnectingHdrs, "too many orphans")
						prometheusNetsyncHeadersRejected.Inc()
						return
					}

					continue
				}

				m.cfg.ConnMgr.Penalize(p.ID(), penaltyInvalidPoW, "header rejected by chain store")
				prometheusNetsyncHeadersRejected.Inc()
				return
			}

			lastAccepted = node
			hash := h.BlockHash()
			acceptedHashes = append(acceptedHashes, hash)
			acceptedHashes = append(acceptedHashes, m.cfg.Orphans.OnHeaderAccepted(hash)...)
		}
	} else {
		for _, h := range headers {
			if !m.cfg.Orphans.Admit(h, p.ID()) {
				m.cfg.ConnMgr.Penalize(p.ID(), penaltyTooManyUnconnectingHdrs, "too many orphans")
				prometheusNetsyncHeadersRejected.Inc()
				return
			}
		}
	}

	// 6. Low-work gate (after IBD only); approximate by comparing the
	// resulting tip's cumulative work against the minimum acceptable work
	// ChainStore reports (both expressed as big-endian-comparable Work).
	// A batch that fails is purged from the index wholesale, cascaded
	// orphans included, so it can never be silently activated later by an
	// unrelated batch's ActivateBestChain.
	if !isIBD && lastAccepted != nil {
		threshold := m.cfg.ChainStore.GetAntiDoSWorkThreshold(lastAccepted, isIBD)
		if bytes.Compare(lastAccepted.CumulativeWork().CloneBytes(), threshold.CloneBytes()) < 0 {
			m.cfg.ChainStore.RejectBlockHeaders(acceptedHashes)
			m.cfg.ConnMgr.Penalize(p.ID(), penaltyLowWorkHeaders, "low-work headers batch")
			prometheusNetsyncHeadersRejected.Inc()
			return
		}
	}

	// 8. Activation, exactly once per batch.
	if err := m.cfg.ChainStore.ActivateBestChain(); err != nil {
		m.logger.Errorf("netsync: activate best chain: %v", err)
	}

	if p == m.syncPeer {
		m.lastHeadersTime = time.Now()
	}

	// Post-batch decision.
	switch {
	case len(headers) == MaxHeadersSize:
		locator := m.cfg.ChainStore.GetLocator()
		m.sendGetHeaders(p, locator, chainhash.Hash{})
	default:
		// Partial or empty batch: keep the sync-peer designation; no
		// further request until the next stall/selection cycle.
	}
}

// handleGetHeaders serves an incoming GETHEADERS (spec.md §4.8 "Serving
// GETHEADERS").
func (m *Manager) handleGetHeaders(p *peer.Peer, msg *wire.MsgGetHeaders) {
	locator := chainstore.Locator{Hashes: msg.BlockLocatorHashes}

	if m.rateLimited(p.ID(), locator, msg.HashStop) {
		return
	}

	headers := m.cfg.ChainStore.HeadersAfterLocator(locator, msg.HashStop, MaxHeadersSize)
	if len(headers) == 0 {
		return
	}

	reply := &wire.MsgHeaders{Headers: headers}
	if err := p.Send(m.cfg.Magic, reply); err != nil {
		m.logger.Warnf("netsync: failed to send headers to peer %d: %v", p.ID(), err)
	}
}

// rateLimited reports whether peerID already received this exact locator
// inside getHeadersRateLimitWindow. Only a request that is not rate-limited
// is recorded, so the window runs from the last request actually served.
func (m *Manager) rateLimited(peerID int32, locator chainstore.Locator, hashStop chainhash.Hash) bool {
	var first chainhash.Hash
	if len(locator.Hashes) > 0 {
		first = locator.Hashes[0]
	}

	now := time.Now()

	if prev, ok := m.lastServed[peerID]; ok &&
		prev.firstLocator == first && prev.locatorLen == len(locator.Hashes) &&
		prev.hashStop == hashStop && now.Sub(prev.at) < getHeadersRateLimitWindow {
		return true
	}

	m.lastServed[peerID] = servedGetHeaders{firstLocator: first, locatorLen: len(locator.Hashes), hashStop: hashStop, at: now}

	return false
}

// SyncPeerID returns the id of the current sync peer, or 0 if none.
func (m *Manager) SyncPeerID() int32 {
	if m.syncPeer == nil {
		return 0
	}

	return m.syncPeer.ID()
}
