// Package orphans implements the bounded orphan-header pool (spec.md §4.10):
// headers whose parent isn't yet known locally are held until the parent
// arrives, then cascaded back through ChainStore.AcceptBlockHeader. Grounded
// on services/legacy/netsync/manager.go's orphanTxs/processOrphanTransactions
// machinery (expiringmap.ExpiringMap plus a recursive children scan over
// Items()), generalized here from transactions to headers.
package orphans

import (
	"sync"
	"time"

	"github.com/bitcoin-sv/headerd/chainstore"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
	"github.com/ordishs/go-utils/expiringmap"
)

// Bounds and TTL (spec.md §4.10).
const (
	MaxOrphans        = 1000
	MaxOrphansPerPeer = 50
	expireTime        = 600 * time.Second
)

type record struct {
	header     *wire.BlockHeader
	peerID     int32
	admittedAt time.Time
}

// Pool is the global orphan-header store, driven from the sync
// orchestrator's single reactor goroutine.
type Pool struct {
	mu      sync.Mutex
	chain   chainstore.ChainStore
	logger  ulogger.Logger
	m       *expiringmap.ExpiringMap[chainhash.Hash, *record]
	perPeer map[int32]int
}

// New returns an empty pool. chain is used to re-submit cascaded headers once
// their parent has been accepted.
func New(chain chainstore.ChainStore, logger ulogger.Logger) *Pool {
	initPrometheusMetrics()

	p := &Pool{
		chain:   chain,
		logger:  logger,
		m:       expiringmap.New[chainhash.Hash, *record](expireTime),
		perPeer: make(map[int32]int),
	}

	p.m.WithEvictionFunction(func(hash chainhash.Hash, rec *record) bool {
		p.mu.Lock()
		p.decrPeerLocked(rec.peerID)
		p.mu.Unlock()

		p.logger.Debugf("orphans: expired header %s from peer %d", hash, rec.peerID)
		prometheusOrphansExpired.Inc()
		prometheusOrphansSize.Set(float64(p.m.Len()))

		return true
	})

	return p
}

func (p *Pool) decrPeerLocked(peerID int32) {
	p.perPeer[peerID]--
	if p.perPeer[peerID] <= 0 {
		delete(p.perPeer, peerID)
	}
}

// Admit inserts header into the pool on behalf of peerID. A header already
// present is treated as already admitted, not a fresh rejection: only the
// per-peer cap produces a false return, on which the sync orchestrator
// penalizes the peer (spec.md §4.5's TOO_MANY_ORPHANS).
func (p *Pool) Admit(header *wire.BlockHeader, peerID int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := header.BlockHash()
	if _, exists := p.m.Get(hash); exists {
		return true
	}

	if p.perPeer[peerID] >= MaxOrphansPerPeer {
		prometheusOrphansRejected.Inc()
		return false
	}

	if p.m.Len() >= MaxOrphans {
		p.evictOldestLocked()
	}

	p.m.Set(hash, &record{header: header, peerID: peerID, admittedAt: time.Now()})
	p.perPeer[peerID]++
	prometheusOrphansAdmitted.Inc()
	prometheusOrphansSize.Set(float64(p.m.Len()))

	return true
}

// evictOldestLocked drops the single oldest-admitted entry to make room for
// a new one. Caller holds p.mu.
func (p *Pool) evictOldestLocked() {
	var (
		oldestHash chainhash.Hash
		oldestAt   time.Time
		oldestPeer int32
		found      bool
	)

	for hash, rec := range p.m.Items() {
		if !found || rec.admittedAt.Before(oldestAt) {
			oldestHash = hash
			oldestAt = rec.admittedAt
			oldestPeer = rec.peerID
			found = true
		}
	}

	if found {
		p.m.Delete(oldestHash)
		p.decrPeerLocked(oldestPeer)
		prometheusOrphansEvicted.Inc()
	}
}

// OnHeaderAccepted cascades acceptance to every orphan directly parented on
// parentHash, recursing through each newly-accepted descendant so that
// arbitrarily deep chains delivered in reverse order eventually drain
// (spec.md §4.10). It returns every hash newly accepted into chain as a
// result, so a caller that later discovers the triggering batch fails an
// anti-DoS check (e.g. the low-work gate, spec.md §4.8 step 6) can purge
// these cascaded headers too via ChainStore.RejectBlockHeaders — cascade
// acceptance runs with no gate of its own, so it must not outlive the batch
// that unlocked it.
func (p *Pool) OnHeaderAccepted(parentHash chainhash.Hash) []chainhash.Hash {
	p.mu.Lock()
	items := p.m.Items()
	p.mu.Unlock()

	var accepted []chainhash.Hash

	for hash, rec := range items {
		if rec.header.PrevHash != parentHash {
			continue
		}

		if _, err := p.chain.AcceptBlockHeader(rec.header, rec.peerID, true); err != nil {
			p.logger.Debugf("orphans: re-submit of %s still rejected: %v", hash, err)
			continue
		}

		p.mu.Lock()
		p.m.Delete(hash)
		p.decrPeerLocked(rec.peerID)
		p.mu.Unlock()

		prometheusOrphansCascaded.Inc()
		prometheusOrphansSize.Set(float64(p.Len()))

		accepted = append(accepted, hash)
		accepted = append(accepted, p.OnHeaderAccepted(hash)...)
	}

	return accepted
}

// Len reports the current pool size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.m.Len()
}

// PeerCount reports how many orphans are currently attributed to peerID.
func (p *Pool) PeerCount(peerID int32) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.perPeer[peerID]
}
