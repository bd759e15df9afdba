// Package memory implements chainstore.ChainStore entirely in process
// memory, rooted at a network's genesis header. chainstore.ChainStore is
// documented as an external collaborator that headerd never implements
// (chainstore/chainstore.go); this package exists only so cmd/headerd has
// something to hand the coordinator for a standalone run — persistence,
// UTXO/tx awareness, and real proof-of-work verification are explicit
// spec.md non-goals and out of scope here too. A production deployment
// supplies its own ChainStore and does not import this package.
package memory

import (
	"math/big"
	"sync"
	"time"

	"github.com/bitcoin-sv/headerd/chaincfg"
	"github.com/bitcoin-sv/headerd/chainstore"
	"github.com/bitcoin-sv/headerd/errors"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// recentTipWindow bounds how stale the active tip's timestamp may be before
// IsInitialBlockDownload reports false, the same "caught up" heuristic
// btcsuite-lineage nodes use in place of a peer-height comparison (which
// this headers-only store, with no peer awareness of its own, cannot do).
const recentTipWindow = 24 * time.Hour

var bigOne = big.NewInt(1)
var oneLsh256 = new(big.Int).Lsh(bigOne, 256)

// compactToBig decodes a Bitcoin-style compact difficulty target, the
// standard nBits representation (3-byte mantissa, 1-byte exponent).
func compactToBig(bits uint32) *big.Int {
	mantissa := bits & 0x007fffff
	exponent := bits >> 24

	bn := big.NewInt(int64(mantissa))

	if exponent <= 3 {
		return bn.Rsh(bn, uint(8*(3-exponent)))
	}

	return bn.Lsh(bn, uint(8*(exponent-3)))
}

// calcWork converts a target into the work a header satisfying it
// represents, the usual 2^256/(target+1) measure.
func calcWork(bits uint32) *big.Int {
	target := compactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, bigOne)

	return new(big.Int).Div(oneLsh256, denominator)
}

// node is the store's block-index entry, implementing chainstore.IndexNode.
type node struct {
	header *wire.BlockHeader
	hash   chainhash.Hash
	height int32
	work   *big.Int
	parent *node
	valid  bool
}

func (n *node) Hash() chainhash.Hash { return n.hash }
func (n *node) Height() int32        { return n.height }
func (n *node) Valid() bool          { return n.valid }
func (n *node) Parent() chainstore.IndexNode {
	if n.parent == nil {
		return nil
	}

	return n.parent
}

func (n *node) CumulativeWork() chainstore.Work {
	var out chainhash.Hash

	b := n.work.Bytes()
	copy(out[len(out)-len(b):], b)

	return out
}

// Store is a single-network, in-memory headers-only chain.
type Store struct {
	mu     sync.RWMutex
	params *chaincfg.Params
	logger ulogger.Logger

	byHash        map[chainhash.Hash]*node
	chainByHeight map[int32]*node
	tip           *node

	subs []func(header *wire.BlockHeader, index chainstore.IndexNode)
}

// New returns a Store seeded with params.GenesisHeader as its only, active
// node.
func New(params *chaincfg.Params, logger ulogger.Logger) *Store {
	genesis := params.GenesisHeader
	g := &node{
		header: &genesis,
		hash:   params.GenesisHash,
		height: 0,
		work:   calcWork(genesis.Bits),
		valid:  true,
	}

	return &Store{
		params:        params,
		logger:        logger,
		byHash:        map[chainhash.Hash]*node{g.hash: g},
		chainByHeight: map[int32]*node{0: g},
		tip:           g,
	}
}

// AcceptBlockHeader validates continuity against a known parent and indexes
// header. Real proof-of-work verification is out of scope (spec.md line 16
// treats verify_pow as an external predicate); minPowChecked and the batch
// pre-filter in VerifyHeadersPoW are honored structurally but not
// cryptographically checked here.
func (s *Store) AcceptBlockHeader(header *wire.BlockHeader, peerID int32, minPowChecked bool) (chainstore.IndexNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := header.BlockHash()
	if existing, ok := s.byHash[hash]; ok {
		return existing, nil
	}

	parent, ok := s.byHash[header.PrevHash]
	if !ok {
		return nil, errors.New(errors.ErrPrevBlockNotFound, errors.KindProtocolViolation,
			"unknown previous block %s", header.PrevHash)
	}

	if !parent.valid {
		return nil, errors.New(errors.ErrNonContinuousHeaders, errors.KindProtocolViolation,
			"parent %s was previously rejected", header.PrevHash)
	}

	n := &node{
		header: header,
		hash:   hash,
		height: parent.height + 1,
		work:   new(big.Int).Add(parent.work, calcWork(header.Bits)),
		parent: parent,
		valid:  true,
	}

	s.byHash[hash] = n

	return n, nil
}

// ActivateBestChain re-evaluates the highest-work known node and, if it
// differs from the current tip, walks the fork point forward notifying
// subscribers in height order for every newly-connected header.
func (s *Store) ActivateBestChain() error {
	s.mu.Lock()

	best := s.tip

	for _, n := range s.byHash {
		if n.valid && n.work.Cmp(best.work) > 0 {
			best = n
		}
	}

	if best == s.tip {
		s.mu.Unlock()
		return nil
	}

	var path []*node
	for n := best; n != nil; n = n.parent {
		path = append(path, n)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	newChainByHeight := make(map[int32]*node, len(path))

	type connected struct {
		header *wire.BlockHeader
		n      *node
	}

	var toNotify []connected

	for _, n := range path {
		newChainByHeight[n.height] = n

		if old, ok := s.chainByHeight[n.height]; !ok || old != n {
			toNotify = append(toNotify, connected{header: n.header, n: n})
		}
	}

	s.chainByHeight = newChainByHeight
	s.tip = best
	subs := s.subs

	s.mu.Unlock()

	for _, c := range toNotify {
		for _, fn := range subs {
			fn(c.header, c.n)
		}
	}

	return nil
}

func (s *Store) GetChainHeight() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tip.height
}

func (s *Store) GetTipHash() chainhash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tip.hash
}

func (s *Store) GetTipTime() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tip.header.Time
}

// IsInitialBlockDownload reports true until the active tip's own timestamp
// is within recentTipWindow of now.
func (s *Store) IsInitialBlockDownload() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tipTime := time.Unix(int64(s.tip.header.Time), 0)

	return time.Since(tipTime) > recentTipWindow
}

// buildLocator implements the standard doubling-step block locator: the eleven
// most recent heights, then exponentially sparser ancestors, always ending
// at genesis. Caller holds s.mu.
func (s *Store) buildLocator(from *node) chainstore.Locator {
	var hashes []chainhash.Hash

	step := int32(1)
	n := from

	for n != nil {
		hashes = append(hashes, n.hash)

		if n.height == 0 {
			break
		}

		target := n.height - step
		if len(hashes) >= 10 {
			step *= 2
		}

		if target < 0 {
			target = 0
		}

		anc := n

		for anc != nil && anc.height > target {
			anc = anc.parent
		}

		n = anc
	}

	return chainstore.Locator{Hashes: hashes}
}

// GetLocator builds a locator rooted at the current active tip.
func (s *Store) GetLocator() chainstore.Locator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.buildLocator(s.tip)
}

// GetLocatorFromPrev builds a locator rooted at the tip's parent, so the
// first GETHEADERS of a sync always produces a non-empty response even
// against a peer sharing our exact tip.
func (s *Store) GetLocatorFromPrev() chainstore.Locator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := s.tip
	if from.parent != nil {
		from = from.parent
	}

	return s.buildLocator(from)
}

// GetAntiDoSWorkThreshold returns the configured MinChainWork floor once
// IBD has ended, zero during IBD, matching chainstore.go's doc comment on
// Work being compared as an absolute floor rather than a delta.
func (s *Store) GetAntiDoSWorkThreshold(tip chainstore.IndexNode, isIBD bool) chainstore.Work {
	if isIBD || s.params.MinChainWork == nil {
		return chainstore.Work{}
	}

	return *s.params.MinChainWork
}

// VerifyHeadersPoW performs the cheap structural pre-filter only: every
// header's Bits must be at least as hard as the network's PowLimitBits.
// Cryptographic verification of PowCommitment is an external predicate
// (spec.md line 16) this reference store does not implement.
func (s *Store) VerifyHeadersPoW(batch []*wire.BlockHeader) bool {
	for _, h := range batch {
		if compactToBig(h.Bits).Cmp(compactToBig(s.params.PowLimitBits)) > 0 {
			return false
		}
	}

	return true
}

// RejectBlockHeaders purges hashes from the index, skipping any that have
// already been connected to the active chain (ActivateBestChain never ran
// for a batch that's being rejected, so this should never apply, but a
// connected block must never be un-indexed regardless).
func (s *Store) RejectBlockHeaders(hashes []chainhash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, hash := range hashes {
		n, ok := s.byHash[hash]
		if !ok {
			continue
		}

		if active, ok := s.chainByHeight[n.height]; ok && active.hash == n.hash {
			continue
		}

		delete(s.byHash, hash)
	}
}

func (s *Store) LookupBlockIndex(hash chainhash.Hash) (chainstore.IndexNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.byHash[hash]
	if !ok {
		return nil, false
	}

	return n, true
}

// HeadersAfterLocator finds the first locator hash present on the active
// chain (falling back to genesis) and returns up to maxCount contiguous
// active-chain headers after it, stopping early at hashStop.
func (s *Store) HeadersAfterLocator(locator chainstore.Locator, hashStop chainhash.Hash, maxCount int) []*wire.BlockHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := int32(0)

	for _, h := range locator.Hashes {
		if n, ok := s.byHash[h]; ok {
			if active, ok := s.chainByHeight[n.height]; ok && active.hash == n.hash {
				start = n.height
				break
			}
		}
	}

	var out []*wire.BlockHeader

	for height := start + 1; len(out) < maxCount; height++ {
		n, ok := s.chainByHeight[height]
		if !ok {
			break
		}

		out = append(out, n.header)

		if n.hash == hashStop {
			break
		}
	}

	return out
}

// SubscribeBlockConnected registers fn. Fired, in height order, for every
// header newly connected to the active chain during ActivateBestChain.
func (s *Store) SubscribeBlockConnected(fn func(header *wire.BlockHeader, index chainstore.IndexNode)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = append(s.subs, fn)
}
