// Package chainstore declares the interface this core consumes for
// chain-state storage and best-chain activation. It is an external
// collaborator (spec.md §6): headerd never implements it, only calls it.
package chainstore

import (
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// Work is cumulative chain work, compared lexically by callers.
type Work = chainhash.Hash

// IndexNode is the subset of a chain-store's block index the core reads.
// The core never mutates these fields; ChainStore owns their lifecycle.
type IndexNode interface {
	Hash() chainhash.Hash
	Height() int32
	CumulativeWork() Work
	Parent() IndexNode
	Valid() bool
}

// Locator is an exponentially-sparse list of ancestor hashes used to
// negotiate a common ancestor with a peer (spec.md §4.8).
type Locator struct {
	Hashes []chainhash.Hash
}

// ChainStore is consumed by the sync orchestrator and the dispatcher's
// getheaders handler. Implementations must be safe to call from the single
// reactor execution context only; no internal locking is assumed here.
type ChainStore interface {
	// AcceptBlockHeader validates and stores a single header on behalf of
	// peerID. minPowChecked signals the batch already passed the cheap
	// pre-filter so the store need not repeat it.
	AcceptBlockHeader(header *wire.BlockHeader, peerID int32, minPowChecked bool) (IndexNode, error)

	// ActivateBestChain re-evaluates the best tip after a batch of headers
	// has been accepted. Called exactly once per processed HEADERS batch.
	ActivateBestChain() error

	GetChainHeight() int32
	GetTipHash() chainhash.Hash
	GetTipTime() uint32

	IsInitialBlockDownload() bool

	GetLocator() Locator
	GetLocatorFromPrev() Locator

	// GetAntiDoSWorkThreshold returns the minimum cumulative work a batch's
	// resulting tip must reach to be accepted once IBD has ended; zero
	// during IBD. Work values are big-endian byte strings comparable with
	// bytes.Compare, so the minimum is itself expressed as a Work rather
	// than a delta.
	GetAntiDoSWorkThreshold(tip IndexNode, isIBD bool) Work

	// VerifyHeadersPoW performs the cheap commitment check over a batch,
	// ahead of any per-header structural validation.
	VerifyHeadersPoW(batch []*wire.BlockHeader) bool

	LookupBlockIndex(hash chainhash.Hash) (IndexNode, bool)

	// RejectBlockHeaders purges previously-accepted-but-never-activated
	// headers from the index. Called when a batch trips the anti-DoS
	// low-work gate after its headers were provisionally accepted, so a
	// later, unrelated batch's ActivateBestChain can never resurrect them
	// (spec.md §4.8 step 6). A no-op for any hash already connected to the
	// active chain.
	RejectBlockHeaders(hashes []chainhash.Hash)

	// HeadersAfterLocator serves an incoming GETHEADERS: find the first
	// locator hash present on the active chain (genesis if none match), then
	// return up to maxCount contiguous active-chain headers after it,
	// stopping early at hashStop if non-zero (spec.md §4.8 "Serving
	// GETHEADERS").
	HeadersAfterLocator(locator Locator, hashStop chainhash.Hash, maxCount int) []*wire.BlockHeader

	// SubscribeBlockConnected registers fn to be called for every block
	// connected to the active chain. The core filters IBD/age/reorg noise
	// itself; ChainStore fires unconditionally.
	SubscribeBlockConnected(fn func(header *wire.BlockHeader, index IndexNode))
}
