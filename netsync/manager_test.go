package netsync

import (
	"testing"
	"time"

	"github.com/bitcoin-sv/headerd/chainstore"
	"github.com/bitcoin-sv/headerd/connmgr"
	headerderrors "github.com/bitcoin-sv/headerd/errors"
	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prevNotFoundErr = headerderrors.New(headerderrors.ErrPrevBlockNotFound, headerderrors.KindProtocolViolation, "prev block not found")

type fakeAddr struct{ s string }

func (f fakeAddr) Network() string { return "tcp" }
func (f fakeAddr) String() string  { return f.s }

type fakeNode struct {
	hash   chainhash.Hash
	height int32
	work   chainhash.Hash
}

func (n *fakeNode) Hash() chainhash.Hash      { return n.hash }
func (n *fakeNode) Height() int32             { return n.height }
func (n *fakeNode) CumulativeWork() chainstore.Work { return n.work }
func (n *fakeNode) Parent() chainstore.IndexNode { return nil }
func (n *fakeNode) Valid() bool               { return true }

type fakeChainStore struct {
	known     map[chainhash.Hash]*fakeNode
	ibd       bool
	accepted  []*wire.BlockHeader
	activated int
	rejected  []chainhash.Hash
	threshold chainstore.Work
}

func newFakeChainStore() *fakeChainStore {
	return &fakeChainStore{known: make(map[chainhash.Hash]*fakeNode), ibd: true}
}

func (f *fakeChainStore) AcceptBlockHeader(h *wire.BlockHeader, peerID int32, minPowChecked bool) (chainstore.IndexNode, error) {
	if _, ok := f.known[h.PrevHash]; !ok && h.PrevHash != (chainhash.Hash{}) {
		return nil, prevNotFoundErr
	}

	hash := h.BlockHash()
	node := &fakeNode{hash: hash, height: int32(len(f.known)) + 1}
	f.known[hash] = node
	f.accepted = append(f.accepted, h)

	return node, nil
}

func (f *fakeChainStore) ActivateBestChain() error { f.activated++; return nil }
func (f *fakeChainStore) GetChainHeight() int32    { return int32(len(f.known)) }
func (f *fakeChainStore) GetTipHash() chainhash.Hash { return chainhash.Hash{} }
func (f *fakeChainStore) GetTipTime() uint32       { return 0 }
func (f *fakeChainStore) IsInitialBlockDownload() bool { return f.ibd }
func (f *fakeChainStore) GetLocator() chainstore.Locator { return chainstore.Locator{} }
func (f *fakeChainStore) GetLocatorFromPrev() chainstore.Locator { return chainstore.Locator{} }
func (f *fakeChainStore) GetAntiDoSWorkThreshold(tip chainstore.IndexNode, isIBD bool) chainstore.Work {
	return f.threshold
}
func (f *fakeChainStore) VerifyHeadersPoW(batch []*wire.BlockHeader) bool { return true }
func (f *fakeChainStore) LookupBlockIndex(hash chainhash.Hash) (chainstore.IndexNode, bool) {
	n, ok := f.known[hash]
	return n, ok
}
func (f *fakeChainStore) HeadersAfterLocator(locator chainstore.Locator, hashStop chainhash.Hash, maxCount int) []*wire.BlockHeader {
	return nil
}
func (f *fakeChainStore) SubscribeBlockConnected(fn func(header *wire.BlockHeader, index chainstore.IndexNode)) {
}
func (f *fakeChainStore) RejectBlockHeaders(hashes []chainhash.Hash) {
	f.rejected = append(f.rejected, hashes...)

	for _, h := range hashes {
		delete(f.known, h)
	}
}

type fakeOrphans struct {
	admitted []*wire.BlockHeader
	reject   bool
}

func (o *fakeOrphans) Admit(h *wire.BlockHeader, peerID int32) bool {
	if o.reject {
		return false
	}

	o.admitted = append(o.admitted, h)

	return true
}

func (o *fakeOrphans) OnHeaderAccepted(parentHash chainhash.Hash) []chainhash.Hash { return nil }

func newTestManager(t *testing.T, cs *fakeChainStore, orphans *fakeOrphans) (*Manager, *connmgr.Manager) {
	t.Helper()

	cm := connmgr.New(connmgr.DefaultConfig(), "")
	mgr := New(Config{
		ChainStore: cs,
		ConnMgr:    cm,
		Orphans:    orphans,
		Logger:     ulogger.TestLogger(),
		Magic:      0xf9beb4d9,
	})

	return mgr, cm
}

func outboundPeer(id int32, ip string) *peer.Peer {
	p := peer.New(peer.Config{
		ID:         id,
		Direction:  peer.DirOutbound,
		LocalNonce: uint64(id),
		RemoteAddr: fakeAddr{s: ip},
	})

	requireNoErr(p.TransitionConnected())
	_ = p.TransitionVersionReceived(&wire.MsgVersion{Nonce: uint64(id) + 1000})
	_ = p.TransitionReady()

	return p
}

func requireNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func TestSyncPeerSelectedOnNewPeer(t *testing.T) {
	cs := newFakeChainStore()
	mgr, _ := newTestManager(t, cs, &fakeOrphans{})

	p := outboundPeer(1, "1.2.3.4:8633")
	mgr.handleNewPeer(p)

	assert.Equal(t, p, mgr.syncPeer)
	assert.True(t, p.SyncStarted())
}

func TestInboundPeerNeverSelectedAsSyncPeer(t *testing.T) {
	cs := newFakeChainStore()
	mgr, _ := newTestManager(t, cs, &fakeOrphans{})

	p := peer.New(peer.Config{ID: 1, Direction: peer.DirInbound, RemoteAddr: fakeAddr{s: "1.2.3.4:1"}})
	mgr.handleNewPeer(p)

	assert.Nil(t, mgr.syncPeer)
}

func TestDonePeerClearsAndReselects(t *testing.T) {
	cs := newFakeChainStore()
	mgr, cm := newTestManager(t, cs, &fakeOrphans{})

	p1 := outboundPeer(1, "1.2.3.4:8633")
	p2 := outboundPeer(2, "5.6.7.8:8633")
	require.NoError(t, cm.AddPeerWithID(1, p1))
	require.NoError(t, cm.AddPeerWithID(2, p2))

	mgr.handleNewPeer(p1)
	mgr.handleNewPeer(p2)
	assert.Equal(t, p1, mgr.syncPeer)

	// As in the coordinator, the peer leaves the connection manager before
	// the orchestrator hears it is done.
	cm.RemovePeer(1)
	mgr.handleDonePeer(p1)

	assert.Equal(t, p2, mgr.syncPeer)
	assert.False(t, p1.SyncStarted())
}

func TestHeadersBatchAcceptedAndActivates(t *testing.T) {
	cs := newFakeChainStore()
	mgr, _ := newTestManager(t, cs, &fakeOrphans{})
	cs.ibd = true
	cs.known[chainhash.Hash{}] = &fakeNode{} // genesis parent is locally known

	p := outboundPeer(1, "1.2.3.4:8633")
	mgr.handleNewPeer(p)

	h1 := &wire.BlockHeader{PrevHash: chainhash.Hash{}}
	mgr.handleHeaders(p, &wire.MsgHeaders{Headers: []*wire.BlockHeader{h1}})

	assert.Equal(t, 1, cs.activated)
	assert.Len(t, cs.accepted, 1)
}

func TestNonContinuousHeadersPenalized(t *testing.T) {
	cs := newFakeChainStore()
	mgr, cm := newTestManager(t, cs, &fakeOrphans{})

	p := outboundPeer(1, "1.2.3.4:8633")
	require.NoError(t, cm.AddPeerWithID(1, p))
	mgr.handleNewPeer(p)

	h1 := &wire.BlockHeader{PrevHash: chainhash.Hash{}}
	h2 := &wire.BlockHeader{PrevHash: chainhash.Hash{0xff}} // does not chain to h1

	mgr.handleHeaders(p, &wire.MsgHeaders{Headers: []*wire.BlockHeader{h1, h2}})

	assert.Equal(t, 0, cs.activated)
	assert.Equal(t, 20, p.MisbehaviorScore())
}

func TestOversizedHeadersBatchPenalized(t *testing.T) {
	cs := newFakeChainStore()
	mgr, cm := newTestManager(t, cs, &fakeOrphans{})

	p := outboundPeer(1, "1.2.3.4:8633")
	require.NoError(t, cm.AddPeerWithID(1, p))
	mgr.handleNewPeer(p)

	headers := make([]*wire.BlockHeader, MaxHeadersSize+1)
	for i := range headers {
		headers[i] = &wire.BlockHeader{}
	}

	mgr.handleHeaders(p, &wire.MsgHeaders{Headers: headers})

	assert.Equal(t, 20, p.MisbehaviorScore())
}

func TestUnconnectingFirstHeaderGoesToOrphanPool(t *testing.T) {
	cs := newFakeChainStore()
	orphans := &fakeOrphans{}
	mgr, _ := newTestManager(t, cs, orphans)

	p := outboundPeer(1, "1.2.3.4:8633")
	mgr.handleNewPeer(p)

	unknown := &wire.BlockHeader{PrevHash: chainhash.Hash{0x42}}
	mgr.handleHeaders(p, &wire.MsgHeaders{Headers: []*wire.BlockHeader{unknown}})

	assert.Len(t, orphans.admitted, 1)
	assert.Equal(t, 1, cs.activated) // activation runs once per batch, even when nothing connected
}

func TestStallDetectionDisconnectsSyncPeer(t *testing.T) {
	cs := newFakeChainStore()
	mgr, cm := newTestManager(t, cs, &fakeOrphans{})

	p := outboundPeer(1, "1.2.3.4:8633")
	require.NoError(t, cm.AddPeerWithID(1, p))
	mgr.handleNewPeer(p)

	mgr.lastHeadersTime = time.Now().Add(-StallTimeout - time.Second)
	mgr.checkSyncPeer()

	assert.Nil(t, mgr.syncPeer)
	_, ok := cm.Peer(1)
	assert.False(t, ok)
}

func TestLowWorkHeadersBatchPurgedFromIndex(t *testing.T) {
	cs := newFakeChainStore()
	cs.ibd = false
	cs.threshold = chainhash.Hash{0xff}

	mgr, cm := newTestManager(t, cs, &fakeOrphans{})

	p := outboundPeer(1, "1.2.3.4:8633")
	require.NoError(t, cm.AddPeerWithID(1, p))
	mgr.handleNewPeer(p)

	parent := chainhash.Hash{0x1}
	cs.known[parent] = &fakeNode{hash: parent, height: 0}

	h1 := &wire.BlockHeader{PrevHash: parent}
	mgr.handleHeaders(p, &wire.MsgHeaders{Headers: []*wire.BlockHeader{h1}})

	assert.Equal(t, 0, cs.activated)
	assert.Len(t, cs.rejected, 1)
	assert.Equal(t, h1.BlockHash(), cs.rejected[0])
	_, stillIndexed := cs.known[h1.BlockHash()]
	assert.False(t, stillIndexed)
	assert.Equal(t, penaltyLowWorkHeaders, p.MisbehaviorScore())
}

func TestEmptyHeadersKeepsSyncDesignation(t *testing.T) {
	cs := newFakeChainStore()
	mgr, _ := newTestManager(t, cs, &fakeOrphans{})

	p := outboundPeer(1, "1.2.3.4:8633")
	mgr.handleNewPeer(p)

	before := mgr.lastHeadersTime
	time.Sleep(time.Millisecond)

	mgr.handleHeaders(p, &wire.MsgHeaders{Headers: nil})

	assert.Equal(t, p, mgr.syncPeer)
	assert.True(t, mgr.lastHeadersTime.After(before))
}
