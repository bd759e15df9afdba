package coordinator

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/bitcoin-sv/headerd/chaincfg"
	"github.com/bitcoin-sv/headerd/chainstore"
	"github.com/bitcoin-sv/headerd/connmgr"
	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/transport"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddr struct{ s string }

func (f fakeAddr) Network() string { return "tcp" }
func (f fakeAddr) String() string  { return f.s }

// fakeConn is a no-op transport.Connection that records every Send.
type fakeConn struct {
	remote net.Addr
	sent   [][]byte
	closed bool
}

func (c *fakeConn) Send(buf []byte) error {
	c.sent = append(c.sent, buf)
	return nil
}
func (c *fakeConn) Close() error                          { c.closed = true; return nil }
func (c *fakeConn) SetRecvCallback(fn func([]byte))       {}
func (c *fakeConn) SetDisconnectCallback(fn func(error))  {}
func (c *fakeConn) RemoteAddr() net.Addr                  { return c.remote }
func (c *fakeConn) IsOpen() bool                          { return !c.closed }
func (c *fakeConn) ID() int64                             { return 1 }

// fakeTransport never produces real connections; Dial always fails and
// Listen always succeeds without accepting anything, enough to exercise
// Start/Stop sequencing without touching a real socket.
type fakeTransport struct {
	listenErr error
	closed    bool
}

func (t *fakeTransport) Dial(_ context.Context, _ string, onResult func(transport.Connection, error)) {
	onResult(nil, assertErr)
}
func (t *fakeTransport) Listen(_ string, _ func(transport.Connection)) error { return t.listenErr }
func (t *fakeTransport) Close() error                                       { t.closed = true; return nil }

var assertErr = net.UnknownNetworkError("fake transport never connects")

type fakeNode struct {
	hash   chainhash.Hash
	height int32
}

func (n *fakeNode) Hash() chainhash.Hash                     { return n.hash }
func (n *fakeNode) Height() int32                            { return n.height }
func (n *fakeNode) CumulativeWork() chainstore.Work          { return chainhash.Hash{} }
func (n *fakeNode) Parent() chainstore.IndexNode             { return nil }
func (n *fakeNode) Valid() bool                              { return true }

type fakeChainStore struct {
	known map[chainhash.Hash]*fakeNode
	ibd   bool
}

func newFakeChainStore() *fakeChainStore {
	return &fakeChainStore{known: make(map[chainhash.Hash]*fakeNode)}
}

func (f *fakeChainStore) AcceptBlockHeader(h *wire.BlockHeader, peerID int32, minPowChecked bool) (chainstore.IndexNode, error) {
	return nil, nil
}
func (f *fakeChainStore) ActivateBestChain() error       { return nil }
func (f *fakeChainStore) GetChainHeight() int32          { return int32(len(f.known)) }
func (f *fakeChainStore) GetTipHash() chainhash.Hash     { return chainhash.Hash{} }
func (f *fakeChainStore) GetTipTime() uint32             { return 0 }
func (f *fakeChainStore) IsInitialBlockDownload() bool   { return f.ibd }
func (f *fakeChainStore) GetLocator() chainstore.Locator { return chainstore.Locator{} }
func (f *fakeChainStore) GetLocatorFromPrev() chainstore.Locator {
	return chainstore.Locator{}
}
func (f *fakeChainStore) GetAntiDoSWorkThreshold(tip chainstore.IndexNode, isIBD bool) chainstore.Work {
	return chainhash.Hash{}
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
	for _, h := range hashes {
		delete(f.known, h)
	}
}

func testParams() *chaincfg.Params {
	return &chaincfg.Params{Name: "coordinator-test", Magic: 0xf9beb4d9}
}

func newTestCoordinator(t *testing.T, tr *fakeTransport) (*Coordinator, *fakeChainStore) {
	t.Helper()

	cs := newFakeChainStore()
	c := New(Config{
		DataDir:    t.TempDir(),
		Params:     testParams(),
		ChainStore: cs,
		ConnMgr:    connmgr.DefaultConfig(),
		Logger:     ulogger.TestLogger(),
		Transport:  tr,
	})

	return c, cs
}

func readyPeerWithConn(id int32, ip string) (*peer.Peer, *fakeConn) {
	conn := &fakeConn{remote: fakeAddr{s: ip}}
	p := peer.New(peer.Config{ID: id, Direction: peer.DirOutbound, LocalNonce: uint64(id), Logger: ulogger.TestLogger(), Conn: conn})

	_ = p.TransitionConnected()
	_ = p.TransitionVersionReceived(&wire.MsgVersion{Nonce: uint64(id) + 1000})
	_ = p.TransitionReady()

	return p, conn
}

func TestStartStopIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{})

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel should be closed after Stop")
	}
}

func TestStartPropagatesListenFailure(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{listenErr: assertErr})
	c.cfg.ListenAddr = "127.0.0.1:0"

	err := c.Start()
	require.Error(t, err)
}

func TestHandleVersionSelfConnectionRemoves(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{})
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := &fakeConn{remote: fakeAddr{s: "1.2.3.4:8633"}}
	p := peer.New(peer.Config{ID: 1, Direction: peer.DirInbound, LocalNonce: c.localNonce, Logger: ulogger.TestLogger(), Conn: conn})
	require.NoError(t, c.connMgr.AddPeerWithID(1, p))

	ok := c.handleVersion(p, &wire.MsgVersion{Nonce: c.localNonce})
	assert.True(t, ok)

	_, found := c.connMgr.Peer(1)
	assert.False(t, found)
}

func TestHandleVersionSendsVerAck(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{})
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := &fakeConn{remote: fakeAddr{s: "1.2.3.4:8633"}}
	p := peer.New(peer.Config{ID: 1, Direction: peer.DirInbound, LocalNonce: c.localNonce, Logger: ulogger.TestLogger(), Conn: conn})

	ok := c.handleVersion(p, &wire.MsgVersion{Nonce: 999})
	assert.True(t, ok)
	assert.Equal(t, peer.StateVersionSent, p.State())
	assert.Len(t, conn.sent, 1)
}

func TestHandlePingRespondsWithPong(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{})
	require.NoError(t, c.Start())
	defer c.Stop()

	p, conn := readyPeerWithConn(1, "1.2.3.4:8633")

	ok := c.handlePing(p, &wire.MsgPing{Nonce: 42})
	assert.True(t, ok)
	require.Len(t, conn.sent, 1)
}

func TestHandleInvIgnoresAlreadyKnownBlocks(t *testing.T) {
	c, cs := newTestCoordinator(t, &fakeTransport{})
	require.NoError(t, c.Start())
	defer c.Stop()

	p, conn := readyPeerWithConn(1, "1.2.3.4:8633")

	var h chainhash.Hash
	h[0] = 7
	cs.known[h] = &fakeNode{hash: h, height: 1}

	ok := c.handleInv(p, &wire.MsgInv{InvList: []*wire.InvVect{{Type: wire.InvTypeBlock, Hash: h}}})
	assert.True(t, ok)
	assert.Empty(t, conn.sent)
}

func TestHandleInvRequestsHeadersForUnknownBlock(t *testing.T) {
	c, cs := newTestCoordinator(t, &fakeTransport{})
	cs.ibd = false
	require.NoError(t, c.Start())
	defer c.Stop()

	p, conn := readyPeerWithConn(1, "1.2.3.4:8633")

	var h chainhash.Hash
	h[0] = 9

	ok := c.handleInv(p, &wire.MsgInv{InvList: []*wire.InvVect{{Type: wire.InvTypeBlock, Hash: h}}})
	assert.True(t, ok)
	assert.Len(t, conn.sent, 1)
}

func TestHandleGetAddrOnlyOnce(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{})
	require.NoError(t, c.Start())
	defer c.Stop()

	p, conn := readyPeerWithConn(1, "1.2.3.4:8633")

	assert.True(t, c.handleGetAddr(p, &wire.MsgGetAddr{}))
	assert.Len(t, conn.sent, 1)

	assert.True(t, c.handleGetAddr(p, &wire.MsgGetAddr{}))
	assert.Len(t, conn.sent, 1)
}

func TestDispatchHandlerFailureIsPenalized(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{})
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := &fakeConn{remote: fakeAddr{s: "1.2.3.4:8633"}}
	p := peer.New(peer.Config{ID: 5, Direction: peer.DirInbound, LocalNonce: c.localNonce, Logger: ulogger.TestLogger(), Conn: conn})
	require.NoError(t, c.connMgr.AddPeerWithID(5, p))

	c.dispatch.Register(wire.CmdVersion, func(p *peer.Peer, msg wire.Message) bool { return false })

	c.handleMessage(p, wire.CmdVersion, &wire.MsgVersion{Nonce: 1})

	assert.Equal(t, handlerFailurePenalty, p.MisbehaviorScore())
}

func TestAddrBookPathUnderDataDir(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeTransport{})
	assert.Equal(t, filepath.Join(c.cfg.DataDir, "peers.json"), c.addrBookPath())
}
