// Package coordinator owns the reactor: the transport, address book, anchor
// store, connection manager, sync orchestrator, relay, and dispatcher, and
// the timers that drive outbound dialing, maintenance, and feeler probes
// (spec.md §4.11). Grounded on the Start/Stop/atomic-flag idiom used
// throughout services/legacy/netsync/manager.go (atomic started/shutdown
// guards, a quit channel, a WaitGroup joined on Stop), raised one level to
// coordinate several such reactors together, and on golang.org/x/sync/errgroup
// (a teacher direct dependency) to join the coordinator's own timer
// goroutines.
package coordinator

import (
	"context"
	"math/rand"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitcoin-sv/headerd/addrmgr"
	"github.com/bitcoin-sv/headerd/anchors"
	"github.com/bitcoin-sv/headerd/chaincfg"
	"github.com/bitcoin-sv/headerd/chainstore"
	"github.com/bitcoin-sv/headerd/connmgr"
	"github.com/bitcoin-sv/headerd/dispatcher"
	"github.com/bitcoin-sv/headerd/errors"
	"github.com/bitcoin-sv/headerd/netsync"
	"github.com/bitcoin-sv/headerd/orphans"
	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/relay"
	"github.com/bitcoin-sv/headerd/timesource"
	"github.com/bitcoin-sv/headerd/transport"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"golang.org/x/sync/errgroup"
)

// Default timer periods (spec.md §4.11).
const (
	DefaultOutboundDialInterval    = 5 * time.Second
	DefaultMaintenanceInterval     = 30 * time.Second
	DefaultFeelerMeanInterval      = 2 * time.Minute
	DefaultMaxDialAttemptsPerCycle = 100
	dialTimeout                    = 10 * time.Second
)

// Config supplies the coordinator's dependencies and tunables. ChainStore
// and Params are required; everything else has a usable default.
type Config struct {
	DataDir    string
	ListenAddr string // empty disables inbound listening

	Params     *chaincfg.Params
	ChainStore chainstore.ChainStore
	ConnMgr    connmgr.Config

	Logger    ulogger.Logger
	Transport transport.Transport
	UserAgent string

	OutboundDialInterval    time.Duration
	MaintenanceInterval     time.Duration
	FeelerMeanInterval      time.Duration
	MaxDialAttemptsPerCycle int
}

func (c *Config) setDefaults() {
	if c.OutboundDialInterval == 0 {
		c.OutboundDialInterval = DefaultOutboundDialInterval
	}

	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}

	if c.FeelerMeanInterval == 0 {
		c.FeelerMeanInterval = DefaultFeelerMeanInterval
	}

	if c.MaxDialAttemptsPerCycle == 0 {
		c.MaxDialAttemptsPerCycle = DefaultMaxDialAttemptsPerCycle
	}

	if c.Transport == nil {
		c.Transport = transport.NewTCP()
	}

	if c.UserAgent == "" {
		c.UserAgent = "/headerd:0.1.0/"
	}

	if c.Logger == nil {
		c.Logger = ulogger.New("coordinator")
	}

	if c.ConnMgr.MaxOutbound == 0 && c.ConnMgr.MaxInbound == 0 && c.ConnMgr.MaxPerIP == 0 {
		def := connmgr.DefaultConfig()
		c.ConnMgr.MaxOutbound, c.ConnMgr.MaxInbound, c.ConnMgr.MaxPerIP = def.MaxOutbound, def.MaxInbound, def.MaxPerIP
	}
}

// Coordinator is the reactor owner. A single instance can be Start/Stop'd
// repeatedly; each Start reconstructs the sync and relay reactors, which
// are themselves single-lifecycle, mirroring the teacher's own managers.
type Coordinator struct {
	cfg    Config
	logger ulogger.Logger

	addrBook *addrmgr.AddrManager
	anchors  *anchors.Store
	connMgr  *connmgr.Manager
	orphans  *orphans.Pool
	dispatch *dispatcher.Dispatcher

	sync  *netsync.Manager
	relay *relay.Manager

	localNonce uint64
	rng        *rand.Rand
	timeSource timesource.Source

	pendingMu       sync.Mutex
	pendingOutbound map[uint64]*peer.Peer // remote-reported nonce -> not-yet-READY outbound peer

	running atomic.Bool
	cancel  context.CancelFunc
	eg      *errgroup.Group

	stopped chan struct{}
}

// New constructs a Coordinator. It does not start any goroutines or touch
// the filesystem; call Start for that.
func New(cfg Config) *Coordinator {
	cfg.setDefaults()

	c := &Coordinator{
		cfg:             cfg,
		logger:          cfg.Logger,
		addrBook:        addrmgr.New(),
		anchors:         anchors.New(filepath.Join(cfg.DataDir, "anchors.json")),
		connMgr:         connmgr.New(cfg.ConnMgr, filepath.Join(cfg.DataDir, "banlist.json")),
		dispatch:        dispatcher.New(cfg.Logger),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		timeSource:      timesource.New(),
		pendingOutbound: make(map[uint64]*peer.Peer),
	}

	c.localNonce = c.rng.Uint64()
	c.orphans = orphans.New(cfg.ChainStore, cfg.Logger)

	c.connMgr.Subscribe(c.onPeerRemoved)
	c.registerHandlers()

	cfg.ChainStore.SubscribeBlockConnected(c.onBlockConnected)

	return c
}

func (c *Coordinator) addrBookPath() string { return filepath.Join(c.cfg.DataDir, "peers.json") }

// registerHandlers installs every command handler once; the closures read
// c.sync/c.relay dynamically, so they keep working across a Stop/Start
// cycle that rebuilds those two fields.
func (c *Coordinator) registerHandlers() {
	c.dispatch.Register(wire.CmdVersion, c.handleVersion)
	c.dispatch.Register(wire.CmdVerAck, c.handleVerAck)
	c.dispatch.Register(wire.CmdPing, c.handlePing)
	c.dispatch.Register(wire.CmdPong, c.handlePong)
	c.dispatch.Register(wire.CmdGetHeaders, c.handleGetHeaders)
	c.dispatch.Register(wire.CmdHeaders, c.handleHeaders)
	c.dispatch.Register(wire.CmdInv, c.handleInv)
	c.dispatch.Register(wire.CmdAddr, c.handleAddr)
	c.dispatch.Register(wire.CmdGetAddr, c.handleGetAddr)
}

// Start begins listening (if configured), dials anchors, and launches the
// dial/maintenance/feeler timer goroutines. Idempotent: a second Start on an
// already-running coordinator is a no-op.
func (c *Coordinator) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.connMgr.LoadBans(); err != nil {
		c.logger.Warnf("coordinator: load bans: %v", err)
	}

	if err := c.addrBook.Load(c.addrBookPath()); err != nil {
		c.logger.Warnf("coordinator: load address book: %v", err)
	}

	if err := c.anchors.Load(); err != nil {
		c.logger.Warnf("coordinator: load anchors: %v", err)
	}

	c.sync = netsync.New(netsync.Config{
		ChainStore: c.cfg.ChainStore,
		ConnMgr:    c.connMgr,
		Orphans:    c.orphans,
		Logger:     c.logger,
		Magic:      c.cfg.Params.Magic,
	})
	c.relay = relay.New(relay.Config{ConnMgr: c.connMgr, Logger: c.logger}, c.cfg.Params.Magic)

	if c.cfg.ListenAddr != "" {
		if err := c.cfg.Transport.Listen(c.cfg.ListenAddr, c.onAccept); err != nil {
			c.running.Store(false)
			return errors.New(errors.ErrTransportFailed, errors.KindTransient,
				"listen on %s", c.cfg.ListenAddr, err)
		}
	}

	c.sync.Start()
	c.relay.Start()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	eg, egCtx := errgroup.WithContext(ctx)
	c.eg = eg

	c.stopped = make(chan struct{})

	c.dialAnchors()

	eg.Go(func() error { c.outboundDialLoop(egCtx); return nil })
	eg.Go(func() error { c.maintenanceLoop(egCtx); return nil })
	eg.Go(func() error { c.feelerLoop(egCtx); return nil })

	return nil
}

// Stop runs the shutdown sequence from spec.md §4.11: drop the running
// flag, cancel timers, persist anchors, tear down every peer, stop the
// transport and the sync/relay reactors, join the timer goroutines, then
// persist bans and the address book. Safe to call more than once; only the
// first call does anything.
func (c *Coordinator) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	if err := c.anchors.Save(); err != nil {
		c.logger.Warnf("coordinator: save anchors: %v", err)
	}

	for _, p := range c.connMgr.Peers() {
		c.connMgr.RemovePeer(p.ID())
	}

	if err := c.cfg.Transport.Close(); err != nil {
		c.logger.Warnf("coordinator: close transport: %v", err)
	}

	if err := c.sync.Stop(); err != nil {
		c.logger.Warnf("coordinator: stop sync manager: %v", err)
	}

	if err := c.relay.Stop(); err != nil {
		c.logger.Warnf("coordinator: stop relay manager: %v", err)
	}

	if c.eg != nil {
		_ = c.eg.Wait()
	}

	if err := c.connMgr.SaveBans(); err != nil {
		c.logger.Warnf("coordinator: save bans: %v", err)
	}

	if err := c.addrBook.Save(c.addrBookPath()); err != nil {
		c.logger.Warnf("coordinator: save address book: %v", err)
	}

	close(c.stopped)

	return nil
}

// Done returns a channel closed once the most recent Stop has finished
// running its full sequence, the coordinator's "shutdown condition
// variable" (spec.md §4.11).
func (c *Coordinator) Done() <-chan struct{} { return c.stopped }

func (c *Coordinator) onPeerRemoved(p *peer.Peer) {
	c.clearPendingOutbound(p)

	// RemovePeer has already disconnected p, so READY is read from the
	// handshake latch rather than the current state.
	if p.Direction() == peer.DirOutbound && p.SuccessfullyConnected() {
		c.refreshAnchors()
	}

	if c.sync != nil {
		c.sync.DonePeer(p)
	}

	if c.relay != nil {
		c.relay.DonePeer(p)
	}
}

// registerPendingOutbound records that outbound peer p has received a VERSION
// reporting nonce, so a subsequent inbound VERSION reporting the same nonce
// from the same remote IP can be recognized as a bidirectional duplicate
// (spec.md §4.3's "Duplicate / self-connection rules").
func (c *Coordinator) registerPendingOutbound(nonce uint64, p *peer.Peer) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	c.pendingOutbound[nonce] = p
}

// clearPendingOutbound removes every pending-outbound entry referring to p,
// called once p reaches READY or is removed.
func (c *Coordinator) clearPendingOutbound(p *peer.Peer) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for nonce, pending := range c.pendingOutbound {
		if pending == p {
			delete(c.pendingOutbound, nonce)
		}
	}
}

// bidirectionalDuplicate reports whether nonce matches a not-yet-READY
// outbound peer whose remote IP matches inbound peer p's remote IP: the
// "we dialed them, they dialed us back" race from spec.md §4.3.
func (c *Coordinator) bidirectionalDuplicate(nonce uint64, p *peer.Peer) bool {
	c.pendingMu.Lock()
	pending, ok := c.pendingOutbound[nonce]
	c.pendingMu.Unlock()

	if !ok || pending == p {
		return false
	}

	outboundIP, _, err := net.SplitHostPort(pending.RemoteAddr().String())
	if err != nil {
		return false
	}

	inboundIP, _, err := net.SplitHostPort(p.RemoteAddr().String())
	if err != nil {
		return false
	}

	return outboundIP == inboundIP
}

// onBlockConnected is ChainStore's notification hook. It drops notifications
// during IBD; the relay applies its own age filtering before actually
// announcing (spec.md §4.9).
func (c *Coordinator) onBlockConnected(header *wire.BlockHeader, _ chainstore.IndexNode) {
	if c.cfg.ChainStore.IsInitialBlockDownload() {
		return
	}

	hash := header.BlockHash()

	c.relay.SetCurrentTip(hash)
	c.relay.AnnounceBlock(hash, time.Now(), 0)
}

// ---- accept / dial ----

func (c *Coordinator) onAccept(conn transport.Connection) {
	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		_ = conn.Close()
		return
	}

	if !c.connMgr.CanAcceptInboundFrom(net.ParseIP(ip)) {
		_ = conn.Close()
		return
	}

	id := c.connMgr.AllocatePeerID()
	p := peer.New(peer.Config{ID: id, Direction: peer.DirInbound, Conn: conn, LocalNonce: c.localNonce, Logger: c.logger})

	if err := c.connMgr.AddPeerWithID(id, p); err != nil {
		_ = conn.Close()
		return
	}

	c.attach(p, conn)
	c.sendVersion(p)
}

func (c *Coordinator) dialAnchors() {
	for _, addr := range c.anchors.Anchors() {
		na := wire.NewNetworkAddress(addr.IP, uint16(addr.Port), wire.SFNodeNetwork)
		c.dial(na, peer.DirOutbound)
	}
}

func (c *Coordinator) outboundDialLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.OutboundDialInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.dialCycle()
		}
	}
}

func (c *Coordinator) dialCycle() {
	attempts := 0

	for c.connMgr.NeedsMoreOutbound() && attempts < c.cfg.MaxDialAttemptsPerCycle {
		addr, ok := c.addrBook.Select()
		if !ok {
			return
		}

		attempts++

		c.dial(addr, peer.DirOutbound)
	}
}

func (c *Coordinator) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runMaintenance()
		}
	}
}

func (c *Coordinator) runMaintenance() {
	c.addrBook.CleanupStale()

	now := time.Now()

	for _, p := range c.connMgr.Peers() {
		switch {
		case p.HandshakeExpired(now):
			c.connMgr.RemovePeer(p.ID())
		case p.Idle(now):
			c.connMgr.RemovePeer(p.ID())
		case p.NeedsPing(now):
			nonce := c.rng.Uint64()
			p.MarkPingSent(nonce, now)
			c.sendMessage(p, &wire.MsgPing{Nonce: nonce})
		}
	}
}

// feelerLoop fires at a randomized interval around FeelerMeanInterval,
// probing one untested address each time (spec.md §4.11/"Feeler").
func (c *Coordinator) feelerLoop(ctx context.Context) {
	timer := time.NewTimer(c.nextFeelerDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.fireFeeler()
			timer.Reset(c.nextFeelerDelay())
		}
	}
}

func (c *Coordinator) nextFeelerDelay() time.Duration {
	mean := c.cfg.FeelerMeanInterval
	jitter := 0.5 + c.rng.Float64() // spread the mean across [0.5x, 1.5x)

	return time.Duration(float64(mean) * jitter)
}

func (c *Coordinator) fireFeeler() {
	addr, ok := c.addrBook.SelectFeeler()
	if !ok {
		return
	}

	c.dial(addr, peer.DirFeeler)
}

// ConnectManual dials addr outside the normal selection path, for the
// addnode RPC boundary (spec.md §6).
func (c *Coordinator) ConnectManual(host string, port uint16) {
	ip := net.ParseIP(host)
	if ip == nil {
		return
	}

	na := wire.NewNetworkAddress(ip, port, 0)
	c.dial(na, peer.DirManual)
}

func (c *Coordinator) dial(addr wire.NetworkAddress, dir peer.Direction) {
	id := c.connMgr.AllocatePeerID()
	target := net.JoinHostPort(addr.NetIP().String(), strconv.Itoa(int(addr.Port)))

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)

	c.cfg.Transport.Dial(ctx, target, func(conn transport.Connection, err error) {
		cancel()
		c.handleDialResult(addr, id, dir, conn, err)
	})
}

func (c *Coordinator) handleDialResult(addr wire.NetworkAddress, id int32, dir peer.Direction, conn transport.Connection, err error) {
	if err != nil {
		c.addrBook.MarkFailed(addr)
		c.logger.Debugf("coordinator: dial %s failed: %v", addr.NetIP(), err)

		return
	}

	p := peer.New(peer.Config{ID: id, Direction: dir, Conn: conn, LocalNonce: c.localNonce, Logger: c.logger})

	if addErr := c.connMgr.AddPeerWithID(id, p); addErr != nil {
		var ae *errors.Error
		if errors.As(addErr, &ae) && (ae.Code == errors.ErrAddressBanned || ae.Code == errors.ErrAddressDiscouraged) {
			c.addrBook.MarkFailed(addr)
		}

		_ = conn.Close()

		return
	}

	c.addrBook.MarkAttempt(addr)

	if err := p.TransitionConnected(); err != nil {
		c.connMgr.RemovePeer(id)
		return
	}

	c.attach(p, conn)
	c.sendVersion(p)
}

func (c *Coordinator) attach(p *peer.Peer, conn transport.Connection) {
	p.AttachConnection(conn, c.cfg.Params.Magic, func(cmd wire.Command, msg wire.Message) {
		c.handleMessage(p, cmd, msg)
	}, func(error) {
		c.connMgr.RemovePeer(p.ID())
	})
}

func (c *Coordinator) sendVersion(p *peer.Peer) {
	v := &wire.MsgVersion{
		ProtocolVersion: wire.ProtocolVersion,
		Services:        wire.SFNodeNetwork,
		Timestamp:       c.timeSource.Now().Unix(),
		AddrRecv:        wire.NewNetworkAddress(addrIP(p.RemoteAddr()), addrPort(p.RemoteAddr()), 0),
		Nonce:           c.localNonce,
		UserAgent:       c.cfg.UserAgent,
		StartHeight:     c.cfg.ChainStore.GetChainHeight(),
	}

	c.sendMessage(p, v)
}

func (c *Coordinator) sendMessage(p *peer.Peer, msg wire.Message) {
	if err := p.Send(c.cfg.Params.Magic, msg); err != nil {
		c.logger.Debugf("coordinator: send %s to peer %d: %v", msg.Command(), p.ID(), err)
		c.connMgr.RemovePeer(p.ID())
	}
}

func addrIP(a net.Addr) net.IP {
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return net.IPv4zero
	}

	return net.ParseIP(host)
}

func addrPort(a net.Addr) uint16 {
	_, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return 0
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}

	return uint16(p)
}

// ---- handlers ----

func (c *Coordinator) handleVersion(p *peer.Peer, msg wire.Message) bool {
	v := msg.(*wire.MsgVersion)

	if p.IsSelfConnection(v.Nonce) {
		c.connMgr.RemovePeer(p.ID())
		return true
	}

	if p.Direction() == peer.DirInbound && c.bidirectionalDuplicate(v.Nonce, p) {
		err := errors.New(errors.ErrDuplicateConnection, errors.KindPolicy,
			"inbound from %s duplicates an outstanding outbound connection", p.RemoteAddr())
		c.logger.Debugf("coordinator: %v", err)
		c.connMgr.RemovePeer(p.ID())

		return true
	}

	if err := p.TransitionVersionReceived(v); err != nil {
		return false
	}

	if p.Direction() == peer.DirOutbound {
		c.registerPendingOutbound(v.Nonce, p)
	}

	c.timeSource.AddSample(p.RemoteAddr().String(), time.Unix(v.Timestamp, 0))

	c.sendMessage(p, &wire.MsgVerAck{})

	return true
}

func (c *Coordinator) handleVerAck(p *peer.Peer, _ wire.Message) bool {
	if err := p.TransitionReady(); err != nil {
		return false
	}

	c.clearPendingOutbound(p)

	if p.Direction() == peer.DirFeeler {
		c.addrBook.MarkGood(peerNetAddr(p))
		c.connMgr.RemovePeer(p.ID())

		return true
	}

	c.addrBook.MarkGood(peerNetAddr(p))
	c.sync.NewPeer(p)
	c.relay.NewPeer(p)
	c.refreshAnchors()

	return true
}

// refreshAnchors recomputes the anchor set from the currently READY outbound
// peers, most-recently-connected first, so Stop's anchors.Save persists the
// most-recently-used outbound peers rather than a stale startup snapshot
// (spec.md §4.7).
func (c *Coordinator) refreshAnchors() {
	var outbound []*peer.Peer

	for _, p := range c.connMgr.Peers() {
		if p.Direction() == peer.DirOutbound && p.State() == peer.StateReady {
			outbound = append(outbound, p)
		}
	}

	sort.Slice(outbound, func(i, j int) bool {
		return outbound[i].ConnectedTime().After(outbound[j].ConnectedTime())
	})

	addrs := make([]net.TCPAddr, 0, len(outbound))

	for _, p := range outbound {
		host, port, err := net.SplitHostPort(p.RemoteAddr().String())
		if err != nil {
			continue
		}

		portNum, err := strconv.Atoi(port)
		if err != nil {
			continue
		}

		addrs = append(addrs, net.TCPAddr{IP: net.ParseIP(host), Port: portNum})
	}

	c.anchors.SetAnchors(addrs)
}

func (c *Coordinator) handlePing(p *peer.Peer, msg wire.Message) bool {
	ping := msg.(*wire.MsgPing)
	c.sendMessage(p, &wire.MsgPong{Nonce: ping.Nonce})

	return true
}

func (c *Coordinator) handlePong(p *peer.Peer, msg wire.Message) bool {
	pong := msg.(*wire.MsgPong)
	p.ObservePong(pong.Nonce)

	return true
}

func (c *Coordinator) handleGetHeaders(p *peer.Peer, msg wire.Message) bool {
	c.sync.QueueGetHeaders(p, msg.(*wire.MsgGetHeaders))
	return true
}

func (c *Coordinator) handleHeaders(p *peer.Peer, msg wire.Message) bool {
	c.sync.QueueHeaders(p, msg.(*wire.MsgHeaders))
	return true
}

// handleInv implements spec.md §4.9's receipt side: at most one GETHEADERS
// per INV message, never one per item, and only when some advertised block
// is unknown locally.
func (c *Coordinator) handleInv(p *peer.Peer, msg wire.Message) bool {
	inv := msg.(*wire.MsgInv)

	unknown := false

	for _, iv := range inv.InvList {
		if iv.Type != wire.InvTypeBlock {
			continue
		}

		if _, ok := c.cfg.ChainStore.LookupBlockIndex(iv.Hash); !ok {
			unknown = true
			break
		}
	}

	if !unknown {
		return true
	}

	if c.cfg.ChainStore.IsInitialBlockDownload() && p.ID() != c.sync.SyncPeerID() {
		return true
	}

	locator := c.cfg.ChainStore.GetLocator()
	c.sendMessage(p, &wire.MsgGetHeaders{ProtocolVersion: wire.ProtocolVersion, BlockLocatorHashes: locator.Hashes})

	return true
}

func (c *Coordinator) handleAddr(p *peer.Peer, msg wire.Message) bool {
	a := msg.(*wire.MsgAddr)
	c.addrBook.AddMultiple(a.Addrs, peerNetAddr(p))

	return true
}

func (c *Coordinator) handleGetAddr(p *peer.Peer, _ wire.Message) bool {
	if !p.MarkGotAddrSent() {
		return true
	}

	addrs := c.addrBook.GetAddresses(wire.MaxAddrPerMsg)
	now := uint32(time.Now().Unix())

	out := make([]wire.TimestampedAddress, len(addrs))
	for i, a := range addrs {
		out[i] = wire.TimestampedAddress{Timestamp: now, Addr: a}
	}

	c.sendMessage(p, &wire.MsgAddr{Addrs: out})

	return true
}

func peerNetAddr(p *peer.Peer) wire.NetworkAddress {
	return wire.NewNetworkAddress(addrIP(p.RemoteAddr()), addrPort(p.RemoteAddr()), p.Services())
}

// Dispatch routes one decoded message through the command dispatcher; it is
// exported for direct use by tests exercising the handler wiring without a
// live transport.
func (c *Coordinator) Dispatch(p *peer.Peer, cmd wire.Command, msg wire.Message) bool {
	return c.dispatch.Dispatch(p, cmd, msg)
}

func (c *Coordinator) handleMessage(p *peer.Peer, cmd wire.Command, msg wire.Message) {
	if !c.dispatch.Dispatch(p, cmd, msg) {
		c.connMgr.Penalize(p.ID(), handlerFailurePenalty, "dispatcher: handler failure")
	}
}

// handlerFailurePenalty is charged when a registered handler returns false
// (a decode-adjacent protocol violation, e.g. a malformed VERSION) or
// panics (spec.md §4.4, §4.5's generic misbehavior scoring).
const handlerFailurePenalty = 20
