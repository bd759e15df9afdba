// Package peer implements the per-connection protocol state machine:
// handshake negotiation, timers, send queue, and flood guard. The state
// machine itself is grounded on services/blockchain/Server.go's use of
// github.com/looplab/fsm (finiteStateMachine field, NewFSM-backed
// Current()/Event() calls); the negotiation/counter field shapes follow
// other_examples/348f25d0_hirowhite-bmd__peer.go.go's Peer struct,
// generalized from bitmessage streams to this chain's headers-only
// VERSION/VERACK handshake.
package peer

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/bitcoin-sv/headerd/errors"
	"github.com/bitcoin-sv/headerd/transport"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
	"github.com/looplab/fsm"
)

// Direction classifies how a connection was established.
type Direction int

const (
	DirInbound Direction = iota
	DirOutbound
	DirFeeler
	DirManual
)

func (d Direction) String() string {
	switch d {
	case DirOutbound:
		return "outbound"
	case DirFeeler:
		return "feeler"
	case DirManual:
		return "manual"
	default:
		return "inbound"
	}
}

// States, named to match spec.md §4.3 exactly.
const (
	StateConnecting   = "CONNECTING"
	StateConnected    = "CONNECTED"
	StateVersionSent  = "VERSION_SENT"
	StateReady        = "READY"
	StateDisconnected = "DISCONNECTED"
)

// Events drive the FSM transitions in the table from spec.md §4.3.
const (
	EventTCPEstablished  = "tcp_established"
	EventVersionReceived = "version_received"
	EventVerAckReceived  = "verack_received"
	EventDisconnect      = "disconnect"
)

// Permissions grants admission-time exemptions to a peer.
type Permissions struct {
	NoBan       bool
	Whitelisted bool
}

// Handshake timing and flood-guard limits (spec.md §4.3).
const (
	HandshakeTimeout    = 60 * time.Second
	PingInterval        = 120 * time.Second
	InactivityTimeout   = 20 * time.Minute
	DefaultFloodLimit   = 5 * 1024 * 1024
	MaxInvalidHeaders   = 64
	MaxUnconnectingHdrs = 10
)

// Peer is a single connection's protocol state machine. All mutation is
// expected to happen on the coordinator's single reactor goroutine; no
// internal locking is used for the hot fields, matching spec.md §5's
// single-threaded reactor model. The mutex guards only fields that the
// RPC/CLI boundary (getpeerinfo, setban) may read from another goroutine.
type Peer struct {
	mu sync.RWMutex

	id        int32
	direction Direction
	conn      transport.Connection
	remote    net.Addr
	perms     Permissions
	logger    ulogger.Logger

	fsm *fsm.FSM

	// Negotiation state.
	localNonce  uint64
	peerNonce   uint64
	version     int32
	services    wire.ServiceFlag
	userAgent   string
	startHeight int32

	successfullyConnected bool
	sentOurVersion        bool
	sentVerAck            bool

	// Counters.
	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64
	misbehaviorScore int
	unconnectingHdrs int
	invalidHeaders   map[wire.Command]struct{}

	lastActivity time.Time
	lastPingSend time.Time
	pingNonce    uint64
	pingOutstanding bool

	connectedTime time.Time

	// Announcement state, consulted by the relay package.
	pendingInv  []wire.InvVect
	invSeen     map[[32]byte]struct{}
	syncStarted bool
	lastTipTTL  time.Time

	queuedBytes int
	gotAddrOnce bool

	// recvBuf accumulates bytes delivered by the transport's recv callback
	// until a complete frame can be parsed (spec.md §4.3 "Buffering").
	recvBuf []byte
}

// Config supplies the immutable fields a new Peer is constructed with.
type Config struct {
	ID          int32
	Direction   Direction
	Conn        transport.Connection
	Permissions Permissions
	LocalNonce  uint64
	Logger      ulogger.Logger

	// RemoteAddr overrides the address reported by Conn.RemoteAddr(), for
	// constructing peers ahead of a live connection (e.g. a pre-registered
	// outbound reservation, or tests that don't wire a real transport).
	RemoteAddr net.Addr
}

// New constructs a Peer in CONNECTING state (outbound) or CONNECTED
// (inbound, since accept() already implies an established TCP stream).
func New(cfg Config) *Peer {
	initPrometheusMetrics()

	initial := StateConnected
	if cfg.Direction == DirOutbound || cfg.Direction == DirFeeler || cfg.Direction == DirManual {
		initial = StateConnecting
	}

	p := &Peer{
		id:             cfg.ID,
		direction:      cfg.Direction,
		conn:           cfg.Conn,
		perms:          cfg.Permissions,
		logger:         cfg.Logger,
		localNonce:     cfg.LocalNonce,
		invalidHeaders: make(map[wire.Command]struct{}),
		invSeen:        make(map[[32]byte]struct{}),
		lastActivity:   time.Now(),
	}

	switch {
	case cfg.Conn != nil:
		p.remote = cfg.Conn.RemoteAddr()
	case cfg.RemoteAddr != nil:
		p.remote = cfg.RemoteAddr
	}

	p.fsm = fsm.NewFSM(initial, fsm.Events{
		{Name: EventTCPEstablished, Src: []string{StateConnecting}, Dst: StateConnected},
		{Name: EventVersionReceived, Src: []string{StateConnected}, Dst: StateVersionSent},
		{Name: EventVerAckReceived, Src: []string{StateVersionSent}, Dst: StateReady},
		{Name: EventDisconnect, Src: []string{StateConnecting, StateConnected, StateVersionSent, StateReady}, Dst: StateDisconnected},
	}, fsm.Callbacks{
		"enter_" + StateReady: func(_ context.Context, _ *fsm.Event) {
			p.successfullyConnected = true
		},
	})

	return p
}

func (p *Peer) ID() int32              { return p.id }
func (p *Peer) Direction() Direction    { return p.direction }
func (p *Peer) RemoteAddr() net.Addr    { return p.remote }
func (p *Peer) Permissions() Permissions {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.perms
}

func (p *Peer) State() string { return p.fsm.Current() }

func (p *Peer) SuccessfullyConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.successfullyConnected
}

// fire drives the fsm and keeps the exported latch in sync under the lock
// so getpeerinfo reads are never torn.
func (p *Peer) fire(event string) error {
	if err := p.fsm.Event(context.Background(), event); err != nil {
		return err
	}

	p.mu.Lock()
	p.successfullyConnected = p.fsm.Is(StateReady) || p.successfullyConnected
	p.mu.Unlock()

	return nil
}

// TransitionConnected moves an outbound peer from CONNECTING to CONNECTED
// once the transport reports the TCP handshake finished.
func (p *Peer) TransitionConnected() error {
	return p.fire(EventTCPEstablished)
}

// TransitionVersionReceived records the peer's VERSION fields and advances
// the state machine. A second VERSION on an already-negotiated peer is
// ignored without error (spec.md §4.3's "exactly one VERSION" rule).
func (p *Peer) TransitionVersionReceived(v *wire.MsgVersion) error {
	if p.State() != StateConnected {
		return nil
	}

	p.peerNonce = v.Nonce
	p.version = v.ProtocolVersion
	p.services = v.Services
	p.userAgent = v.UserAgent
	p.startHeight = v.StartHeight

	return p.fire(EventVersionReceived)
}

// TransitionReady advances VERSION_SENT -> READY on VERACK receipt. A
// second VERACK after the latch is already set is a no-op.
func (p *Peer) TransitionReady() error {
	if p.SuccessfullyConnected() {
		return nil
	}

	return p.fire(EventVerAckReceived)
}

// Disconnect forces DISCONNECTED from any state and closes the transport.
func (p *Peer) Disconnect() {
	if p.fsm.Is(StateDisconnected) {
		return
	}

	_ = p.fire(EventDisconnect)

	prometheusPeerDisconnects.Inc()

	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsSelfConnection reports whether nonce matches our own outbound nonce,
// the self-connection check from spec.md §4.3.
func (p *Peer) IsSelfConnection(nonce uint64) bool {
	return nonce == p.localNonce
}

func (p *Peer) PeerNonce() uint64        { return p.peerNonce }
func (p *Peer) AdvertisedVersion() int32 { return p.version }
func (p *Peer) Services() wire.ServiceFlag { return p.services }
func (p *Peer) UserAgent() string        { return p.userAgent }
func (p *Peer) StartHeight() int32       { return p.startHeight }
func (p *Peer) ConnectedTime() time.Time { return p.connectedTime }

func (p *Peer) BytesSent() uint64     { return p.bytesSent }
func (p *Peer) BytesReceived() uint64 { return p.bytesReceived }
func (p *Peer) MessagesSent() uint64  { return p.messagesSent }
func (p *Peer) MessagesReceived() uint64 { return p.messagesReceived }

// RecordSent marks activity and accounts a message out.
func (p *Peer) RecordSent(n int) {
	p.messagesSent++
	p.bytesSent += uint64(n)

	prometheusPeerMessagesSent.Inc()
	prometheusPeerBytesSent.Add(float64(n))
}

// RecordReceived marks activity and accounts a message in.
func (p *Peer) RecordReceived(n int) {
	p.messagesReceived++
	p.bytesReceived += uint64(n)
	p.lastActivity = time.Now()

	prometheusPeerMessagesRecv.Inc()
	prometheusPeerBytesReceived.Add(float64(n))
}

// Send frames msg under magic and writes it through the transport,
// tracking outbound queue depth for the flood guard. It returns an error
// when no connection is attached.
func (p *Peer) Send(magic uint32, msg wire.Message) error {
	if p.conn == nil {
		return errors.New(errors.ErrTransportFailed, errors.KindTransient,
			"peer %d has no connection attached", p.id)
	}

	var buf writeCounter

	if err := wire.EncodeMessage(&buf, magic, msg); err != nil {
		return err
	}

	p.queuedBytes += buf.n
	if p.queuedBytes > DefaultFloodLimit {
		return errors.New(errors.ErrFloodLimitExceeded, errors.KindCapacity,
			"peer %d send queue %d exceeds flood limit %d", p.id, p.queuedBytes, DefaultFloodLimit)
	}

	if err := p.conn.Send(buf.buf); err != nil {
		return err
	}

	p.RecordSent(buf.n)

	return nil
}

// AttachConnection wires conn as p's transport, installing the recv and
// disconnect callbacks that drive frame buffering/parsing (spec.md §4.3
// "Buffering"). onMessage is invoked once per fully decoded frame, serially
// on the transport's read goroutine, so callers must not block it; route
// into the dispatcher's single reactor from there. onDisconnect fires
// exactly once when the connection closes for any reason.
func (p *Peer) AttachConnection(conn transport.Connection, magic uint32, onMessage func(wire.Command, wire.Message), onDisconnect func(error)) {
	p.conn = conn

	conn.SetRecvCallback(func(chunk []byte) {
		p.handleIncoming(magic, chunk, onMessage)
	})
	conn.SetDisconnectCallback(onDisconnect)
}

// handleIncoming appends chunk to the parse buffer, disconnecting if the
// flood limit is exceeded before a complete frame arrives, then drains as
// many complete frames as the buffer now holds.
func (p *Peer) handleIncoming(magic uint32, chunk []byte, onMessage func(wire.Command, wire.Message)) {
	p.recvBuf = append(p.recvBuf, chunk...)

	if len(p.recvBuf) > DefaultFloodLimit {
		p.logger.Warnf("peer %d: recv buffer exceeds flood limit, disconnecting", p.id)
		p.Disconnect()

		return
	}

	for {
		cmd, msg, consumed, ok, err := p.tryParseFrame(magic)
		if err != nil {
			p.logger.Warnf("peer %d: frame parse error, disconnecting: %v", p.id, err)
			p.Disconnect()

			return
		}

		if !ok {
			return
		}

		p.recvBuf = p.recvBuf[consumed:]
		p.RecordReceived(consumed)

		if onMessage != nil {
			onMessage(cmd, msg)
		}
	}
}

// tryParseFrame attempts to decode one complete frame from the front of
// recvBuf. ok is false when the buffer doesn't yet hold a full frame; err is
// non-nil only for an actual protocol violation (bad magic, checksum
// mismatch, oversized payload, malformed payload).
func (p *Peer) tryParseFrame(magic uint32) (cmd wire.Command, msg wire.Message, consumed int, ok bool, err error) {
	if len(p.recvBuf) < wire.MessageHeaderSize {
		return "", nil, 0, false, nil
	}

	fh, err := wire.DecodeFrameHeader(bytes.NewReader(p.recvBuf), magic)
	if err != nil {
		return "", nil, 0, false, err
	}

	total := wire.MessageHeaderSize + int(fh.PayloadLength)
	if len(p.recvBuf) < total {
		return "", nil, 0, false, nil
	}

	cmd, msg, err = wire.ReadMessage(bytes.NewReader(p.recvBuf[:total]), magic, wire.NewMessage)
	if err != nil {
		return "", nil, 0, false, err
	}

	return cmd, msg, total, true, nil
}

// writeCounter is an io.Writer that accumulates bytes written, used to size
// a message before handing it to the connection.
type writeCounter struct {
	buf []byte
	n   int
}

func (w *writeCounter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	w.n += len(p)
	return len(p), nil
}

// Misbehave adds penalty to the score and returns the updated total;
// callers consult it against the discouragement threshold.
func (p *Peer) Misbehave(penalty int) int {
	p.misbehaviorScore += penalty
	return p.misbehaviorScore
}

func (p *Peer) MisbehaviorScore() int { return p.misbehaviorScore }

// IncrUnconnectingHeaders tracks consecutive HEADERS batches whose first
// header doesn't connect locally (spec.md §4.8 step 3).
func (p *Peer) IncrUnconnectingHeaders() int {
	p.unconnectingHdrs++
	return p.unconnectingHdrs
}

func (p *Peer) ResetUnconnectingHeaders() { p.unconnectingHdrs = 0 }

// HandshakeExpired reports whether the 60s CONNECTED->READY window elapsed.
func (p *Peer) HandshakeExpired(now time.Time) bool {
	if p.SuccessfullyConnected() {
		return false
	}

	return now.Sub(p.lastActivity) > HandshakeTimeout
}

// Idle reports whether the peer has gone silent past the inactivity window.
func (p *Peer) Idle(now time.Time) bool {
	return now.Sub(p.lastActivity) > InactivityTimeout
}

// NeedsPing reports whether a READY peer is due for a liveness ping.
func (p *Peer) NeedsPing(now time.Time) bool {
	return p.State() == StateReady && !p.pingOutstanding && now.Sub(p.lastPingSend) > PingInterval
}

// MarkPingSent records an outstanding ping nonce.
func (p *Peer) MarkPingSent(nonce uint64, now time.Time) {
	p.pingNonce = nonce
	p.pingOutstanding = true
	p.lastPingSend = now
}

// ObservePong reports whether nonce matches the outstanding ping.
func (p *Peer) ObservePong(nonce uint64) bool {
	if !p.pingOutstanding || nonce != p.pingNonce {
		return false
	}

	p.pingOutstanding = false

	return true
}

// MarkGotAddrSent reports whether this is the first GETADDR for the
// connection, per spec.md §4.3's "once per connection" rule, and records it.
func (p *Peer) MarkGotAddrSent() bool {
	if p.gotAddrOnce {
		return false
	}

	p.gotAddrOnce = true

	return true
}

// SyncStarted reports whether this connection was ever designated the sync
// peer (spec.md §4.8); the flag persists across partial/empty batches and
// clears only on disconnect.
func (p *Peer) SyncStarted() bool { return p.syncStarted }

func (p *Peer) SetSyncStarted(v bool) { p.syncStarted = v }
