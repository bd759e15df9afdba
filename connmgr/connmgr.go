// Package connmgr owns peer slots, ban/discouragement, misbehavior scoring,
// eviction, and self/duplicate-connection suppression (spec.md §4.5).
// Grounded on the seeding/admission conventions in
// services/legacy/connmgr/seed.go, generalized from Bitcoin's tx/block
// relay connection manager to this headers-only core's slot/penalty model,
// and on util/txmap.go's swiss.Map usage for the peer-id index (per-IP
// counts are a plain Go map).
package connmgr

import (
	"net"
	"sort"
	"sync"

	"github.com/bitcoin-sv/headerd/errors"
	"github.com/bitcoin-sv/headerd/peer"
	"github.com/dolthub/swiss"
)

// Config tunes admission caps (spec.md §4.5 defaults).
type Config struct {
	MaxOutbound int
	MaxInbound  int
	MaxPerIP    int
	Whitelist   []net.IP
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{MaxOutbound: 8, MaxInbound: 125, MaxPerIP: 2}
}

// DiscourageThreshold is the misbehavior score at which a peer without
// NoBan permission is discouraged and disconnected (spec.md §4.5).
const DiscourageThreshold = 100

// Subscriber is notified when a peer is removed, so transient per-peer
// caches (sync, relay, dispatcher) can be pruned (spec.md §4.5).
type Subscriber func(p *peer.Peer)

// Manager is the connection lifecycle manager.
type Manager struct {
	cfg Config

	mu sync.Mutex

	byID   *swiss.Map[int32, *peer.Peer]
	nextID int32

	perIPCount map[string]int

	whitelist map[string]struct{}

	bans        *BanStore
	discouraged *DiscourageStore

	outboundCount int
	inboundCount  int

	subscribers []Subscriber
}

// New constructs a Manager. banPath is where the ban list is persisted;
// pass "" to keep bans in memory only (used by tests).
func New(cfg Config, banPath string) *Manager {
	initPrometheusMetrics()

	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		whitelist[ip.String()] = struct{}{}
	}

	return &Manager{
		cfg:         cfg,
		byID:        swiss.NewMap[int32, *peer.Peer](uint32(cfg.MaxInbound + cfg.MaxOutbound)),
		perIPCount:  make(map[string]int),
		whitelist:   whitelist,
		bans:        NewBanStore(banPath),
		discouraged: NewDiscourageStore(),
	}
}

// LoadBans loads the persisted ban list; a missing file is not an error.
func (m *Manager) LoadBans() error {
	return m.bans.Load()
}

// SaveBans persists the current ban list. The coordinator calls this from
// its shutdown path before logging tears down (spec.md §4.11).
func (m *Manager) SaveBans() error {
	return m.bans.Save()
}

// AllocatePeerID returns a new, monotonically increasing peer id. Callable
// before the connection object exists, so an async Dial's completion
// callback can capture a stable identity ahead of registration (spec.md
// §4.5, §9 "asynchronous connect race").
func (m *Manager) AllocatePeerID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++

	return m.nextID
}

// Subscribe registers fn to be called whenever a peer is removed.
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) isWhitelistedLocked(ip string) bool {
	_, ok := m.whitelist[ip]
	return ok
}

// CanAcceptInboundFrom reports whether an inbound connection from ip should
// be accepted, before any TCP accept-level work happens.
func (m *Manager) CanAcceptInboundFrom(ip net.IP) bool {
	addr := ip.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isWhitelistedLocked(addr) {
		return true
	}

	if m.bans.IsBanned(addr) {
		return false
	}

	if m.discouraged.IsDiscouraged(addr) {
		return false
	}

	if m.perIPCount[addr] >= m.cfg.MaxPerIP {
		return false
	}

	if m.inboundCount >= m.cfg.MaxInbound {
		return false
	}

	return true
}

// NeedsMoreOutbound reports whether the outbound count is below target.
func (m *Manager) NeedsMoreOutbound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.outboundCount < m.cfg.MaxOutbound
}

// AddPeerWithID enrolls p, previously allocated via AllocatePeerID, subject
// to ban/discourage/slot/duplicate checks.
func (m *Manager) AddPeerWithID(id int32, p *peer.Peer) error {
	addr := hostOf(p.RemoteAddr())

	m.mu.Lock()
	defer m.mu.Unlock()

	whitelisted := m.isWhitelistedLocked(addr)

	if !whitelisted {
		if m.bans.IsBanned(addr) {
			return errors.New(errors.ErrAddressBanned, errors.KindPolicy, "address %s is banned", addr)
		}

		if m.discouraged.IsDiscouraged(addr) {
			return errors.New(errors.ErrAddressDiscouraged, errors.KindPolicy, "address %s is discouraged", addr)
		}
	}

	if _, exists := m.byID.Get(id); exists {
		return errors.New(errors.ErrAlreadyConnected, errors.KindPolicy, "peer id %d already connected", id)
	}

	isInbound := p.Direction() == peer.DirInbound

	if isInbound {
		if !whitelisted && m.perIPCount[addr] >= m.cfg.MaxPerIP {
			return errors.New(errors.ErrNoSlotsAvailable, errors.KindCapacity, "per-ip cap reached for %s", addr)
		}

		if m.inboundCount >= m.cfg.MaxInbound {
			return errors.New(errors.ErrNoSlotsAvailable, errors.KindCapacity, "inbound slots full")
		}
	} else if m.outboundCount >= m.cfg.MaxOutbound && p.Direction() != peer.DirFeeler && p.Direction() != peer.DirManual {
		return errors.New(errors.ErrNoSlotsAvailable, errors.KindCapacity, "outbound slots full")
	}

	m.byID.Put(id, p)
	m.perIPCount[addr]++

	if isInbound {
		m.inboundCount++
	} else {
		m.outboundCount++
	}

	prometheusConnmgrPeersConnected.Set(float64(m.byID.Count()))
	prometheusConnmgrInboundConnected.Set(float64(m.inboundCount))
	prometheusConnmgrOutboundConnected.Set(float64(m.outboundCount))

	return nil
}

// RemovePeer tears p down: cancels no timers itself (the coordinator owns
// those) but frees its slot and notifies subscribers exactly once.
func (m *Manager) RemovePeer(id int32) {
	m.mu.Lock()

	p, ok := m.byID.Get(id)
	if !ok {
		m.mu.Unlock()
		return
	}

	addr := hostOf(p.RemoteAddr())

	m.byID.Delete(id)

	if m.perIPCount[addr] > 0 {
		m.perIPCount[addr]--
		if m.perIPCount[addr] == 0 {
			delete(m.perIPCount, addr)
		}
	}

	if p.Direction() == peer.DirInbound {
		m.inboundCount--
	} else {
		m.outboundCount--
	}

	subs := append([]Subscriber(nil), m.subscribers...)

	prometheusConnmgrPeersConnected.Set(float64(m.byID.Count()))
	prometheusConnmgrInboundConnected.Set(float64(m.inboundCount))
	prometheusConnmgrOutboundConnected.Set(float64(m.outboundCount))

	m.mu.Unlock()

	p.Disconnect()

	for _, sub := range subs {
		sub(p)
	}
}

// EvictInboundPeer selects and removes one inbound peer under the tie-break
// order from spec.md §4.5: no handshake first, then oldest connected_time,
// then lowest peer-id.
func (m *Manager) EvictInboundPeer() bool {
	m.mu.Lock()

	candidates := make([]*peer.Peer, 0)

	m.byID.Iter(func(_ int32, p *peer.Peer) (stop bool) {
		if p.Direction() == peer.DirInbound {
			candidates = append(candidates, p)
		}

		return false
	})

	m.mu.Unlock()

	if len(candidates) == 0 {
		return false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		aHandshook := a.SuccessfullyConnected()
		bHandshook := b.SuccessfullyConnected()

		if aHandshook != bHandshook {
			return !aHandshook
		}

		if !a.ConnectedTime().Equal(b.ConnectedTime()) {
			return a.ConnectedTime().Before(b.ConnectedTime())
		}

		return a.ID() < b.ID()
	})

	victim := candidates[0]
	m.RemovePeer(victim.ID())
	prometheusConnmgrEvicted.Inc()

	return true
}

// Penalize adds penalty to peer id's misbehavior score and, once the
// discouragement threshold is crossed for a peer lacking NoBan permission,
// discourages the address and removes the peer (spec.md §4.5).
func (m *Manager) Penalize(id int32, penalty int, reason string) {
	m.mu.Lock()
	p, ok := m.byID.Get(id)
	m.mu.Unlock()

	if !ok {
		return
	}

	prometheusConnmgrPenaltiesApplied.Inc()

	score := p.Misbehave(penalty)
	if score < DiscourageThreshold || p.Permissions().NoBan {
		return
	}

	addr := hostOf(p.RemoteAddr())

	m.mu.Lock()
	whitelisted := m.isWhitelistedLocked(addr)
	m.mu.Unlock()

	if !whitelisted {
		m.discouraged.Discourage(addr)
		prometheusConnmgrDiscouraged.Inc()
	}

	m.RemovePeer(id)
}

// Ban persists a ban for address until untilUnix (0 = permanent). A later
// Ban on a whitelisted address still records the entry; admission remains
// allowed while whitelisted (spec.md §4.5's whitelist/ban independence).
func (m *Manager) Ban(address string, untilUnix int64) {
	m.bans.Ban(address, untilUnix)
	prometheusConnmgrBanned.Inc()
}

func (m *Manager) Unban(address string) { m.bans.Unban(address) }
func (m *Manager) ClearBanned()          { m.bans.ClearAll() }
func (m *Manager) ListBanned() map[string]struct{ BanUntilUnix int64 } {
	out := make(map[string]struct{ BanUntilUnix int64 })

	for addr, t := range m.bans.List() {
		if t.IsZero() {
			out[addr] = struct{ BanUntilUnix int64 }{0}
			continue
		}

		out[addr] = struct{ BanUntilUnix int64 }{t.Unix()}
	}

	return out
}

// Whitelist adds ip to the whitelist, removing any existing ban and
// discouragement (spec.md §4.5).
func (m *Manager) Whitelist(ip net.IP) {
	addr := ip.String()

	m.mu.Lock()
	m.whitelist[addr] = struct{}{}
	m.mu.Unlock()

	m.bans.Unban(addr)
	m.discouraged.Remove(addr)
}

// Peer returns the peer registered under id, if any.
func (m *Manager) Peer(id int32) (*peer.Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.byID.Get(id)
}

// Peers returns a snapshot of all connected peers.
func (m *Manager) Peers() []*peer.Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*peer.Peer, 0, m.byID.Count())
	m.byID.Iter(func(_ int32, p *peer.Peer) (stop bool) {
		out = append(out, p)
		return false
	})

	return out
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}
