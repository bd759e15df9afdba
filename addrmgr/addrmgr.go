// Package addrmgr implements the address book: tried/new bucket tables,
// weighted selection, feeler support, and JSON persistence (spec.md §4.6).
// No source file in the retrieval pack implements a btcsuite-style address
// manager directly, so the bucket/selection shape here follows the
// general btcd/dcrd addrmgr convention visible across other_examples/'s
// btcsuite-family forks, using github.com/cespare/xxhash/v2 (rather than a
// hand-rolled FNV) for the bucket-assignment hash, per spec.md §9's
// explicit call for a non-lossy binary key with a custom hasher.
package addrmgr

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/bitcoin-sv/headerd/wire"
	"github.com/cespare/xxhash/v2"
)

const (
	newBucketCount    = 64
	triedBucketCount  = 64
	bucketCapacity    = 64
	maxGetAddresses   = 2500
	staleNewAge       = 30 * 24 * time.Hour
	selectCooldown    = 10 * time.Minute
	cooldownBypassTry = 3
)

// KnownAddress is one address book entry (spec.md §3).
type KnownAddress struct {
	Addr        wire.NetworkAddress
	Source      wire.NetworkAddress
	Timestamp   uint32
	LastSuccess time.Time
	LastAttempt time.Time
	Attempts    int
	Tried       bool
}

func (ka *KnownAddress) key() [18]byte { return ka.Addr.Key() }

// isTerrible reports whether addr is unfit for admission: extreme clock
// skew in the future or in the clearly-expired past.
func isTerrible(now time.Time, ka *KnownAddress) bool {
	if ka.Timestamp == 0 {
		return false
	}

	ts := time.Unix(int64(ka.Timestamp), 0)

	return ts.After(now.Add(10*time.Minute)) || now.Sub(ts) > staleNewAge
}

// nonRoutableNets lists the private, documentation and other reserved blocks
// that mirror the non-routable ranges btcd/dcrd's addrmgr excludes from the address
// book; an attacker cannot grow our peer set with addresses we could never
// usefully dial.
var nonRoutableNets = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"2001:db8::/32",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, len(cidrs))

	for i, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}

		nets[i] = n
	}

	return nets
}

// IsRoutable reports whether ip is plausibly reachable over the public
// internet: not unspecified, not loopback/link-local/multicast, and not in
// a private (RFC1918-family) or documentation range (spec.md §4.6's "reject
// non-routable per policy").
func IsRoutable(ip net.IP) bool {
	if ip == nil || ip.IsUnspecified() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return false
	}

	for _, n := range nonRoutableNets {
		if n.Contains(ip) {
			return false
		}
	}

	return true
}

// AddrManager is the tried/new address book.
type AddrManager struct {
	mu sync.Mutex

	newTable   map[[18]byte]*KnownAddress
	triedTable map[[18]byte]*KnownAddress

	rng *rand.Rand
}

// New returns an empty address book.
func New() *AddrManager {
	return &AddrManager{
		newTable:   make(map[[18]byte]*KnownAddress),
		triedTable: make(map[[18]byte]*KnownAddress),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// bucketOf assigns addr to one of newBucketCount/triedBucketCount logical
// buckets via xxhash, used only to bound per-bucket capacity; lookups stay
// O(1) via the flat table keyed on Addr.Key().
func bucketOf(key [18]byte, numBuckets uint64) uint64 {
	return xxhash.Sum64(key[:]) % numBuckets
}

func (m *AddrManager) countInBucket(table map[[18]byte]*KnownAddress, numBuckets uint64, bucket uint64) int {
	n := 0

	for k := range table {
		if bucketOf(k, numBuckets) == bucket {
			n++
		}
	}

	return n
}

// Add inserts addr learned from source if not already present and not
// terrible; capacity-bounded per bucket (spec.md §4.6).
func (m *AddrManager) Add(addr wire.NetworkAddress, source wire.NetworkAddress, timestamp uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !IsRoutable(addr.NetIP()) {
		return
	}

	key := addr.Key()

	if _, ok := m.triedTable[key]; ok {
		return
	}

	if _, ok := m.newTable[key]; ok {
		return
	}

	ka := &KnownAddress{Addr: addr, Source: source, Timestamp: timestamp}
	if isTerrible(time.Now(), ka) {
		return
	}

	bucket := bucketOf(key, newBucketCount)
	if m.countInBucket(m.newTable, newBucketCount, bucket) >= bucketCapacity {
		return
	}

	m.newTable[key] = ka
}

// AddMultiple batch-adds a peer's ADDR payload.
func (m *AddrManager) AddMultiple(addrs []wire.TimestampedAddress, source wire.NetworkAddress) {
	for _, a := range addrs {
		m.Add(a.Addr, source, a.Timestamp)
	}
}

func (m *AddrManager) find(key [18]byte) (*KnownAddress, bool) {
	if ka, ok := m.triedTable[key]; ok {
		return ka, true
	}

	if ka, ok := m.newTable[key]; ok {
		return ka, true
	}

	return nil, false
}

// MarkAttempt records a connection attempt.
func (m *AddrManager) MarkAttempt(addr wire.NetworkAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ka, ok := m.find(addr.Key()); ok {
		ka.LastAttempt = time.Now()
		ka.Attempts++
	}
}

// MarkFailed counts a failed attempt; it never removes a tried entry
// (spec.md §4.6).
func (m *AddrManager) MarkFailed(addr wire.NetworkAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ka, ok := m.find(addr.Key()); ok {
		ka.Attempts++
		ka.LastAttempt = time.Now()
	}
}

// MarkGood promotes addr from new to tried. If its tried bucket is full, the
// entry stays in the new table unchanged.
func (m *AddrManager) MarkGood(addr wire.NetworkAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := addr.Key()

	ka, ok := m.newTable[key]
	if !ok {
		ka, ok = m.triedTable[key]
		if !ok {
			return
		}
	} else {
		bucket := bucketOf(key, triedBucketCount)
		if m.countInBucket(m.triedTable, triedBucketCount, bucket) >= bucketCapacity {
			return
		}

		delete(m.newTable, key)
	}

	ka.Tried = true
	ka.Attempts = 0
	ka.LastSuccess = time.Now()
	ka.LastAttempt = ka.LastSuccess

	m.triedTable[key] = ka
}

// selectable reports whether ka may be returned by Select: either past its
// cooldown, or has accumulated enough failures to bypass starvation.
func selectable(now time.Time, ka *KnownAddress) bool {
	if ka.LastAttempt.IsZero() {
		return true
	}

	if now.Sub(ka.LastAttempt) > selectCooldown {
		return true
	}

	return ka.Attempts >= cooldownBypassTry
}

func (m *AddrManager) pickFrom(table map[[18]byte]*KnownAddress) (wire.NetworkAddress, bool) {
	now := time.Now()

	candidates := make([]*KnownAddress, 0, len(table))

	for _, ka := range table {
		if selectable(now, ka) {
			candidates = append(candidates, ka)
		}
	}

	if len(candidates) == 0 {
		return wire.NetworkAddress{}, false
	}

	// Weight toward addresses with fewer recorded attempts. How recently an
	// address last succeeded is not considered.
	best := candidates[m.rng.Intn(len(candidates))]
	for _, ka := range candidates {
		if ka.Attempts < best.Attempts {
			if m.rng.Intn(2) == 0 {
				best = ka
			}
		}
	}

	return best.Addr, true
}

// Select returns one address, roughly 50/50 from tried vs. new when both
// sides are non-empty (spec.md §4.6).
func (m *AddrManager) Select() (wire.NetworkAddress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	triedHasAny := len(m.triedTable) > 0
	newHasAny := len(m.newTable) > 0

	if !triedHasAny && !newHasAny {
		return wire.NetworkAddress{}, false
	}

	useTried := triedHasAny
	if triedHasAny && newHasAny {
		useTried = m.rng.Intn(2) == 0
	}

	if useTried {
		if addr, ok := m.pickFrom(m.triedTable); ok {
			return addr, true
		}

		return m.pickFrom(m.newTable)
	}

	if addr, ok := m.pickFrom(m.newTable); ok {
		return addr, true
	}

	return m.pickFrom(m.triedTable)
}

// SelectFeeler returns a new-table candidate for a short-lived test
// connection (spec.md §4.6).
func (m *AddrManager) SelectFeeler() (wire.NetworkAddress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pickFrom(m.newTable)
}

// GetAddresses returns up to cap shuffled entries for a GETADDR reply.
func (m *AddrManager) GetAddresses(cap int) []wire.NetworkAddress {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cap > maxGetAddresses {
		cap = maxGetAddresses
	}

	all := make([]wire.NetworkAddress, 0, len(m.newTable)+len(m.triedTable))

	for _, ka := range m.newTable {
		if IsRoutable(ka.Addr.NetIP()) {
			all = append(all, ka.Addr)
		}
	}

	for _, ka := range m.triedTable {
		if IsRoutable(ka.Addr.NetIP()) {
			all = append(all, ka.Addr)
		}
	}

	m.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	if len(all) > cap {
		all = all[:cap]
	}

	return all
}

// CleanupStale purges overly-old entries from the new table only; tried
// entries are never purged (spec.md §4.6).
func (m *AddrManager) CleanupStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for k, ka := range m.newTable {
		if isTerrible(now, ka) {
			delete(m.newTable, k)
		}
	}
}

// Len reports the number of entries in each table.
func (m *AddrManager) Len() (newCount, triedCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.newTable), len(m.triedTable)
}
