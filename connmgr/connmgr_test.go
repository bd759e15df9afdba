package connmgr

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/bitcoin-sv/headerd/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddr struct{ s string }

func (f fakeAddr) Network() string { return "tcp" }
func (f fakeAddr) String() string  { return f.s }

func newPeerAt(t *testing.T, id int32, dir peer.Direction, ip string) *peer.Peer {
	t.Helper()

	return peer.New(peer.Config{
		ID:         id,
		Direction:  dir,
		LocalNonce: uint64(id),
		RemoteAddr: fakeAddr{s: ip},
	})
}

func TestBanPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banlist.json")

	m := New(DefaultConfig(), path)
	m.Ban("10.0.0.1", 0)
	require.NoError(t, m.SaveBans())

	m2 := New(DefaultConfig(), path)
	require.NoError(t, m2.LoadBans())
	assert.True(t, m2.bans.IsBanned("10.0.0.1"))

	require.NoError(t, m2.SaveBans())

	m3 := New(DefaultConfig(), path)
	require.NoError(t, m3.LoadBans())
	assert.True(t, m3.bans.IsBanned("10.0.0.1"))
}

func TestCanAcceptInboundRespectsBan(t *testing.T) {
	m := New(DefaultConfig(), "")
	m.Ban("10.0.0.1", 0)

	assert.False(t, m.CanAcceptInboundFrom(net.ParseIP("10.0.0.1")))
	assert.True(t, m.CanAcceptInboundFrom(net.ParseIP("10.0.0.2")))
}

func TestWhitelistOverridesDiscourage(t *testing.T) {
	m := New(DefaultConfig(), "")
	m.discouraged.Discourage("10.0.0.2")
	assert.False(t, m.CanAcceptInboundFrom(net.ParseIP("10.0.0.2")))

	m.Whitelist(net.ParseIP("10.0.0.2"))
	assert.True(t, m.CanAcceptInboundFrom(net.ParseIP("10.0.0.2")))

	m.Ban("10.0.0.2", 0)
	assert.True(t, m.CanAcceptInboundFrom(net.ParseIP("10.0.0.2")))
}

func TestPerIPCapEnforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerIP = 1

	m := New(cfg, "")
	assert.True(t, m.CanAcceptInboundFrom(net.ParseIP("10.0.0.3")))

	id1 := m.AllocatePeerID()
	p1 := newPeerAt(t, id1, peer.DirInbound, "10.0.0.3:1")
	require.NoError(t, m.AddPeerWithID(id1, p1))

	assert.False(t, m.CanAcceptInboundFrom(net.ParseIP("10.0.0.3")))
}

func TestDiscourageOnThresholdBreach(t *testing.T) {
	m := New(DefaultConfig(), "")

	id := m.AllocatePeerID()
	p := newPeerAt(t, id, peer.DirInbound, "10.0.0.4:1")
	require.NoError(t, m.AddPeerWithID(id, p))

	m.Penalize(id, 100, "invalid pow")

	_, stillThere := m.Peer(id)
	assert.False(t, stillThere)
	assert.True(t, m.discouraged.IsDiscouraged("10.0.0.4"))
}
