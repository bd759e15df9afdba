package addrmgr

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/bitcoin-sv/headerd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr(ip string, port uint16) wire.NetworkAddress {
	return wire.NewNetworkAddress(net.ParseIP(ip), port, wire.SFNodeNetwork)
}

func TestAddAndSelectFromNew(t *testing.T) {
	m := New()
	src := testAddr("1.1.1.1", 8633)

	m.Add(testAddr("2.2.2.2", 8633), src, 1700000000)

	newCount, triedCount := m.Len()
	assert.Equal(t, 1, newCount)
	assert.Equal(t, 0, triedCount)

	addr, ok := m.Select()
	require.True(t, ok)
	assert.True(t, addr.Equal(testAddr("2.2.2.2", 8633)))
}

func TestMarkGoodPromotesToTried(t *testing.T) {
	m := New()
	src := testAddr("1.1.1.1", 8633)
	a := testAddr("3.3.3.3", 8633)

	m.Add(a, src, 1700000000)
	m.MarkGood(a)

	newCount, triedCount := m.Len()
	assert.Equal(t, 0, newCount)
	assert.Equal(t, 1, triedCount)
}

func TestTerribleAddressRejected(t *testing.T) {
	m := New()
	src := testAddr("1.1.1.1", 8633)

	// timestamp far in the future is terrible and must not be admitted.
	m.Add(testAddr("4.4.4.4", 8633), src, 4102444800)

	newCount, _ := m.Len()
	assert.Equal(t, 0, newCount)
}

func TestSelectEmptyBook(t *testing.T) {
	m := New()

	_, ok := m.Select()
	assert.False(t, ok)

	_, ok = m.SelectFeeler()
	assert.False(t, ok)
}

func TestSelectFeelerOnlyUsesNewTable(t *testing.T) {
	m := New()
	src := testAddr("1.1.1.1", 8633)
	a := testAddr("5.5.5.5", 8633)

	m.Add(a, src, 1700000000)
	m.MarkGood(a)

	_, ok := m.SelectFeeler()
	assert.False(t, ok, "only tried entry exists, feeler must not select it")
}

func TestGetAddressesCapped(t *testing.T) {
	m := New()
	src := testAddr("1.1.1.1", 8633)

	for i := 0; i < 10; i++ {
		m.Add(testAddr("6.6.6.6", uint16(9000+i)), src, 1700000000)
	}

	addrs := m.GetAddresses(5)
	assert.Len(t, addrs, 5)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addrbook.json")

	m := New()
	src := testAddr("1.1.1.1", 8633)
	a := testAddr("7.7.7.7", 8633)

	m.Add(a, src, 1700000000)
	m.MarkGood(a)
	m.Add(testAddr("8.8.8.8", 8633), src, 1700000000)

	require.NoError(t, m.Save(path))

	m2 := New()
	require.NoError(t, m2.Load(path))

	newCount, triedCount := m2.Len()
	assert.Equal(t, 1, newCount)
	assert.Equal(t, 1, triedCount)
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	m := New()
	require.NoError(t, m.Load(filepath.Join(t.TempDir(), "nope.json")))
}

func TestCleanupStalePurgesOldNewEntries(t *testing.T) {
	m := New()
	src := testAddr("1.1.1.1", 8633)

	// Inserted directly: Add itself would refuse a timestamp this old, which
	// would leave CleanupStale nothing to purge.
	a := testAddr("9.9.9.9", 8633)
	m.newTable[a.Key()] = &KnownAddress{Addr: a, Source: src, Timestamp: 1} // unix epoch + 1s, ancient

	newCount, _ := m.Len()
	require.Equal(t, 1, newCount)

	m.CleanupStale()

	newCount, _ = m.Len()
	assert.Equal(t, 0, newCount)
}
