package anchors

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndRetrieveAnchors(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "anchors.json"))

	s.SetAnchors([]net.TCPAddr{
		{IP: net.ParseIP("1.2.3.4"), Port: 8633},
		{IP: net.ParseIP("5.6.7.8"), Port: 8633},
	})

	assert.Equal(t, 2, s.Len())
}

func TestSetAnchorsTruncatesToMax(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "anchors.json"))

	s.SetAnchors([]net.TCPAddr{
		{IP: net.ParseIP("1.2.3.4"), Port: 8633},
		{IP: net.ParseIP("5.6.7.8"), Port: 8633},
		{IP: net.ParseIP("9.9.9.9"), Port: 8633},
	})

	assert.Equal(t, MaxAnchors, s.Len())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")

	s := New(path)
	s.SetAnchors([]net.TCPAddr{{IP: net.ParseIP("1.2.3.4"), Port: 8633}})
	require.NoError(t, s.Save())

	s2 := New(path)
	require.NoError(t, s2.Load())

	got := s2.Anchors()
	require.Len(t, got, 1)
	assert.Equal(t, "1.2.3.4", got[0].IP.String())
	assert.Equal(t, 8633, got[0].Port)
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())
}
