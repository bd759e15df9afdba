// Package anchors persists the small set of outbound peers a node keeps
// reconnecting to across restarts, to resist eclipse attacks that rely on
// the node rebuilding its outbound set from an attacker-controlled address
// book (spec.md §4.7). No teacher file anchors outbound connections this
// way; the persistence shape follows connmgr/banstore.go's atomic
// write-temp-then-rename idiom applied to this component's own record.
package anchors

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// MaxAnchors bounds how many outbound peers are anchored (spec.md §4.7).
const MaxAnchors = 2

// anchorRecord is the persisted shape of one anchor.
type anchorRecord struct {
	Version int    `json:"version"`
	IP      string `json:"ip"`
	Port    uint16 `json:"port"`
}

// Store is the anchor set, loaded once at startup and rewritten whenever
// the current outbound set changes block-relay-eligible membership.
type Store struct {
	mu    sync.Mutex
	path  string
	peers []anchorRecord
}

// New returns an empty anchor store persisting to path on Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the anchor file and deletes it regardless of outcome: a
// missing or corrupt file starts empty with zero reconnect attempts, a
// valid file is consumed exactly once so its entries are retried at most
// once across restarts (spec.md §4.7). The caller is responsible for
// actually dialing the entries Load leaves in s.peers.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	defer os.Remove(s.path)

	var records []anchorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.peers = nil
		return err
	}

	if len(records) > MaxAnchors {
		records = records[:MaxAnchors]
	}

	s.peers = records

	return nil
}

// Save atomically persists the current anchor set.
func (s *Store) Save() error {
	s.mu.Lock()
	records := append([]anchorRecord(nil), s.peers...)
	s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, ".anchors-*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, s.path)
}

// SetAnchors replaces the anchor set with up to MaxAnchors of addrs,
// preserving order (callers should pass the most recently-successful
// outbound block-relay peers first).
func (s *Store) SetAnchors(addrs []net.TCPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(addrs) > MaxAnchors {
		addrs = addrs[:MaxAnchors]
	}

	records := make([]anchorRecord, len(addrs))
	for i, a := range addrs {
		records[i] = anchorRecord{Version: 1, IP: a.IP.String(), Port: uint16(a.Port)}
	}

	s.peers = records
}

// Anchors returns the currently loaded anchor addresses, to dial ahead of
// any address-book selection at startup.
func (s *Store) Anchors() []net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]net.TCPAddr, 0, len(s.peers))

	for _, r := range s.peers {
		ip := net.ParseIP(r.IP)
		if ip == nil {
			continue
		}

		out = append(out, net.TCPAddr{IP: ip, Port: int(r.Port)})
	}

	return out
}

// Len reports how many anchors are currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.peers)
}
