package addrmgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bitcoin-sv/headerd/wire"
)

// persistedAddr is the on-disk shape of one KnownAddress, named and typed
// the way connmgr/banstore.go shapes its own JSON entries.
type persistedAddr struct {
	IP          [16]byte `json:"ip"`
	Port        uint16   `json:"port"`
	Services    uint64   `json:"services"`
	SourceIP    [16]byte `json:"source_ip"`
	SourcePort  uint16   `json:"source_port"`
	Timestamp   uint32   `json:"timestamp"`
	LastSuccess int64    `json:"last_success,omitempty"`
	Attempts    int      `json:"attempts"`
	Tried       bool     `json:"tried"`
}

type persistedBook struct {
	Version int             `json:"version"`
	Entries []persistedAddr `json:"entries"`
}

func toPersisted(ka *KnownAddress) persistedAddr {
	p := persistedAddr{
		IP:         ka.Addr.IP,
		Port:       ka.Addr.Port,
		Services:   uint64(ka.Addr.Services),
		SourceIP:   ka.Source.IP,
		SourcePort: ka.Source.Port,
		Timestamp:  ka.Timestamp,
		Attempts:   ka.Attempts,
		Tried:      ka.Tried,
	}

	if !ka.LastSuccess.IsZero() {
		p.LastSuccess = ka.LastSuccess.Unix()
	}

	return p
}

func fromPersisted(p persistedAddr) *KnownAddress {
	ka := &KnownAddress{
		Timestamp: p.Timestamp,
		Attempts:  p.Attempts,
		Tried:     p.Tried,
	}

	ka.Addr.IP = p.IP
	ka.Addr.Port = p.Port
	ka.Addr.Services = wire.ServiceFlag(p.Services)
	ka.Source.IP = p.SourceIP
	ka.Source.Port = p.SourcePort

	if p.LastSuccess != 0 {
		ka.LastSuccess = time.Unix(p.LastSuccess, 0)
		ka.LastAttempt = ka.LastSuccess
	}

	return ka
}

// Save atomically persists the address book to path (write-temp-then-rename,
// the same idiom connmgr/banstore.go uses for its own ban list).
func (m *AddrManager) Save(path string) error {
	m.mu.Lock()

	book := persistedBook{Version: 1, Entries: make([]persistedAddr, 0, len(m.newTable)+len(m.triedTable))}

	for _, ka := range m.newTable {
		book.Entries = append(book.Entries, toPersisted(ka))
	}

	for _, ka := range m.triedTable {
		book.Entries = append(book.Entries, toPersisted(ka))
	}

	m.mu.Unlock()

	data, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".addrbook-*.tmp")
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

	return os.Rename(tmpName, path)
}

// Load replaces the in-memory book with the contents of path. A missing
// file is not an error; the book simply starts empty.
func (m *AddrManager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	var book persistedBook
	if err := json.Unmarshal(data, &book); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.newTable = make(map[[18]byte]*KnownAddress)
	m.triedTable = make(map[[18]byte]*KnownAddress)

	for _, p := range book.Entries {
		ka := fromPersisted(p)
		key := ka.Addr.Key()

		if ka.Tried {
			m.triedTable[key] = ka
		} else {
			m.newTable[key] = ka
		}
	}

	return nil
}
