package wire

import (
	"io"
	"net"
)

// ServiceFlag advertises the services a peer supports.
type ServiceFlag uint64

const (
	SFNodeNetwork ServiceFlag = 1 << iota
)

// NetworkAddress is the wire representation of a peer address: a 16-byte
// IP (IPv4 mapped into IPv4-in-IPv6 form), a port, and service flags.
// Two addresses are equivalent when their IP and port match. The address
// book buckets on Key(), the same {ip, port} tuple; Services is not part of
// its bucketing key.
type NetworkAddress struct {
	IP       [16]byte
	Port     uint16
	Services ServiceFlag
}

// NewNetworkAddress builds a NetworkAddress from a net.IP/port/services,
// encoding IPv4 addresses in their ::ffff:a.b.c.d mapped form.
func NewNetworkAddress(ip net.IP, port uint16, services ServiceFlag) NetworkAddress {
	var na NetworkAddress

	v4 := ip.To4()
	if v4 != nil {
		copy(na.IP[:10], []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
		na.IP[10] = 0xff
		na.IP[11] = 0xff
		copy(na.IP[12:], v4)
	} else {
		copy(na.IP[:], ip.To16())
	}

	na.Port = port
	na.Services = services

	return na
}

// NetIP returns the address as a net.IP.
func (na NetworkAddress) NetIP() net.IP {
	ip := make(net.IP, 16)
	copy(ip, na.IP[:])

	return ip
}

// Key returns the 18-byte binary tuple {ip, port} used for cache/bucket
// keys, deliberately not a string (spec.md §9 design note).
func (na NetworkAddress) Key() [18]byte {
	var k [18]byte
	copy(k[:16], na.IP[:])
	k[16] = byte(na.Port >> 8)
	k[17] = byte(na.Port)

	return k
}

// Equal reports whether two addresses have the same IP and port.
func (na NetworkAddress) Equal(other NetworkAddress) bool {
	return na.IP == other.IP && na.Port == other.Port
}

// Encode writes the 26-byte wire form: 16-byte IP, big-endian port,
// little-endian services.
func (na NetworkAddress) Encode(w io.Writer) error {
	if err := writeUint64LE(w, uint64(na.Services)); err != nil {
		return err
	}

	if _, err := w.Write(na.IP[:]); err != nil {
		return err
	}

	return writeUint16BE(w, na.Port)
}

// Decode reads the 26-byte wire form.
func (na *NetworkAddress) Decode(r io.Reader) error {
	services, err := readUint64LE(r)
	if err != nil {
		return err
	}

	na.Services = ServiceFlag(services)

	if _, err := io.ReadFull(r, na.IP[:]); err != nil {
		return err
	}

	na.Port, err = readUint16BE(r)

	return err
}

// TimestampedAddress is a NetworkAddress with the unix-second timestamp it
// was last seen or learned at.
type TimestampedAddress struct {
	Timestamp uint32
	Addr      NetworkAddress
}

func (ta TimestampedAddress) Encode(w io.Writer) error {
	if err := writeUint32LE(w, ta.Timestamp); err != nil {
		return err
	}

	return ta.Addr.Encode(w)
}

func (ta *TimestampedAddress) Decode(r io.Reader) error {
	ts, err := readUint32LE(r)
	if err != nil {
		return err
	}

	ta.Timestamp = ts

	return ta.Addr.Decode(r)
}
