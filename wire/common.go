// Package wire implements the headers-only wire protocol: message framing,
// varints, and the typed message payloads gossiped between peers.
//
// Grounded on services/legacy/p2p/BlockMessage.go for the Bsvdecode/
// BsvEncode/Command/MaxPayloadLength method shape, and on the btcsuite-
// family wire packages visible throughout other_examples/ for varint and
// NetAddress encoding conventions.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/bitcoin-sv/headerd/errors"
)

// Protocol-level limits (spec.md §4.1).
const (
	// MaxProtocolMessageLength bounds any single message payload.
	MaxProtocolMessageLength = 32 * 1024 * 1024

	// HeaderSize is the fixed, tightly-packed size of a BlockHeader.
	HeaderSize = 100

	// MaxInvPerMsg bounds the number of entries in a single inv message.
	MaxInvPerMsg = 50000

	// MaxAddrPerMsg bounds the number of entries in a single addr message.
	MaxAddrPerMsg = 1000

	// MaxHeadersPerMsg bounds the number of entries in a single headers message.
	MaxHeadersPerMsg = 2000

	// MaxUserAgentLen bounds the version message's user agent string.
	MaxUserAgentLen = 256

	// CommandSize is the fixed width of the zero-padded ASCII command field.
	CommandSize = 12

	// MessageHeaderSize is the size of the 24-byte frame header.
	MessageHeaderSize = 4 + CommandSize + 4 + 4
)

// ReadVarInt reads a Bitcoin-style varint: a 1/3/5/9-byte prefixed integer.
func ReadVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}

	switch prefix[0] {
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}

		return binary.LittleEndian.Uint64(buf[:]), nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}

		return uint64(binary.LittleEndian.Uint32(buf[:])), nil
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}

		return uint64(binary.LittleEndian.Uint16(buf[:])), nil
	default:
		return uint64(prefix[0]), nil
	}
}

// WriteVarInt writes v using the shortest applicable varint encoding.
func WriteVarInt(w io.Writer, v uint64) error {
	switch {
	case v < 0xfd:
		_, err := w.Write([]byte{byte(v)})
		return err
	case v <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
		_, err := w.Write(buf)
		return err
	case v <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], v)
		_, err := w.Write(buf)
		return err
	}
}

// VarIntSerializeSize returns the number of bytes WriteVarInt would emit for v.
func VarIntSerializeSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func readUint32LE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint32LE(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint16BE(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(buf[:]), nil
}

func writeUint16BE(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64LE(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeUint64LE(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// readVarString reads a varint-prefixed string with a hard length cap.
func readVarString(r io.Reader, maxLen uint64) (string, error) {
	l, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}

	if l > maxLen {
		return "", errors.New(errors.ErrUnknownField, errors.KindProtocolViolation,
			"string length %d exceeds max %d", l, maxLen)
	}

	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

func writeVarString(w io.Writer, s string) error {
	if err := WriteVarInt(w, uint64(len(s))); err != nil {
		return err
	}

	_, err := w.Write([]byte(s))
	return err
}
