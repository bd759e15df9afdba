package wire

import (
	"io"

	"github.com/bitcoin-sv/headerd/errors"
)

// ProtocolVersion is the protocol version this implementation advertises.
const ProtocolVersion = 1

// MsgVersion is the handshake's first message.
type MsgVersion struct {
	ProtocolVersion int32
	Services        ServiceFlag
	Timestamp       int64
	AddrRecv        NetworkAddress
	AddrFrom        NetworkAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
}

func (m *MsgVersion) Command() Command { return CmdVersion }

func (m *MsgVersion) Encode(w io.Writer) error {
	if err := writeUint32LE(w, uint32(m.ProtocolVersion)); err != nil {
		return err
	}

	if err := writeUint64LE(w, uint64(m.Services)); err != nil {
		return err
	}

	if err := writeUint64LE(w, uint64(m.Timestamp)); err != nil {
		return err
	}

	if err := m.AddrRecv.Encode(w); err != nil {
		return err
	}

	if err := m.AddrFrom.Encode(w); err != nil {
		return err
	}

	if err := writeUint64LE(w, m.Nonce); err != nil {
		return err
	}

	if len(m.UserAgent) > MaxUserAgentLen {
		return errors.New(errors.ErrUserAgentTooLong, errors.KindProtocolViolation,
			"user agent length %d exceeds max %d", len(m.UserAgent), MaxUserAgentLen)
	}

	if err := writeVarString(w, m.UserAgent); err != nil {
		return err
	}

	return writeUint32LE(w, uint32(m.StartHeight))
}

func (m *MsgVersion) Decode(r io.Reader) error {
	v, err := readUint32LE(r)
	if err != nil {
		return err
	}

	m.ProtocolVersion = int32(v)

	services, err := readUint64LE(r)
	if err != nil {
		return err
	}

	m.Services = ServiceFlag(services)

	ts, err := readUint64LE(r)
	if err != nil {
		return err
	}

	m.Timestamp = int64(ts)

	if err := m.AddrRecv.Decode(r); err != nil {
		return err
	}

	if err := m.AddrFrom.Decode(r); err != nil {
		return err
	}

	if m.Nonce, err = readUint64LE(r); err != nil {
		return err
	}

	ua, err := readVarString(r, MaxUserAgentLen)
	if err != nil {
		return err
	}

	m.UserAgent = ua

	sh, err := readUint32LE(r)
	if err != nil {
		return err
	}

	m.StartHeight = int32(sh)

	return nil
}

// MsgVerAck is the handshake's acknowledgement.
type MsgVerAck struct{}

func (m *MsgVerAck) Command() Command          { return CmdVerAck }
func (m *MsgVerAck) Encode(w io.Writer) error   { return nil }
func (m *MsgVerAck) Decode(r io.Reader) error   { return nil }
