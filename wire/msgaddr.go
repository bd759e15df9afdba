package wire

import (
	"io"

	"github.com/bitcoin-sv/headerd/errors"
)

// MsgAddr gossips addresses this peer knows about.
type MsgAddr struct {
	Addrs []TimestampedAddress
}

func (m *MsgAddr) Command() Command { return CmdAddr }

func (m *MsgAddr) Encode(w io.Writer) error {
	if len(m.Addrs) > MaxAddrPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"addr count %d exceeds max %d", len(m.Addrs), MaxAddrPerMsg)
	}

	if err := WriteVarInt(w, uint64(len(m.Addrs))); err != nil {
		return err
	}

	for i := range m.Addrs {
		if err := m.Addrs[i].Encode(w); err != nil {
			return err
		}
	}

	return nil
}

func (m *MsgAddr) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}

	if count > MaxAddrPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"addr count %d exceeds max %d", count, MaxAddrPerMsg)
	}

	m.Addrs = make([]TimestampedAddress, count)
	for i := range m.Addrs {
		if err := m.Addrs[i].Decode(r); err != nil {
			return err
		}
	}

	return nil
}

// MsgGetAddr requests a peer's known addresses.
type MsgGetAddr struct{}

func (m *MsgGetAddr) Command() Command        { return CmdGetAddr }
func (m *MsgGetAddr) Encode(_ io.Writer) error { return nil }
func (m *MsgGetAddr) Decode(_ io.Reader) error { return nil }
