package wire

import (
	"io"

	"github.com/bitcoin-sv/headerd/errors"
)

// MsgHeaders carries a batch of block headers with no trailing transaction
// count, a deliberate deviation from Bitcoin's headers message (spec.md §2).
type MsgHeaders struct {
	Headers []*BlockHeader
}

func (m *MsgHeaders) Command() Command { return CmdHeaders }

func (m *MsgHeaders) Encode(w io.Writer) error {
	if len(m.Headers) > MaxHeadersPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"header count %d exceeds max %d", len(m.Headers), MaxHeadersPerMsg)
	}

	if err := WriteVarInt(w, uint64(len(m.Headers))); err != nil {
		return err
	}

	for _, h := range m.Headers {
		if err := h.Encode(w); err != nil {
			return err
		}
	}

	return nil
}

func (m *MsgHeaders) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}

	if count > MaxHeadersPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"header count %d exceeds max %d", count, MaxHeadersPerMsg)
	}

	m.Headers = make([]*BlockHeader, count)
	for i := range m.Headers {
		h := &BlockHeader{}
		if err := h.Decode(r); err != nil {
			return err
		}

		m.Headers[i] = h
	}

	return nil
}
