package wire

import (
	"io"

	"github.com/bitcoin-sv/headerd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// MaxBlockLocatorsPerMsg caps the locator hashes sent in a single getheaders.
const MaxBlockLocatorsPerMsg = 101

// MsgGetHeaders requests headers building on the best of the given
// block locator hashes, stopping at HashStop (zero meaning "as many as
// allowed").
type MsgGetHeaders struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []chainhash.Hash
	HashStop           chainhash.Hash
}

func (m *MsgGetHeaders) Command() Command { return CmdGetHeaders }

func (m *MsgGetHeaders) Encode(w io.Writer) error {
	if len(m.BlockLocatorHashes) > MaxBlockLocatorsPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"locator count %d exceeds max %d", len(m.BlockLocatorHashes), MaxBlockLocatorsPerMsg)
	}

	if err := writeUint32LE(w, m.ProtocolVersion); err != nil {
		return err
	}

	if err := WriteVarInt(w, uint64(len(m.BlockLocatorHashes))); err != nil {
		return err
	}

	for i := range m.BlockLocatorHashes {
		if _, err := w.Write(m.BlockLocatorHashes[i][:]); err != nil {
			return err
		}
	}

	_, err := w.Write(m.HashStop[:])

	return err
}

func (m *MsgGetHeaders) Decode(r io.Reader) error {
	v, err := readUint32LE(r)
	if err != nil {
		return err
	}

	m.ProtocolVersion = v

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}

	if count > MaxBlockLocatorsPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"locator count %d exceeds max %d", count, MaxBlockLocatorsPerMsg)
	}

	m.BlockLocatorHashes = make([]chainhash.Hash, count)
	for i := range m.BlockLocatorHashes {
		if _, err := io.ReadFull(r, m.BlockLocatorHashes[i][:]); err != nil {
			return err
		}
	}

	_, err = io.ReadFull(r, m.HashStop[:])

	return err
}
