package wire

import (
	"bytes"
	"io"

	"github.com/bitcoin-sv/headerd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// BlockHeader is the 100-byte, tightly-packed header this headers-only
// chain gossips. Its serialized form is byte-for-byte its in-memory form,
// which is what lets the core hash the raw representation for PoW
// verification (spec.md §3).
type BlockHeader struct {
	Version       int32
	PrevHash      chainhash.Hash // 32 bytes
	MinerAddress  [20]byte
	Time          uint32
	Bits          uint32
	Nonce         uint32
	PowCommitment [32]byte
}

// Encode writes the header's 100-byte wire form to w.
func (h *BlockHeader) Encode(w io.Writer) error {
	if err := writeUint32LE(w, uint32(h.Version)); err != nil {
		return err
	}

	if _, err := w.Write(h.PrevHash[:]); err != nil {
		return err
	}

	if _, err := w.Write(h.MinerAddress[:]); err != nil {
		return err
	}

	if err := writeUint32LE(w, h.Time); err != nil {
		return err
	}

	if err := writeUint32LE(w, h.Bits); err != nil {
		return err
	}

	if err := writeUint32LE(w, h.Nonce); err != nil {
		return err
	}

	_, err := w.Write(h.PowCommitment[:])

	return err
}

// Decode reads a 100-byte header from r.
func (h *BlockHeader) Decode(r io.Reader) error {
	v, err := readUint32LE(r)
	if err != nil {
		return err
	}

	h.Version = int32(v)

	if _, err := io.ReadFull(r, h.PrevHash[:]); err != nil {
		return err
	}

	if _, err := io.ReadFull(r, h.MinerAddress[:]); err != nil {
		return err
	}

	if h.Time, err = readUint32LE(r); err != nil {
		return err
	}

	if h.Bits, err = readUint32LE(r); err != nil {
		return err
	}

	if h.Nonce, err = readUint32LE(r); err != nil {
		return err
	}

	_, err = io.ReadFull(r, h.PowCommitment[:])

	return err
}

// Bytes returns the raw 100-byte serialized form.
func (h *BlockHeader) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	// Encode cannot fail against a bytes.Buffer.
	_ = h.Encode(&buf)

	return buf.Bytes()
}

// BlockHash returns the double-hash of the raw header bytes, the hash
// identity used throughout the core (locators, inventory, continuity).
func (h *BlockHeader) BlockHash() chainhash.Hash {
	return chainhash.DoubleHashH(h.Bytes())
}

// HeaderFromBytes decodes a 100-byte header, rejecting anything not exactly
// that length (the tight-packing invariant from spec.md §3).
func HeaderFromBytes(b []byte) (*BlockHeader, error) {
	if len(b) != HeaderSize {
		return nil, errors.New(errors.ErrTruncatedPayload, errors.KindProtocolViolation,
			"header must be exactly %d bytes, got %d", HeaderSize, len(b))
	}

	h := &BlockHeader{}
	if err := h.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return h, nil
}
