package wire

import (
	"io"

	"github.com/libsv/go-bt/v2/chainhash"
)

// InvType identifies the kind of an inventory vector.
type InvType uint32

const (
	InvTypeError InvType = iota
	InvTypeBlock
)

// InvVect is a single inventory advertisement.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

// NewInvVect constructs an InvVect.
func NewInvVect(t InvType, hash *chainhash.Hash) *InvVect {
	return &InvVect{Type: t, Hash: *hash}
}

func (iv *InvVect) Encode(w io.Writer) error {
	if err := writeUint32LE(w, uint32(iv.Type)); err != nil {
		return err
	}

	_, err := w.Write(iv.Hash[:])

	return err
}

func (iv *InvVect) Decode(r io.Reader) error {
	t, err := readUint32LE(r)
	if err != nil {
		return err
	}

	iv.Type = InvType(t)

	_, err = io.ReadFull(r, iv.Hash[:])

	return err
}
