package wire

import (
	"io"

	"github.com/bitcoin-sv/headerd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// MsgInv advertises inventory (block hashes) a peer has available.
type MsgInv struct {
	InvList []*InvVect
}

// NewMsgInv returns an empty MsgInv ready for AddInvVect calls.
func NewMsgInv() *MsgInv {
	return &MsgInv{InvList: make([]*InvVect, 0, defaultInvListAlloc)}
}

const defaultInvListAlloc = 16

// AddInvVect appends an inventory vector, rejecting the add once the
// message is already at MaxInvPerMsg.
func (m *MsgInv) AddInvVect(iv *InvVect) error {
	if len(m.InvList) >= MaxInvPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"inv count already at max %d", MaxInvPerMsg)
	}

	m.InvList = append(m.InvList, iv)

	return nil
}

func (m *MsgInv) Command() Command { return CmdInv }

func (m *MsgInv) Encode(w io.Writer) error {
	if len(m.InvList) > MaxInvPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"inv count %d exceeds max %d", len(m.InvList), MaxInvPerMsg)
	}

	if err := WriteVarInt(w, uint64(len(m.InvList))); err != nil {
		return err
	}

	for _, iv := range m.InvList {
		if err := iv.Encode(w); err != nil {
			return err
		}
	}

	return nil
}

func (m *MsgInv) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}

	if count > MaxInvPerMsg {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"inv count %d exceeds max %d", count, MaxInvPerMsg)
	}

	m.InvList = make([]*InvVect, count)
	for i := range m.InvList {
		iv := &InvVect{}
		if err := iv.Decode(r); err != nil {
			return err
		}

		m.InvList[i] = iv
	}

	return nil
}

// NewInvVectFromHash is a small convenience used by relay/netsync call sites.
func NewInvVectFromHash(hash chainhash.Hash) *InvVect {
	return NewInvVect(InvTypeBlock, &hash)
}
