package wire

import "io"

// MsgPing carries a liveness nonce.
type MsgPing struct {
	Nonce uint64
}

func (m *MsgPing) Command() Command { return CmdPing }

func (m *MsgPing) Encode(w io.Writer) error {
	return writeUint64LE(w, m.Nonce)
}

func (m *MsgPing) Decode(r io.Reader) error {
	n, err := readUint64LE(r)
	if err != nil {
		return err
	}

	m.Nonce = n

	return nil
}

// MsgPong echoes a MsgPing's nonce.
type MsgPong struct {
	Nonce uint64
}

func (m *MsgPong) Command() Command { return CmdPong }

func (m *MsgPong) Encode(w io.Writer) error {
	return writeUint64LE(w, m.Nonce)
}

func (m *MsgPong) Decode(r io.Reader) error {
	n, err := readUint64LE(r)
	if err != nil {
		return err
	}

	m.Nonce = n

	return nil
}
