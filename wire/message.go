package wire

import (
	"bytes"
	"io"

	"github.com/bitcoin-sv/headerd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// Command identifies a message's payload type in the 24-byte frame header.
type Command string

const (
	CmdVersion    Command = "version"
	CmdVerAck     Command = "verack"
	CmdPing       Command = "ping"
	CmdPong       Command = "pong"
	CmdAddr       Command = "addr"
	CmdGetAddr    Command = "getaddr"
	CmdInv        Command = "inv"
	CmdGetHeaders Command = "getheaders"
	CmdHeaders    Command = "headers"
)

// Message is implemented by every typed payload.
type Message interface {
	Command() Command
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// FrameHeader is the 24-byte message frame header.
type FrameHeader struct {
	Magic         uint32
	Command       Command
	PayloadLength uint32
	Checksum      [4]byte
}

func checksum(payload []byte) [4]byte {
	h := chainhash.DoubleHashH(payload)

	var c [4]byte
	copy(c[:], h[:4])

	return c
}

// EncodeMessage frames and writes msg to w under the given network magic.
func EncodeMessage(w io.Writer, magic uint32, msg Message) error {
	var payloadBuf bytes.Buffer
	if err := msg.Encode(&payloadBuf); err != nil {
		return err
	}

	payload := payloadBuf.Bytes()
	if len(payload) > MaxProtocolMessageLength {
		return errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"payload length %d exceeds max %d", len(payload), MaxProtocolMessageLength)
	}

	if err := writeUint32LE(w, magic); err != nil {
		return err
	}

	var cmdBuf [CommandSize]byte
	copy(cmdBuf[:], msg.Command())

	if _, err := w.Write(cmdBuf[:]); err != nil {
		return err
	}

	if err := writeUint32LE(w, uint32(len(payload))); err != nil {
		return err
	}

	sum := checksum(payload)
	if _, err := w.Write(sum[:]); err != nil {
		return err
	}

	_, err := w.Write(payload)

	return err
}

// DecodeFrameHeader reads and validates the 24-byte frame header, returning
// the parsed header. It does not read the payload.
func DecodeFrameHeader(r io.Reader, expectedMagic uint32) (FrameHeader, error) {
	var fh FrameHeader

	magic, err := readUint32LE(r)
	if err != nil {
		return fh, err
	}

	if magic != expectedMagic {
		return fh, errors.New(errors.ErrBadMagic, errors.KindProtocolViolation,
			"received magic %08x, expected %08x", magic, expectedMagic)
	}

	var cmdBuf [CommandSize]byte
	if _, err := io.ReadFull(r, cmdBuf[:]); err != nil {
		return fh, err
	}

	end := len(cmdBuf)
	for end > 0 && cmdBuf[end-1] == 0 {
		end--
	}

	payloadLen, err := readUint32LE(r)
	if err != nil {
		return fh, err
	}

	if payloadLen > MaxProtocolMessageLength {
		return fh, errors.New(errors.ErrOversizedPayload, errors.KindProtocolViolation,
			"payload length %d exceeds max %d", payloadLen, MaxProtocolMessageLength)
	}

	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return fh, err
	}

	fh.Magic = magic
	fh.Command = Command(cmdBuf[:end])
	fh.PayloadLength = payloadLen
	fh.Checksum = sum

	return fh, nil
}

// ReadMessage reads one full, framed message from r. newMsg constructs the
// zero-value Message for the decoded command (the dispatcher supplies this
// via its handler registry); an unrecognized command returns the command
// with a nil Message and nil error so the caller can ignore it without
// penalty.
func ReadMessage(r io.Reader, expectedMagic uint32, newMsg func(Command) Message) (Command, Message, error) {
	fh, err := DecodeFrameHeader(r, expectedMagic)
	if err != nil {
		return "", nil, err
	}

	payload := make([]byte, fh.PayloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fh.Command, nil, errors.New(errors.ErrTruncatedPayload, errors.KindProtocolViolation,
			"truncated payload for command %q", fh.Command, err)
	}

	sum := checksum(payload)
	if sum != fh.Checksum {
		return fh.Command, nil, errors.New(errors.ErrChecksumMismatch, errors.KindProtocolViolation,
			"checksum mismatch for command %q", fh.Command)
	}

	msg := newMsg(fh.Command)
	if msg == nil {
		// Unrecognized command: logged and dropped by the caller, no penalty.
		return fh.Command, nil, nil
	}

	if err := msg.Decode(bytes.NewReader(payload)); err != nil {
		return fh.Command, nil, err
	}

	return fh.Command, msg, nil
}

// NewMessage constructs the zero-value Message for a recognized command, or
// nil for anything else. This is the default registry used by transports
// that don't need to override recognized-command dispatch.
func NewMessage(cmd Command) Message {
	switch cmd {
	case CmdVersion:
		return &MsgVersion{}
	case CmdVerAck:
		return &MsgVerAck{}
	case CmdPing:
		return &MsgPing{}
	case CmdPong:
		return &MsgPong{}
	case CmdAddr:
		return &MsgAddr{}
	case CmdGetAddr:
		return &MsgGetAddr{}
	case CmdInv:
		return &MsgInv{}
	case CmdGetHeaders:
		return &MsgGetHeaders{}
	case CmdHeaders:
		return &MsgHeaders{}
	default:
		return nil
	}
}
