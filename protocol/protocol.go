// Package protocol implements the BIN-RPC frame layer.
//
// Every message travels in a frame made of an 8-byte header followed by a
// variable-length body. The receiver reads the header first to learn the body
// length, then reads exactly that many bytes.
//
// Frame format:
//
//	0        3    4                 8
//	┌────────┬────┬─────────────────┬────────────────┐
//	│ "Bin"  │ mt │ bodyLen uint32  │  body ...      │
//	└────────┴────┴─────────────────┴────────────────┘
//
// The 4-byte tag (marker + message type) is vendor specific, so it lives in a
// Framing value instead of package constants.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize = 8 // 4 (tag) + 4 (bodyLen)

	// MaxBodyLen caps a single frame. listDevices answers from large
	// installations run to a few MiB.
	MaxBodyLen = 64 << 20
)

var (
	ErrInvalidMagic  = errors.New("protocol: invalid frame tag")
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// MsgType distinguishes request, response and fault frames.
type MsgType byte

const (
	MsgTypeRequest  MsgType = 0x00 // Caller → callee method call
	MsgTypeResponse MsgType = 0x01 // Callee → caller successful result
	MsgTypeFault    MsgType = 0xFF // Callee → caller fault struct
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeFault:
		return "fault"
	default:
		return fmt.Sprintf("msgtype(0x%02x)", byte(t))
	}
}

// Framing holds the 4-byte tags written in front of each frame kind.
type Framing struct {
	RequestTag  [4]byte
	ResponseTag [4]byte
	FaultTag    [4]byte
}

// DefaultFraming matches CCU and Homegear gateways.
var DefaultFraming = Framing{
	RequestTag:  [4]byte{'B', 'i', 'n', byte(MsgTypeRequest)},
	ResponseTag: [4]byte{'B', 'i', 'n', byte(MsgTypeResponse)},
	FaultTag:    [4]byte{'B', 'i', 'n', byte(MsgTypeFault)},
}

// Header represents the fixed 8-byte frame header.
type Header struct {
	MsgType MsgType
	BodyLen uint32
}

func (f Framing) tag(t MsgType) ([4]byte, error) {
	switch t {
	case MsgTypeRequest:
		return f.RequestTag, nil
	case MsgTypeResponse:
		return f.ResponseTag, nil
	case MsgTypeFault:
		return f.FaultTag, nil
	}
	return [4]byte{}, fmt.Errorf("protocol: unsupported message type %s", t)
}

func (f Framing) msgType(tag []byte) (MsgType, bool) {
	switch {
	case [4]byte(tag) == f.RequestTag:
		return MsgTypeRequest, true
	case [4]byte(tag) == f.ResponseTag:
		return MsgTypeResponse, true
	case [4]byte(tag) == f.FaultTag:
		return MsgTypeFault, true
	}
	return 0, false
}

// AppendHeader appends the encoded header for a body of bodyLen bytes.
func (f Framing) AppendHeader(dst []byte, t MsgType, bodyLen int) ([]byte, error) {
	tag, err := f.tag(t)
	if err != nil {
		return nil, err
	}
	if bodyLen > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, bodyLen)
	}
	dst = append(dst, tag[:]...)
	return binary.BigEndian.AppendUint32(dst, uint32(bodyLen)), nil
}

// Encode writes a complete frame (header + body) to w in a single Write, so
// the gateway never sees a header without its body.
func (f Framing) Encode(w io.Writer, t MsgType, body []byte) error {
	buf, err := f.AppendHeader(make([]byte, 0, HeaderSize+len(body)), t, len(body))
	if err != nil {
		return err
	}
	buf = append(buf, body...)
	_, err = w.Write(buf)
	return err
}

// ParseHeader decodes the first HeaderSize bytes of b.
func (f Framing) ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	t, ok := f.msgType(b[0:4])
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrInvalidMagic, b[0:4])
	}
	bodyLen := binary.BigEndian.Uint32(b[4:8])
	if bodyLen > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, bodyLen)
	}
	return &Header{MsgType: t, BodyLen: bodyLen}, nil
}

// Decode reads a complete frame (header + body) from r.
// Uses io.ReadFull so a short read is reported as io.ErrUnexpectedEOF.
func (f Framing) Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	h, err := f.ParseHeader(headerBuf)
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}
	return h, body, nil
}
