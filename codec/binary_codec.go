package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding"

	"hm-binrpc/message"
	"hm-binrpc/protocol"
)

// BIN-RPC value type tags.
const (
	typeInt    uint32 = 0x01
	typeBool   uint32 = 0x02
	typeString uint32 = 0x03
	typeDouble uint32 = 0x04
	typeBinary uint32 = 0x11
	typeArray  uint32 = 0x100
	typeStruct uint32 = 0x101
)

// MaxDepth bounds array/struct nesting. Real gateway payloads stay below 5.
const MaxDepth = 32

const (
	faultCodeKey   = "faultCode"
	faultStringKey = "faultString"
)

// mantissaScale is 2^30: doubles travel as an int32 mantissa and an int32
// exponent with value = mantissa / 2^30 * 2^exponent.
const mantissaScale = 1 << 30

var errTruncated = fmt.Errorf("%w: truncated", ErrMalformed)

// BinaryCodec encodes and decodes complete BIN-RPC frames.
// It is safe for concurrent use.
type BinaryCodec struct {
	framing     protocol.Framing
	charset     encoding.Encoding // nil means UTF-8
	charsetName string
}

type Option func(*BinaryCodec)

// WithFraming overrides the frame tags.
func WithFraming(f protocol.Framing) Option {
	return func(c *BinaryCodec) { c.framing = f }
}

// NewBinaryCodec creates a codec whose strings use the named charset
// (IANA name, empty means DefaultCharset).
func NewBinaryCodec(charset string, opts ...Option) (*BinaryCodec, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	if charset == "" {
		charset = DefaultCharset
	}
	c := &BinaryCodec{
		framing:     protocol.DefaultFraming,
		charset:     enc,
		charsetName: charset,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// Charset returns the configured charset name.
func (c *BinaryCodec) Charset() string {
	return c.charsetName
}

// Encode serializes msg into a complete frame. The length field is filled in
// once the body is built.
func (c *BinaryCodec) Encode(msg *message.RPCMessage) ([]byte, error) {
	mt, body, err := c.encodeBody(msg)
	if err != nil {
		return nil, err
	}
	frame, err := c.framing.AppendHeader(make([]byte, 0, protocol.HeaderSize+len(body)), mt, len(body))
	if err != nil {
		return nil, err
	}
	return append(frame, body...), nil
}

// WriteMessage encodes msg and writes it to w.
func (c *BinaryCodec) WriteMessage(w io.Writer, msg *message.RPCMessage) error {
	data, err := c.Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode parses a complete frame held in data.
func (c *BinaryCodec) Decode(data []byte) (*message.RPCMessage, error) {
	h, err := c.framing.ParseHeader(data)
	if err != nil {
		return nil, wrapFrameErr(err)
	}
	body := data[protocol.HeaderSize:]
	if uint32(len(body)) < h.BodyLen {
		return nil, errTruncated
	}
	return c.decodeBody(h.MsgType, body[:h.BodyLen])
}

// ReadMessage reads exactly one frame from r and decodes it.
// A peer closing before the first byte yields io.EOF unchanged.
func (c *BinaryCodec) ReadMessage(r io.Reader) (*message.RPCMessage, error) {
	h, body, err := c.framing.Decode(r)
	if err != nil {
		return nil, wrapFrameErr(err)
	}
	return c.decodeBody(h.MsgType, body)
}

func wrapFrameErr(err error) error {
	switch {
	case errors.Is(err, protocol.ErrInvalidMagic), errors.Is(err, protocol.ErrFrameTooLarge):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", errTruncated, err)
	}
	return err
}

func (c *BinaryCodec) encodeBody(msg *message.RPCMessage) (protocol.MsgType, []byte, error) {
	e := &encoder{charset: c.charset}

	switch msg.Kind {
	case message.KindCall:
		if msg.Method == "" {
			return 0, nil, errors.New("codec: call without method name")
		}
		if err := e.string(msg.Method); err != nil {
			return 0, nil, err
		}
		e.uint32(uint32(len(msg.Args)))
		for i, arg := range msg.Args {
			if err := e.value(arg, 0); err != nil {
				return 0, nil, fmt.Errorf("codec: argument %d: %w", i, err)
			}
		}
		return protocol.MsgTypeRequest, e.buf, nil

	case message.KindResponse:
		result := msg.Result
		if result == nil {
			result = message.String("")
		}
		if err := e.value(result, 0); err != nil {
			return 0, nil, err
		}
		return protocol.MsgTypeResponse, e.buf, nil

	case message.KindFault:
		if msg.Fault == nil {
			return 0, nil, errors.New("codec: fault message without fault")
		}
		st := message.Struct{
			faultCodeKey:   message.Int(msg.Fault.Code),
			faultStringKey: message.String(msg.Fault.Message),
		}
		if err := e.value(st, 0); err != nil {
			return 0, nil, err
		}
		return protocol.MsgTypeFault, e.buf, nil
	}
	return 0, nil, fmt.Errorf("codec: unknown message kind %s", msg.Kind)
}

func (c *BinaryCodec) decodeBody(mt protocol.MsgType, body []byte) (*message.RPCMessage, error) {
	d := &decoder{buf: body, charset: c.charset}

	switch mt {
	case protocol.MsgTypeRequest:
		method, err := d.string()
		if err != nil {
			return nil, err
		}
		n, err := d.count(4)
		if err != nil {
			return nil, err
		}
		args := make([]message.Value, 0, n)
		for i := 0; i < n; i++ {
			v, err := d.value(0)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return &message.RPCMessage{Kind: message.KindCall, Method: method, Args: args}, nil

	case protocol.MsgTypeResponse:
		if len(body) == 0 {
			return message.NewResponse(nil), nil
		}
		v, err := d.value(0)
		if err != nil {
			return nil, err
		}
		if f, ok := faultFromValue(v); ok {
			return &message.RPCMessage{Kind: message.KindFault, Fault: f}, nil
		}
		return message.NewResponse(v), nil

	case protocol.MsgTypeFault:
		v, err := d.value(0)
		if err != nil {
			return nil, err
		}
		st, ok := v.(message.Struct)
		if !ok {
			return nil, fmt.Errorf("%w: fault payload is %s, not struct", ErrMalformed, message.TypeName(v))
		}
		f := &message.Fault{}
		if code, ok := st[faultCodeKey].(message.Int); ok {
			f.Code = int32(code)
		}
		if s, ok := st[faultStringKey].(message.String); ok {
			f.Message = string(s)
		}
		return &message.RPCMessage{Kind: message.KindFault, Fault: f}, nil
	}
	return nil, fmt.Errorf("%w: unexpected message type %s", ErrMalformed, mt)
}

// faultFromValue recognizes faults that some gateways send inside an ordinary
// response frame.
func faultFromValue(v message.Value) (*message.Fault, bool) {
	st, ok := v.(message.Struct)
	if !ok || len(st) != 2 {
		return nil, false
	}
	code, ok := st[faultCodeKey].(message.Int)
	if !ok {
		return nil, false
	}
	s, ok := st[faultStringKey].(message.String)
	if !ok {
		return nil, false
	}
	return &message.Fault{Code: int32(code), Message: string(s)}, true
}

type encoder struct {
	buf     []byte
	charset encoding.Encoding
}

func (e *encoder) uint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) string(s string) error {
	b, err := encodeString(e.charset, s)
	if err != nil {
		return err
	}
	e.uint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return nil
}

func (e *encoder) value(v message.Value, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("codec: nesting deeper than %d", MaxDepth)
	}

	switch x := v.(type) {
	case message.Int:
		e.uint32(typeInt)
		e.uint32(uint32(int32(x)))
	case message.Bool:
		e.uint32(typeBool)
		if x {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case message.String:
		e.uint32(typeString)
		return e.string(string(x))
	case message.Double:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %v cannot be encoded", ErrUnsupportedType, f)
		}
		mantissa, exponent := splitDouble(f)
		e.uint32(typeDouble)
		e.uint32(uint32(mantissa))
		e.uint32(uint32(exponent))
	case message.Binary:
		e.uint32(typeBinary)
		e.uint32(uint32(len(x)))
		e.buf = append(e.buf, x...)
	case message.Array:
		e.uint32(typeArray)
		e.uint32(uint32(len(x)))
		for _, el := range x {
			if err := e.value(el, depth+1); err != nil {
				return err
			}
		}
	case message.Struct:
		e.uint32(typeStruct)
		e.uint32(uint32(len(x)))
		for _, k := range x.Keys() {
			if err := e.string(k); err != nil {
				return err
			}
			if err := e.value(x[k], depth+1); err != nil {
				return fmt.Errorf("member %q: %w", k, err)
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, message.TypeName(v))
	}
	return nil
}

type decoder struct {
	buf     []byte
	off     int
	charset encoding.Encoding
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) bytes(n uint32) ([]byte, error) {
	if uint64(n) > uint64(d.remaining()) {
		return nil, errTruncated
	}
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(n)
	if err != nil {
		return "", err
	}
	return decodeString(d.charset, b)
}

// count reads an element count and rejects counts the remaining input cannot
// possibly hold, so a corrupt length cannot trigger a huge allocation.
func (d *decoder) count(minElemSize int) (int, error) {
	n, err := d.uint32()
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minElemSize) > uint64(d.remaining()) {
		return 0, fmt.Errorf("%w: count %d exceeds input", ErrMalformed, n)
	}
	return int(n), nil
}

func (d *decoder) value(depth int) (message.Value, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, MaxDepth)
	}

	tag, err := d.uint32()
	if err != nil {
		return nil, err
	}

	switch tag {
	case typeInt:
		v, err := d.uint32()
		if err != nil {
			return nil, err
		}
		return message.Int(int32(v)), nil
	case typeBool:
		b, err := d.bytes(1)
		if err != nil {
			return nil, err
		}
		return message.Bool(b[0] != 0), nil
	case typeString:
		s, err := d.string()
		if err != nil {
			return nil, err
		}
		return message.String(s), nil
	case typeDouble:
		mantissa, err := d.uint32()
		if err != nil {
			return nil, err
		}
		exponent, err := d.uint32()
		if err != nil {
			return nil, err
		}
		return message.Double(joinDouble(int32(mantissa), int32(exponent))), nil
	case typeBinary:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n)
		if err != nil {
			return nil, err
		}
		return message.Binary(append([]byte(nil), b...)), nil
	case typeArray:
		n, err := d.count(4)
		if err != nil {
			return nil, err
		}
		arr := make(message.Array, 0, n)
		for i := 0; i < n; i++ {
			el, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, el)
		}
		return arr, nil
	case typeStruct:
		n, err := d.count(8)
		if err != nil {
			return nil, err
		}
		st := make(message.Struct, n)
		for i := 0; i < n; i++ {
			key, err := d.string()
			if err != nil {
				return nil, err
			}
			el, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			st[key] = el
		}
		return st, nil
	}
	return nil, fmt.Errorf("%w: unknown type tag 0x%x", ErrMalformed, tag)
}

func splitDouble(f float64) (mantissa, exponent int32) {
	if f == 0 {
		return 0, 0
	}
	frac, exp := math.Frexp(f) // f = frac * 2^exp, 0.5 <= |frac| < 1
	return int32(frac * mantissaScale), int32(exp)
}

func joinDouble(mantissa, exponent int32) float64 {
	return math.Ldexp(float64(mantissa)/mantissaScale, int(exponent))
}
