package codec

import (
	"errors"

	"hm-binrpc/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

var (
	// ErrMalformed marks input that could not be decoded. It is a transport
	// level problem, never an application fault.
	ErrMalformed = errors.New("codec: malformed message")

	ErrUnsupportedType = errors.New("codec: unsupported value type")
)

type Codec interface {
	Encode(msg *message.RPCMessage) ([]byte, error)
	Decode(data []byte) (*message.RPCMessage, error)
	Type() CodecType // 0=JSON, 1=Binary
}
