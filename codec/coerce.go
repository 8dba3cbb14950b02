package codec

import (
	"math"
	"strings"

	"hm-binrpc/message"
)

// ParamType is the declared type of a gateway parameter (paramset description TYPE).
type ParamType string

const (
	ParamInteger ParamType = "INTEGER"
	ParamFloat   ParamType = "FLOAT"
	ParamBool    ParamType = "BOOL"
	ParamEnum    ParamType = "ENUM"
	ParamString  ParamType = "STRING"
	ParamAction  ParamType = "ACTION"
)

// Coerce adapts v to what the gateway expects for a parameter of type t.
// Platform values arrive as doubles even for integer parameters, and the
// gateway rejects a double where it declared an integer.
func Coerce(v message.Value, t ParamType) message.Value {
	switch ParamType(strings.ToUpper(string(t))) {
	case ParamInteger, ParamEnum:
		if d, ok := v.(message.Double); ok {
			return message.Int(truncateInt32(float64(d)))
		}
	case ParamBool, ParamAction:
		if i, ok := v.(message.Int); ok && (i == 0 || i == 1) {
			return message.Bool(i == 1)
		}
	}
	return v
}

func truncateInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}
