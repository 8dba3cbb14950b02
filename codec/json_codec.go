package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"hm-binrpc/message"
)

// JSONCodec renders messages as JSON for consumers outside the gateway
// protocol (event forwarding, debugging).
// Pros: human-readable, every MQTT consumer can parse it.
// Cons: lossy on decode, Binary values come back as base64 String and
// integral doubles come back as Int.
type JSONCodec struct{}

type jsonEnvelope struct {
	Method string     `json:"method,omitempty"`
	Params []any      `json:"params,omitempty"`
	Result any        `json:"result,omitempty"`
	Fault  *jsonFault `json:"fault,omitempty"`
}

type jsonFault struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func (c *JSONCodec) Encode(msg *message.RPCMessage) ([]byte, error) {
	var env jsonEnvelope
	switch msg.Kind {
	case message.KindCall:
		env.Method = msg.Method
		env.Params = make([]any, len(msg.Args))
		for i, a := range msg.Args {
			env.Params[i] = message.ToGo(a)
		}
	case message.KindResponse:
		env.Result = message.ToGo(msg.Result)
	case message.KindFault:
		if msg.Fault == nil {
			return nil, fmt.Errorf("codec: fault message without fault")
		}
		env.Fault = &jsonFault{Code: msg.Fault.Code, Message: msg.Fault.Message}
	default:
		return nil, fmt.Errorf("codec: unknown message kind %s", msg.Kind)
	}
	return json.Marshal(env)
}

func (c *JSONCodec) Decode(data []byte) (*message.RPCMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env jsonEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case env.Fault != nil:
		return message.NewFault(env.Fault.Code, env.Fault.Message), nil
	case env.Method != "":
		args := make([]message.Value, 0, len(env.Params))
		for _, p := range env.Params {
			v, err := valueFromJSON(p)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return message.NewCall(env.Method, args...), nil
	}

	if env.Result == nil {
		return message.NewResponse(nil), nil
	}
	v, err := valueFromJSON(env.Result)
	if err != nil {
		return nil, err
	}
	return message.NewResponse(v), nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

// EncodeValue renders a single value as JSON.
func (c *JSONCodec) EncodeValue(v message.Value) ([]byte, error) {
	return json.Marshal(message.ToGo(v))
}

func valueFromJSON(v any) (message.Value, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil && n >= math.MinInt32 && n <= math.MaxInt32 {
			return message.Int(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %s", ErrMalformed, x)
		}
		return message.Double(f), nil
	case string:
		return message.String(x), nil
	case bool:
		return message.Bool(x), nil
	case []any:
		arr := make(message.Array, 0, len(x))
		for _, e := range x {
			ev, err := valueFromJSON(e)
			if err != nil {
				return nil, err
			}
			arr = append(arr, ev)
		}
		return arr, nil
	case map[string]any:
		st := make(message.Struct, len(x))
		for k, e := range x {
			ev, err := valueFromJSON(e)
			if err != nil {
				return nil, err
			}
			st[k] = ev
		}
		return st, nil
	}
	return nil, fmt.Errorf("%w: unsupported JSON value %T", ErrMalformed, v)
}
