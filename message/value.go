package message

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Value is one BIN-RPC value. The concrete types below are the only
// implementations, so a type switch over them is exhaustive.
type Value interface {
	isValue()
}

type (
	Int    int32
	Double float64
	Bool   bool
	String string
	Binary []byte
	Array  []Value
	Struct map[string]Value
)

func (Int) isValue()    {}
func (Double) isValue() {}
func (Bool) isValue()   {}
func (String) isValue() {}
func (Binary) isValue() {}
func (Array) isValue()  {}
func (Struct) isValue() {}

// Keys returns the struct keys in sorted order.
func (s Struct) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TypeName returns the gateway's name for the value's type.
func TypeName(v Value) string {
	switch v.(type) {
	case Int:
		return "int"
	case Double:
		return "double"
	case Bool:
		return "boolean"
	case String:
		return "string"
	case Binary:
		return "base64"
	case Array:
		return "array"
	case Struct:
		return "struct"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FromGo converts a native Go value into a Value. Integers must fit in int32,
// the only integer width the gateway understands.
func FromGo(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("message: cannot convert nil")
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Binary(x), nil
	case float32:
		return Double(x), nil
	case float64:
		return Double(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return intFromGo(x)
	case []any:
		arr := make(Array, 0, len(x))
		for i, e := range x {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("message: element %d: %w", i, err)
			}
			arr = append(arr, ev)
		}
		return arr, nil
	case map[string]any:
		st := make(Struct, len(x))
		for k, e := range x {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("message: member %q: %w", k, err)
			}
			st[k] = ev
		}
		return st, nil
	}

	// Typed slices and maps ([]string, map[string]int, ...)
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		arr := make(Array, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("message: element %d: %w", i, err)
			}
			arr = append(arr, ev)
		}
		return arr, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("message: map key must be string, got %s", rv.Type().Key())
		}
		st := make(Struct, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := FromGo(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("message: member %q: %w", iter.Key().String(), err)
			}
			st[iter.Key().String()] = ev
		}
		return st, nil
	}
	return nil, fmt.Errorf("message: unsupported type %T", v)
}

func intFromGo(v any) (Value, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if uint64(x) > math.MaxInt32 {
			return nil, fmt.Errorf("message: %d overflows int32", x)
		}
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt32 {
			return nil, fmt.Errorf("message: %d overflows int32", x)
		}
		n = int64(x)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("message: %d overflows int32", n)
	}
	return Int(n), nil
}

// MustFromGo is FromGo for literals known to be valid.
func MustFromGo(v any) Value {
	val, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return val
}

// ToGo converts a Value into plain Go types: int32, float64, bool, string,
// []byte, []any and map[string]any.
func ToGo(v Value) any {
	switch x := v.(type) {
	case Int:
		return int32(x)
	case Double:
		return float64(x)
	case Bool:
		return bool(x)
	case String:
		return string(x)
	case Binary:
		return []byte(x)
	case Array:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToGo(e)
		}
		return out
	case Struct:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToGo(e)
		}
		return out
	default:
		return nil
	}
}

// AsString returns the string held by v, if any.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// AsStruct returns v as a Struct, if it is one.
func AsStruct(v Value) (Struct, bool) {
	s, ok := v.(Struct)
	return s, ok
}

// AsArray returns v as an Array, if it is one.
func AsArray(v Value) (Array, bool) {
	a, ok := v.(Array)
	return a, ok
}
