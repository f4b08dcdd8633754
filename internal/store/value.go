package store

import (
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
	KindBool
)

// String returns the tag used for the kind in snapshots.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(tag string) (Kind, bool) {
	switch tag {
	case "int":
		return KindInt, true
	case "float":
		return KindFloat, true
	case "string":
		return KindString, true
	case "bool":
		return KindBool, true
	default:
		return 0, false
	}
}

// Value is a closed sum of int64, float64, string and bool.
// The zero Value is invalid; build one with the constructors below.
// Once stored a Value never changes variant.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

func Int(v int64) Value { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsValid() bool { return v.kind >= KindInt && v.kind <= KindBool }

// AsInt returns the integer and true if v holds an int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float and true if v holds a float.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns the string and true if v holds a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBool returns the boolean and true if v holds a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// Interface returns the held value as int64, float64, string or bool.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// String renders the value for humans. Floats keep six decimals.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', 6, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "(unknown)"
	}
}
