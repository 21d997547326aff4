// Package value implements the tagged scalar type shared by row data,
// filter conditions, and embedding input rendering.
package value

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Type identifies which variant a Value holds.
type Type uint8

const (
	TypeInt Type = iota + 1
	TypeFloat
	TypeBool
	TypeString
	TypeBytes
	TypeNull
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeNull:
		return "null"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar: exactly one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind  Type
	Int   int64
	Float float64
	Bool  bool
	Str   string
	Bytes []byte
}

func Int(v int64) Value         { return Value{Kind: TypeInt, Int: v} }
func Float(v float64) Value     { return Value{Kind: TypeFloat, Float: v} }
func Bool(v bool) Value         { return Value{Kind: TypeBool, Bool: v} }
func String(v string) Value     { return Value{Kind: TypeString, Str: v} }
func Bytes(v []byte) Value      { return Value{Kind: TypeBytes, Bytes: v} }
func Null() Value               { return Value{Kind: TypeNull} }
func (v Value) IsNull() bool    { return v.Kind == TypeNull }
func (v Value) IsNumeric() bool { return v.Kind == TypeInt || v.Kind == TypeFloat }

// AsFloat64 promotes Int or Float to a float64, for ordering comparisons.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case TypeInt:
		return float64(v.Int), true
	case TypeFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Matches reports whether v is an acceptable value for a column of type t:
// either the kinds agree, or v is Null (any column accepts Null storage;
// non-nullable enforcement happens at the schema layer).
func (v Value) Matches(t Type) bool {
	return v.Kind == t || v.Kind == TypeNull
}

// AsString renders v the way EmbeddingSpec.input_string does: numbers and
// bools in their textual form, strings verbatim, bytes as standard base64,
// and Null as the empty string.
func (v Value) AsString() string {
	switch v.Kind {
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeString:
		return v.Str
	case TypeBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case TypeNull:
		return ""
	default:
		return ""
	}
}

// Equal reports structural equality, promoting Int/Float to float64 when
// both sides are numeric.
func (v Value) Equal(other Value) bool {
	if v.IsNumeric() && other.IsNumeric() {
		a, _ := v.AsFloat64()
		b, _ := other.AsFloat64()
		return a == b
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case TypeBool:
		return v.Bool == other.Bool
	case TypeString:
		return v.Str == other.Str
	case TypeBytes:
		return string(v.Bytes) == string(other.Bytes)
	case TypeNull:
		return true
	default:
		return false
	}
}

func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s:%s}", v.Kind, v.AsString())
}
