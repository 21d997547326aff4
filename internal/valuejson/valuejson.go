// Package valuejson converts between value.Value and plain JSON, the way
// the teacher-original CLI's json_to_value free function does, so both
// cmd/embeddbcli and internal/httpapi share one encoding instead of each
// rolling their own.
package valuejson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/embeddb/embeddb/pkg/value"
)

// ToJSON renders v as a plain Go value suitable for json.Marshal: Int and
// Float as numbers, Bool as bool, String as string, Bytes as a JSON array
// of byte values, Null as nil.
func ToJSON(v value.Value) interface{} {
	switch v.Kind {
	case value.TypeInt:
		return v.Int
	case value.TypeFloat:
		return v.Float
	case value.TypeBool:
		return v.Bool
	case value.TypeString:
		return v.Str
	case value.TypeBytes:
		out := make([]int, len(v.Bytes))
		for i, b := range v.Bytes {
			out[i] = int(b)
		}
		return out
	case value.TypeNull:
		return nil
	default:
		return nil
	}
}

// FromJSON converts a decoded JSON value (as produced by
// json.Unmarshal into interface{}, using json.Number for numbers) into a
// value.Value. Numbers disambiguate Int vs Float the way the
// teacher-original CLI's json_to_value does: an integral json.Number
// becomes Int, anything with a fractional or exponent part becomes Float.
// Arrays decode as Bytes (elements must be 0-255); nested objects are
// rejected, matching the original's refusal of nested structures.
func FromJSON(raw interface{}) (value.Value, error) {
	switch v := raw.(type) {
	case nil:
		return value.Null(), nil
	case bool:
		return value.Bool(v), nil
	case string:
		return value.String(v), nil
	case json.Number:
		return numberToValue(v)
	case float64:
		return numberToValue(json.Number(fmt.Sprintf("%v", v)))
	case []interface{}:
		bytes := make([]byte, 0, len(v))
		for _, item := range v {
			b, err := byteFromJSON(item)
			if err != nil {
				return value.Value{}, err
			}
			bytes = append(bytes, b)
		}
		return value.Bytes(bytes), nil
	case map[string]interface{}:
		return value.Value{}, fmt.Errorf("valuejson: nested objects not supported")
	default:
		return value.Value{}, fmt.Errorf("valuejson: unsupported JSON type %T", raw)
	}
}

func byteFromJSON(item interface{}) (byte, error) {
	n, ok := item.(json.Number)
	if !ok {
		if f, ok := item.(float64); ok {
			n = json.Number(fmt.Sprintf("%v", f))
		} else {
			return 0, fmt.Errorf("valuejson: bytes array element must be a number, got %T", item)
		}
	}
	i, err := n.Int64()
	if err != nil || i < 0 || i > 255 {
		return 0, fmt.Errorf("valuejson: byte value %q out of range 0-255", n.String())
	}
	return byte(i), nil
}

func numberToValue(n json.Number) (value.Value, error) {
	if i, err := n.Int64(); err == nil {
		return value.Int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return value.Value{}, fmt.Errorf("valuejson: invalid number %q: %w", n.String(), err)
	}
	return value.Float(f), nil
}

// DecodeFields parses a JSON object's raw bytes into a row's field map,
// using json.Number to preserve integer/float distinction.
func DecodeFields(data []byte) (map[string]value.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("valuejson: decode row: %w", err)
	}
	fields := make(map[string]value.Value, len(raw))
	for k, v := range raw {
		val, err := FromJSON(v)
		if err != nil {
			return nil, err
		}
		fields[k] = val
	}
	return fields, nil
}

// EncodeFields renders a row's field map as a stable, sorted-key JSON
// object for display by the CLI and HTTP layers.
func EncodeFields(fields map[string]value.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = ToJSON(v)
	}
	return out
}

// DecodeVector parses a JSON array of numbers into a query vector.
func DecodeVector(data []byte) ([]float32, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []json.Number
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("valuejson: decode vector: %w", err)
	}
	out := make([]float32, 0, len(raw))
	for _, n := range raw {
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("valuejson: invalid vector element %q: %w", n.String(), err)
		}
		out = append(out, float32(f))
	}
	return out, nil
}

// SortedKeys returns fields' keys sorted, useful for deterministic
// iteration when rendering schema-ordered output is unavailable.
func SortedKeys(fields map[string]value.Value) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
