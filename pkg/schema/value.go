package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindNested
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindNested:
		return "nested"
	default:
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
}

// Value is a single payload field. It is one of null, string, number,
// bool, or a nested object/array kept as compact JSON.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	raw  json.RawMessage
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Null returns the null Value.
func Null() Value { return Value{} }

// Nested wraps an arbitrary object or slice. It is marshaled once and kept
// as compact JSON.
func Nested(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("marshal nested value: %w", err)
	}
	var out Value
	if err := out.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return out, nil
}

// Kind reports the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// Display renders v as a single-line cell string.
func (v Value) Display() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNested:
		return string(v.raw)
	default:
		panic(fmt.Sprintf("schema: unhandled value kind %v", v.kind))
	}
}

// formatNumber mirrors the shortest round-trip form used by JSON clients:
// plain decimals inside [1e-7, 1e21) and exponent notation outside.
func formatNumber(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return ""
	}
	abs := math.Abs(n)
	if n == 0 || (abs >= 1e-7 && abs < 1e21) {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'e', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindNested:
		return append([]byte(nil), v.raw...), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case 'n':
		*v = Value{}
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*v = Value{kind: KindNested, raw: buf.Bytes()}
	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("schema: invalid payload value %q", data)
		}
		*v = Number(n)
	}
	return nil
}

// Payload is the free-form field data of a submission.
type Payload map[string]Value

// Keys returns the payload keys in ascending order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON accepts an object; any other JSON shape yields an empty payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		*p = Payload{}
		return nil
	}
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m == nil {
		m = map[string]Value{}
	}
	*p = m
	return nil
}
