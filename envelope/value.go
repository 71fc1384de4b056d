package envelope

import (
	"encoding/json"
	"fmt"
)

// ValueKind tags the scalar variants of Value on the wire.
type ValueKind string

// Value kinds. Integer kinds record the declared width; values are stored
// widened and re-narrow on the wire.
const (
	KindText     ValueKind = "text"
	KindTextList ValueKind = "text_list"
	KindBoolean  ValueKind = "boolean"
	KindU8       ValueKind = "u8"
	KindU16      ValueKind = "u16"
	KindU32      ValueKind = "u32"
	KindU64      ValueKind = "u64"
	KindI8       ValueKind = "i8"
	KindI16      ValueKind = "i16"
	KindI32      ValueKind = "i32"
	KindI64      ValueKind = "i64"
	KindF32      ValueKind = "f32"
	KindF64      ValueKind = "f64"
)

// Value is a tagged scalar used in typed host/guest exchanges such as
// environment variables. The JSON form is {"type": <kind>, "value": <v>}.
type Value struct {
	kind ValueKind
	text string
	list []string
	b    bool
	u    uint64
	i    int64
	f    float64
}

// Text creates a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// TextList creates a list-of-text value.
func TextList(ss []string) Value { return Value{kind: KindTextList, list: ss} }

// Boolean creates a boolean value.
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// U8 creates an unsigned 8-bit value.
func U8(n uint8) Value { return Value{kind: KindU8, u: uint64(n)} }

// U16 creates an unsigned 16-bit value.
func U16(n uint16) Value { return Value{kind: KindU16, u: uint64(n)} }

// U32 creates an unsigned 32-bit value.
func U32(n uint32) Value { return Value{kind: KindU32, u: uint64(n)} }

// U64 creates an unsigned 64-bit value.
func U64(n uint64) Value { return Value{kind: KindU64, u: n} }

// I8 creates a signed 8-bit value.
func I8(n int8) Value { return Value{kind: KindI8, i: int64(n)} }

// I16 creates a signed 16-bit value.
func I16(n int16) Value { return Value{kind: KindI16, i: int64(n)} }

// I32 creates a signed 32-bit value.
func I32(n int32) Value { return Value{kind: KindI32, i: int64(n)} }

// I64 creates a signed 64-bit value.
func I64(n int64) Value { return Value{kind: KindI64, i: n} }

// F32 creates a 32-bit float value.
func F32(f float32) Value { return Value{kind: KindF32, f: float64(f)} }

// F64 creates a 64-bit float value.
func F64(f float64) Value { return Value{kind: KindF64, f: f} }

// Kind returns the wire tag of the value. The zero Value has an empty kind.
func (v Value) Kind() ValueKind { return v.kind }

// AsText returns the text payload when the kind is text.
func (v Value) AsText() (string, bool) {
	return v.text, v.kind == KindText
}

// AsTextList returns the list payload when the kind is text_list.
func (v Value) AsTextList() ([]string, bool) {
	return v.list, v.kind == KindTextList
}

// AsBoolean returns the boolean payload when the kind is boolean.
func (v Value) AsBoolean() (bool, bool) {
	return v.b, v.kind == KindBoolean
}

// AsUint returns the widened payload of any unsigned kind.
func (v Value) AsUint() (uint64, bool) {
	switch v.kind {
	case KindU8, KindU16, KindU32, KindU64:
		return v.u, true
	default:
		return 0, false
	}
}

// AsInt returns the widened payload of any signed kind.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindI8, KindI16, KindI32, KindI64:
		return v.i, true
	default:
		return 0, false
	}
}

// AsFloat returns the widened payload of any float kind.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindF32, KindF64:
		return v.f, true
	default:
		return 0, false
	}
}

// String renders the payload for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindTextList:
		return fmt.Sprintf("%v", v.list)
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindU8, KindU16, KindU32, KindU64:
		return fmt.Sprintf("%d", v.u)
	case KindI8, KindI16, KindI32, KindI64:
		return fmt.Sprintf("%d", v.i)
	case KindF32, KindF64:
		return fmt.Sprintf("%g", v.f)
	default:
		return ""
	}
}

type valueWire struct {
	Type  ValueKind       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindText:
		payload = v.text
	case KindTextList:
		payload = v.list
	case KindBoolean:
		payload = v.b
	case KindU8, KindU16, KindU32, KindU64:
		payload = v.u
	case KindI8, KindI16, KindI32, KindI64:
		payload = v.i
	case KindF32, KindF64:
		payload = v.f
	default:
		return nil, fmt.Errorf("envelope: marshal value: unknown kind %q", v.kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueWire{Type: v.kind, Value: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("envelope: unmarshal value: %w", err)
	}
	out := Value{kind: w.Type}
	var err error
	switch w.Type {
	case KindText:
		err = json.Unmarshal(w.Value, &out.text)
	case KindTextList:
		err = json.Unmarshal(w.Value, &out.list)
	case KindBoolean:
		err = json.Unmarshal(w.Value, &out.b)
	case KindU8, KindU16, KindU32, KindU64:
		err = json.Unmarshal(w.Value, &out.u)
	case KindI8, KindI16, KindI32, KindI64:
		err = json.Unmarshal(w.Value, &out.i)
	case KindF32, KindF64:
		err = json.Unmarshal(w.Value, &out.f)
	default:
		return fmt.Errorf("envelope: unmarshal value: unknown kind %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("envelope: unmarshal %s value: %w", w.Type, err)
	}
	*v = out
	return nil
}
