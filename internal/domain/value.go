package domain

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind identifies which variant a Value holds.
type Kind string

const (
	KindNull   Kind = "null"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindObject Kind = "object"
)

// Value is a preference value. It is one of null, number, string, bool,
// list or object and marshals to the equivalent plain JSON.
type Value struct {
	v *structpb.Value
}

// NewValue converts a Go value (as produced by encoding/json) into a Value.
func NewValue(v any) (Value, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return Value{}, fmt.Errorf("unsupported preference value: %w", err)
	}
	return Value{v: pv}, nil
}

// StringValue returns a Value holding s.
func StringValue(s string) Value {
	return Value{v: structpb.NewStringValue(s)}
}

// NumberValue returns a Value holding n.
func NumberValue(n float64) Value {
	return Value{v: structpb.NewNumberValue(n)}
}

// BoolValue returns a Value holding b.
func BoolValue(b bool) Value {
	return Value{v: structpb.NewBoolValue(b)}
}

// Kind reports the variant held by v. The zero Value is null.
func (v Value) Kind() Kind {
	if v.v == nil {
		return KindNull
	}
	switch v.v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return KindNumber
	case *structpb.Value_StringValue:
		return KindString
	case *structpb.Value_BoolValue:
		return KindBool
	case *structpb.Value_ListValue:
		return KindList
	case *structpb.Value_StructValue:
		return KindObject
	default:
		return KindNull
	}
}

// String returns the string variant, or "" for any other kind.
func (v Value) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.GetStringValue()
}

// Text renders v for display: strings as-is, everything else as JSON.
func (v Value) Text() string {
	if v.Kind() == KindString {
		return v.String()
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// Truthy reports whether v is set to something other than null, false, zero
// or an empty string, list or object.
func (v Value) Truthy() bool {
	switch v.Kind() {
	case KindString:
		return v.v.GetStringValue() != ""
	case KindNumber:
		return v.v.GetNumberValue() != 0
	case KindBool:
		return v.v.GetBoolValue()
	case KindList:
		return len(v.v.GetListValue().GetValues()) > 0
	case KindObject:
		return len(v.v.GetStructValue().GetFields()) > 0
	default:
		return false
	}
}

// Interface returns v as a plain Go value (string, float64, bool, nil,
// []any or map[string]any).
func (v Value) Interface() any {
	if v.v == nil {
		return nil
	}
	return v.v.AsInterface()
}

// Proto exposes the underlying protobuf value.
func (v Value) Proto() *structpb.Value {
	if v.v == nil {
		return structpb.NewNullValue()
	}
	return v.v
}

// Equal reports whether both values hold the same JSON content.
func (v Value) Equal(other Value) bool {
	a, errA := v.MarshalJSON()
	b, errB := other.MarshalJSON()
	return errA == nil && errB == nil && string(a) == string(b)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return protojson.Marshal(v.Proto())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	pv := &structpb.Value{}
	if err := protojson.Unmarshal(data, pv); err != nil {
		return fmt.Errorf("decode preference value: %w", err)
	}
	v.v = pv
	return nil
}
