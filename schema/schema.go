// Package schema defines the field types a service manifest can declare and
// the tagged value representation used to check client data against them.
//
// Client records arrive as decoded JSON or msgpack, so values are plain Go
// interfaces. ValueOf classifies them once into a Kind; type checks compare
// Kinds instead of runtime type names.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// FieldType is a type a manifest field can declare.
// The zero value means "no type constraint".
type FieldType int

const (
	TypeAny FieldType = iota
	TypeString
	TypeNumber
	TypeBoolean
	TypeObject
)

var typeNames = map[FieldType]string{
	TypeAny:     "",
	TypeString:  "string",
	TypeNumber:  "number",
	TypeBoolean: "boolean",
	TypeObject:  "object",
}

// String returns the wire name of the type ("" for TypeAny).
func (t FieldType) String() string {
	return typeNames[t]
}

// ParseFieldType maps a wire name to a FieldType. The empty string is TypeAny.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.TrimSpace(s) {
	case "":
		return TypeAny, nil
	case "string":
		return TypeString, nil
	case "number":
		return TypeNumber, nil
	case "boolean":
		return TypeBoolean, nil
	case "object":
		return TypeObject, nil
	default:
		return TypeAny, fmt.Errorf("unknown field type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Kind is the runtime classification of a value.
type Kind int

const (
	KindString Kind = iota + 1
	KindNumber
	KindBoolean
	KindObject
)

// FieldType returns the declared type a value of this kind satisfies.
func (k Kind) FieldType() FieldType {
	switch k {
	case KindString:
		return TypeString
	case KindNumber:
		return TypeNumber
	case KindBoolean:
		return TypeBoolean
	default:
		return TypeObject
	}
}

// String returns the type name of the kind.
func (k Kind) String() string {
	return k.FieldType().String()
}

// Value is a tagged client field value.
type Value struct {
	Kind Kind
	Raw  interface{}
}

// ValueOf classifies a decoded value.
//
// Every numeric Go type is a number, and json.Number too. Maps, slices and nil
// are objects, matching JavaScript typeof where arrays and null are "object".
func ValueOf(v interface{}) Value {
	switch x := v.(type) {
	case string:
		return Value{Kind: KindString, Raw: x}
	case bool:
		return Value{Kind: KindBoolean, Raw: x}
	case json.Number:
		return Value{Kind: KindNumber, Raw: x}
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return Value{Kind: KindNumber, Raw: x}
	case nil:
		return Value{Kind: KindObject, Raw: nil}
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.String:
		return Value{Kind: KindString, Raw: v}
	case reflect.Bool:
		return Value{Kind: KindBoolean, Raw: v}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Value{Kind: KindNumber, Raw: v}
	default:
		return Value{Kind: KindObject, Raw: v}
	}
}

// Matches reports whether v satisfies the declared type t.
// TypeAny accepts everything.
func Matches(t FieldType, v Value) bool {
	if t == TypeAny {
		return true
	}
	return v.Kind.FieldType() == t
}
