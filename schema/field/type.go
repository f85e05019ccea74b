package field

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// A Type represents a property value type.
type Type uint8

// List of property types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt64
	TypeFloat64
	TypeString
	TypeTime
	TypeUUID
	TypeJSON
	TypeGeometry
	endTypes
)

var typeNames = [...]string{
	TypeInvalid:  "invalid",
	TypeBool:     "bool",
	TypeInt64:    "int64",
	TypeFloat64:  "float64",
	TypeString:   "string",
	TypeTime:     "time.Time",
	TypeUUID:     "uuid.UUID",
	TypeJSON:     "json.RawMessage",
	TypeGeometry: "geometry",
}

// String returns the string representation of a type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type is a known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t == TypeInt64 || t == TypeFloat64
}

// Structured reports if values of the type are stored as JSON documents.
func (t Type) Structured() bool {
	return t == TypeJSON || t == TypeGeometry
}

// Check reports whether v is an acceptable Go value for a property of type t.
// A nil value is always accepted; nullability is checked by the caller.
func (t Type) Check(v any) error {
	if v == nil {
		return nil
	}
	ok := false
	switch t {
	case TypeBool:
		_, ok = v.(bool)
	case TypeInt64:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			ok = true
		}
	case TypeFloat64:
		switch v.(type) {
		case float32, float64, int, int64:
			ok = true
		}
	case TypeString:
		_, ok = v.(string)
	case TypeTime:
		_, ok = v.(time.Time)
	case TypeUUID:
		switch x := v.(type) {
		case uuid.UUID:
			ok = true
		case string:
			_, err := uuid.Parse(x)
			ok = err == nil
		}
	case TypeJSON, TypeGeometry:
		switch x := v.(type) {
		case json.RawMessage:
			ok = json.Valid(x)
		case map[string]any, []any, string, float64, bool:
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("field: invalid value %v (%T) for type %s", v, v, t)
	}
	return nil
}
