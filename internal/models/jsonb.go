package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/kairoslabs/kairos-agent/internal/types"
)

// JSONBStringArray is a custom type for handling string arrays in JSONB
type JSONBStringArray []string

// Value implements the driver.Valuer interface
func (a JSONBStringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface
func (a *JSONBStringArray) Scan(value interface{}) error {
	if value == nil {
		*a = JSONBStringArray{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, a)
}

// JSONBMap is a custom type for handling free-form objects in JSONB
type JSONBMap map[string]any

// Value implements the driver.Valuer interface
func (m JSONBMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface
func (m *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONBMap{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// AllergiesJSON stores the typed allergies object as JSONB.
type AllergiesJSON types.Allergies

// Value implements the driver.Valuer interface
func (a AllergiesJSON) Value() (driver.Value, error) {
	return json.Marshal(types.Allergies(a))
}

// Scan implements the sql.Scanner interface
func (a *AllergiesJSON) Scan(value interface{}) error {
	if value == nil {
		*a = AllergiesJSON{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, (*types.Allergies)(a))
}

// JSONBRaw stores pre-serialized JSON as-is.
type JSONBRaw json.RawMessage

// Value implements the driver.Valuer interface
func (r JSONBRaw) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "{}", nil
	}
	return []byte(r), nil
}

// Scan implements the sql.Scanner interface
func (r *JSONBRaw) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = JSONBRaw(v)
	case nil:
		*r = nil
	}
	return nil
}

// MarshalJSON embeds the raw bytes directly.
func (r JSONBRaw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores the raw bytes directly.
func (r *JSONBRaw) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}
