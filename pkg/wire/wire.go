// Package wire renders DriverGroup documents and lookup results into the
// two formats external consumers speak: canonical JSON and a fixed XML
// schema. The XML target cannot carry arbitrary key sets as attributes,
// so mappings are encoded as repeated item elements and per-driver
// settings as a setting list.
package wire

import (
	"encoding/json"
	"fmt"
)

// SerializationError reports a stored shape that cannot be mapped into
// the target wire format, such as a rule name that is not a legal XML
// element name.
type SerializationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ToJSON encodes a document or result set field-for-field in its stored
// shape. Rule maps and mappings marshal in insertion order, so the
// output is canonical for a canonicalized document.
func ToJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding JSON: %w", err)
	}
	return data, nil
}
