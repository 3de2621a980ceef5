package object

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrHashInputInvalid is returned when a value cannot be canonicalized for
// hashing, e.g. it contains a non-finite number (spec.md §4.1).
var ErrHashInputInvalid = errors.New("object: hash input is not canonicalizable")

// CanonicalJSON serializes value with no insignificant whitespace and
// round-trippable number formatting, using encoding/json directly rather
// than a bespoke serializer (see DESIGN.md). Map keys come out sorted;
// struct values (such as the delta block wire form) keep their fields in
// declaration order and are not key-sorted.
func CanonicalJSON(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHashInputInvalid, err)
	}
	// json.Marshal never inserts insignificant whitespace, but Compact
	// guards against any future caller passing pre-indented JSON bytes
	// through as a json.RawMessage.
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHashInputInvalid, err)
	}
	return buf.Bytes(), nil
}

// HashValue canonicalizes and hashes a JSON value, per spec.md §4.1.
func HashValue(value any) (Hash, error) {
	data, err := CanonicalJSON(value)
	if err != nil {
		return nil, err
	}
	return Sum(data), nil
}
