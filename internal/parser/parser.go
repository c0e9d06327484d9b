// Package parser turns raw JSON file bytes into normalized records.
//
// Parsing is a pure transformation: no I/O, no shared state. A file either
// yields its full record set or fails as a whole, so the record store is
// never left with a partial extraction.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrMalformedInput marks bytes that are not valid JSON text.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnsupportedShape marks valid JSON whose top-level structure
	// matches none of the recognized forms.
	ErrUnsupportedShape = errors.New("unsupported input shape")
)

// DefaultRecordType labels records whose element carries no type field.
const DefaultRecordType = "transaction"

// Record is one normalized record extracted from a file.
type Record struct {
	Type    string
	Payload json.RawMessage
}

// shape enumerates the recognized top-level input forms, in the fixed
// order they are tried.
type shape int

const (
	shapeArray       shape = iota // top-level sequence of objects
	shapeSingle                   // single object with an id or type field
	shapeRecordsList              // object with a "records" sequence
	shapeDataList                 // object with a "data" sequence
	shapeUnsupported
)

// Parse extracts the record set from raw file bytes.
//
// Recognized shapes, in order: a top-level array of objects; a single
// object carrying an "id" or "type" field; an object whose "records" or
// "data" field holds an array of objects. Anything else fails with
// ErrUnsupportedShape; bytes that are not valid JSON fail with
// ErrMalformedInput.
func Parse(raw []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedInput)
	}
	if !utf8.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid UTF-8 encoding", ErrMalformedInput)
	}

	switch trimmed[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		if len(elems) == 0 {
			return nil, fmt.Errorf("%w: empty top-level array", ErrUnsupportedShape)
		}
		return recordsFromElements(elems)

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		return recordsFromObject(trimmed, fields)

	default:
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedInput)
		}
		return nil, fmt.Errorf("%w: expected object or array at top level", ErrUnsupportedShape)
	}
}

// detectObjectShape decides which form a top-level object takes. The
// decision table is deliberately explicit so the fixed-order contract
// stays auditable.
func detectObjectShape(fields map[string]json.RawMessage) shape {
	if _, ok := fields["id"]; ok {
		return shapeSingle
	}
	if _, ok := fields["type"]; ok {
		return shapeSingle
	}
	if isArray(fields["records"]) {
		return shapeRecordsList
	}
	if isArray(fields["data"]) {
		return shapeDataList
	}
	return shapeUnsupported
}

func recordsFromObject(whole json.RawMessage, fields map[string]json.RawMessage) ([]Record, error) {
	switch detectObjectShape(fields) {
	case shapeSingle:
		return []Record{{Type: typeOf(fields["type"]), Payload: whole}}, nil

	case shapeRecordsList:
		return recordsFromContainer(fields["records"], "records")

	case shapeDataList:
		return recordsFromContainer(fields["data"], "data")

	default:
		return nil, fmt.Errorf("%w: object matches no recognized form", ErrUnsupportedShape)
	}
}

func recordsFromContainer(list json.RawMessage, field string) ([]Record, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(list, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: %q field holds no records", ErrUnsupportedShape, field)
	}
	return recordsFromElements(elems)
}

// recordsFromElements converts a sequence of elements into records. A
// single non-object element fails the whole file.
func recordsFromElements(elems []json.RawMessage) ([]Record, error) {
	records := make([]Record, 0, len(elems))
	for i, elem := range elems {
		if !isObject(elem) {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrUnsupportedShape, i)
		}
		var fields struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(elem, &fields); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedInput, i, err)
		}
		recordType := fields.Type
		if recordType == "" {
			recordType = DefaultRecordType
		}
		records = append(records, Record{Type: recordType, Payload: elem})
	}
	return records, nil
}

// typeOf extracts a string type label from a raw field, falling back to
// the default when absent or not a string.
func typeOf(raw json.RawMessage) string {
	var s string
	if raw != nil && json.Unmarshal(raw, &s) == nil && s != "" {
		return s
	}
	return DefaultRecordType
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}
