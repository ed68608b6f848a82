package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidShape is returned when a JSON document is not a string-leaf tree.
var ErrInvalidShape = errors.New("schema: document is not a string-leaf tree")

// Parse decodes a JSON object into a Tree, keeping the document's key order.
// Only objects and strings are accepted; numbers, booleans, null and arrays
// are rejected with ErrInvalidShape.
func Parse(data []byte) (*Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: top level must be an object, got %v", ErrInvalidShape, tok)
	}
	t, err := decodeObject(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidShape)
	}
	return t, nil
}

// decodeObject reads key/value pairs after the opening '{' up to and
// including the closing '}'. A repeated key keeps its first position and its
// last value.
func decodeObject(dec *json.Decoder) (*Tree, error) {
	t := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected key, got %v", ErrInvalidShape, tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		t.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return t, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	switch v := tok.(type) {
	case string:
		return Leaf(v), nil
	case json.Delim:
		if v == '{' {
			return decodeObject(dec)
		}
		return nil, fmt.Errorf("%w: arrays are not allowed", ErrInvalidShape)
	default:
		return nil, fmt.Errorf("%w: leaf must be a string, got %T", ErrInvalidShape, tok)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tree) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler, writing keys in declared order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Tree) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, key := range t.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		switch v := t.values[key].(type) {
		case *Tree:
			if err := v.encode(buf); err != nil {
				return err
			}
		case Leaf:
			vb, err := json.Marshal(string(v))
			if err != nil {
				return err
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return nil
}

// Indented renders the tree as two-space indented JSON, for prompts and
// terminal output.
func (t *Tree) Indented() string {
	raw, err := t.MarshalJSON()
	if err != nil {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}
