// File path: internal/schema/tree.go

// Package schema holds the form template data model: an ordered JSON tree of
// fields, the flattened path->value view of it, and the merge rules applied to
// extraction results. Key order is preserved through decode, flatten and
// encode because field resolution and interview iteration are defined by the
// template's own ordering.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Tree is a JSON object whose keys keep their document order. Values are
// string, bool, float64, nil or *Tree; arrays are rejected because the form
// model has no list-valued fields.
type Tree struct {
	keys   []string
	values map[string]interface{}
}

func NewTree() *Tree {
	return &Tree{values: make(map[string]interface{})}
}

func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the keys in document order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

func (t *Tree) Get(key string) (interface{}, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t.values[key]
	return v, ok
}

// Set assigns a value, appending the key to the order when it is new.
func (t *Tree) Set(key string, value interface{}) {
	if t.values == nil {
		t.values = make(map[string]interface{})
	}
	if _, exists := t.values[key]; !exists {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
}

// Child returns the nested tree at key, or nil when the value is a leaf or
// absent.
func (t *Tree) Child(key string) *Tree {
	v, ok := t.Get(key)
	if !ok {
		return nil
	}
	child, _ := v.(*Tree)
	return child
}

// ValidateKeys rejects any key, at any depth, containing the path delimiter.
// Such keys would make Flatten/Unflatten ambiguous, so they are refused when
// the template is loaded.
func (t *Tree) ValidateKeys(sep string) error {
	if t == nil {
		return nil
	}
	for _, key := range t.keys {
		if strings.Contains(key, sep) {
			return fmt.Errorf("schema key %q contains path delimiter %q", key, sep)
		}
		if child, ok := t.values[key].(*Tree); ok {
			if err := child.ValidateKeys(sep); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("schema: expected JSON object, got %v", tok)
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

func decodeObject(dec *json.Decoder) (*Tree, error) {
	tree := NewTree()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("schema: expected object key, got %v", keyTok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		tree.Set(key, value)
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return tree, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeObject(dec)
		default:
			return nil, fmt.Errorf("schema: unsupported JSON value %q", v)
		}
	case string, bool, float64, nil:
		return v, nil
	default:
		return nil, fmt.Errorf("schema: unsupported JSON token %v", tok)
	}
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encKey)
		buf.WriteByte(':')
		encVal, err := json.Marshal(t.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(encVal)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseTree decodes JSON bytes into an ordered tree.
func ParseTree(data []byte) (*Tree, error) {
	tree := NewTree()
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, err
	}
	return tree, nil
}
