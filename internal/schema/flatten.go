// File path: internal/schema/flatten.go
package schema

import "strings"

// Sep is the path delimiter joining ancestor keys into a field path.
const Sep = "."

// FlatMap is the flattened view of a tree: one entry per leaf, keyed by the
// dot-joined ancestor path, in template order. It doubles as the live fill
// state, so mutation never introduces keys that were not flattened out of the
// template.
type FlatMap struct {
	keys   []string
	values map[string]interface{}
}

func NewFlatMap() *FlatMap {
	return &FlatMap{values: make(map[string]interface{})}
}

func (f *FlatMap) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Keys returns the paths in template order.
func (f *FlatMap) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f *FlatMap) Get(path string) (interface{}, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.values[path]
	return v, ok
}

func (f *FlatMap) Has(path string) bool {
	_, ok := f.Get(path)
	return ok
}

// Set assigns a value, appending the path to the order when it is new.
func (f *FlatMap) Set(path string, value interface{}) {
	if f.values == nil {
		f.values = make(map[string]interface{})
	}
	if _, exists := f.values[path]; !exists {
		f.keys = append(f.keys, path)
	}
	f.values[path] = value
}

func (f *FlatMap) Clone() *FlatMap {
	if f == nil {
		return nil
	}
	out := &FlatMap{
		keys:   make([]string, len(f.keys)),
		values: make(map[string]interface{}, len(f.values)),
	}
	copy(out.keys, f.keys)
	for k, v := range f.values {
		out.values[k] = v
	}
	return out
}

// Flatten produces one entry per leaf of the tree, key = join of ancestor
// keys with sep, preserving the tree's key order.
func Flatten(t *Tree, sep string) *FlatMap {
	flat := NewFlatMap()
	flattenInto(t, "", sep, flat)
	return flat
}

func flattenInto(t *Tree, prefix, sep string, flat *FlatMap) {
	if t == nil {
		return
	}
	for _, key := range t.keys {
		path := key
		if prefix != "" {
			path = prefix + sep + key
		}
		if child, ok := t.values[key].(*Tree); ok {
			flattenInto(child, path, sep, flat)
			continue
		}
		flat.Set(path, t.values[key])
	}
}

// Unflatten is the exact inverse of Flatten for trees without empty
// intermediate objects. Only keys are split on sep; a leaf value containing
// the delimiter character stays intact.
func Unflatten(f *FlatMap, sep string) *Tree {
	root := NewTree()
	for _, path := range f.keys {
		segments := strings.Split(path, sep)
		node := root
		for _, segment := range segments[:len(segments)-1] {
			child := node.Child(segment)
			if child == nil {
				child = NewTree()
				node.Set(segment, child)
			}
			node = child
		}
		node.Set(segments[len(segments)-1], f.values[path])
	}
	return root
}
