// File path: internal/schema/merge.go
package schema

import "sort"

// DeepUpdate merges extraction results into the live fill state. Updates may
// be flat (path -> value) or nested (key -> object); nested objects are
// walked and applied per leaf under the accumulated path prefix. Leaf writes
// are last-write-wins with no conflict detection, and a non-empty existing
// value is overwritten outright. Paths that do not exist in the fill state
// are discarded so the state never grows keys outside the template.
//
// It returns the leaf writes that were actually applied.
func DeepUpdate(state *FlatMap, updates map[string]interface{}, sep string) map[string]interface{} {
	applied := make(map[string]interface{})
	deepUpdate(state, "", updates, sep, applied)
	return applied
}

func deepUpdate(state *FlatMap, prefix string, updates map[string]interface{}, sep string, applied map[string]interface{}) {
	// Map iteration order is randomized; sort for a deterministic merge.
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + sep + k
		}
		switch v := updates[k].(type) {
		case map[string]interface{}:
			deepUpdate(state, path, v, sep, applied)
		default:
			if !state.Has(path) {
				continue
			}
			state.Set(path, v)
			applied[path] = v
		}
	}
}
