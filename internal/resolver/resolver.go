// File path: internal/resolver/resolver.go

// Package resolver reconciles one category's mandatory-field specification
// against the flattened form template, producing the canonical set of
// template paths that are required for a session.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"formloop/internal/common"
	"formloop/internal/schema"
)

// ErrNoMandatoryFields is returned when resolution produces an empty set.
// A session cannot usefully start in that state, so callers refuse to
// proceed rather than silently continuing.
var ErrNoMandatoryFields = errors.New("no mandatory fields resolved")

// LeafSuffix marks a fillable leaf path in the template, as opposed to a
// container segment with the same name.
const LeafSuffix = ".value"

// Options controls resolution behavior.
type Options struct {
	// Strict promotes unresolvable field identifiers from a logged drop to
	// a hard error. The lenient default matches the source data, where
	// identifiers routinely drift from the template.
	Strict bool
}

// Set is an ordered, immutable collection of required template paths.
type Set struct {
	paths  []string
	member map[string]struct{}
}

func newSet() *Set {
	return &Set{member: make(map[string]struct{})}
}

func (s *Set) add(path string) {
	if _, ok := s.member[path]; ok {
		return
	}
	s.member[path] = struct{}{}
	s.paths = append(s.paths, path)
}

func (s *Set) Contains(path string) bool {
	if s == nil {
		return false
	}
	_, ok := s.member[path]
	return ok
}

// Paths returns the required paths in resolution order.
func (s *Set) Paths() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.paths)
}

// Resolve walks one category's mandatory subtree against the flattened
// template. Leaf rules:
//
//   - nested object: recurse, carrying the node key as parent label;
//   - non-empty string: a field identifier, matched to the first template
//     path (template order) that contains it and ends in ".value";
//   - empty string: a section marker claiming every template path that
//     contains "parent.key" or the key itself lowercased with spaces
//     removed.
//
// Resolution is deterministic and idempotent for a fixed template/mandatory
// pair.
func Resolve(mandatory *schema.Tree, flat *schema.FlatMap, opts Options) (*Set, error) {
	if mandatory == nil {
		return nil, errors.New("mandatory specification required")
	}
	if flat == nil || flat.Len() == 0 {
		return nil, errors.New("flattened template required")
	}
	set := newSet()
	if err := walk(mandatory, "", flat, opts, set); err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, ErrNoMandatoryFields
	}
	return set, nil
}

func walk(node *schema.Tree, parentLabel string, flat *schema.FlatMap, opts Options, set *Set) error {
	logger := common.Logger()
	for _, key := range node.Keys() {
		value, _ := node.Get(key)
		switch v := value.(type) {
		case *schema.Tree:
			if err := walk(v, key, flat, opts, set); err != nil {
				return err
			}
		case string:
			if v != "" {
				path, ok := findFieldPath(v, flat)
				if !ok {
					if opts.Strict {
						return fmt.Errorf("mandatory field %q (%s) not found in template", key, v)
					}
					logger.Warn("resolver: identifier not found in template", "label", key, "identifier", v)
					continue
				}
				set.add(path)
				continue
			}
			addSectionMatches(key, parentLabel, flat, set)
		default:
			logger.Warn("resolver: ignoring non-string mandatory leaf", "label", key)
		}
	}
	return nil
}

// findFieldPath returns the first template path, in template order, that
// contains the identifier as a substring and ends in the leaf suffix.
func findFieldPath(identifier string, flat *schema.FlatMap) (string, bool) {
	for _, path := range flat.Keys() {
		if strings.Contains(path, identifier) && strings.HasSuffix(path, LeafSuffix) {
			return path, true
		}
	}
	return "", false
}

// addSectionMatches claims every template path belonging to a section
// heading. Matching is substring-based, so a heading colliding with an
// unrelated path fragment produces false positives; that looseness is part
// of the required behavior.
func addSectionMatches(key, parentLabel string, flat *schema.FlatMap, set *Set) {
	sectionPrefix := key
	if parentLabel != "" {
		sectionPrefix = parentLabel + schema.Sep + key
	}
	compact := strings.ToLower(strings.ReplaceAll(key, " ", ""))
	for _, path := range flat.Keys() {
		if strings.Contains(path, sectionPrefix) || strings.Contains(strings.ToLower(path), compact) {
			set.add(path)
		}
	}
}
