// File path: internal/track/track.go

// Package track computes interview completion: which required paths are
// still empty, how missing paths split into free-text fields versus grouped
// boolean selections, and overall progress numbers.
package track

import (
	"math"
	"strings"

	"formloop/internal/resolver"
	"formloop/internal/schema"
)

// DefaultBooleanGroups is the stock enumeration of boolean-group name
// fragments. Membership is decided by case-insensitive substring match
// against field paths, so the list is configuration, not inference.
func DefaultBooleanGroups() []string {
	return []string{"Form PF (Investor Type)", "Type of Subscriber", "Share Class"}
}

// Empty reports whether a fill-state value counts as unfilled. Only the
// empty-string and nil sentinels are missing; a boolean false records "user
// declined", not "not yet asked".
func Empty(value interface{}) bool {
	return value == nil || value == ""
}

// Missing returns the required paths whose fill-state values are empty, in
// required-set order.
func Missing(state *schema.FlatMap, required *resolver.Set) []string {
	var missing []string
	for _, path := range required.Paths() {
		v, _ := state.Get(path)
		if Empty(v) {
			missing = append(missing, path)
		}
	}
	return missing
}

// RemainingOptional returns the non-required paths that are still empty, in
// template order. A whitespace-only string counts as unfilled here; the
// mandatory-missing check keeps the stricter empty-string sentinel.
func RemainingOptional(state *schema.FlatMap, required *resolver.Set) []string {
	var optional []string
	for _, path := range state.Keys() {
		if required.Contains(path) {
			continue
		}
		v, _ := state.Get(path)
		if Empty(v) || blankString(v) {
			optional = append(optional, path)
		}
	}
	return optional
}

func blankString(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// BooleanGroup is one named multi-select cluster and its member paths.
type BooleanGroup struct {
	Name   string
	Fields []string
}

// Classifier partitions missing paths into text fields and boolean groups.
type Classifier struct {
	Groups []string
}

// Classify checks each path against the configured group fragments; the
// first matching fragment claims the path, everything else is a free-text
// field. Group order follows first appearance in the input.
func (c Classifier) Classify(paths []string) ([]string, []BooleanGroup) {
	var text []string
	var groups []BooleanGroup
	index := make(map[string]int)
	for _, path := range paths {
		lower := strings.ToLower(path)
		claimed := false
		for _, group := range c.Groups {
			if strings.Contains(lower, strings.ToLower(group)) {
				i, ok := index[group]
				if !ok {
					i = len(groups)
					index[group] = i
					groups = append(groups, BooleanGroup{Name: group})
				}
				groups[i].Fields = append(groups[i].Fields, path)
				claimed = true
				break
			}
		}
		if !claimed {
			text = append(text, path)
		}
	}
	return text, groups
}

// GroupMembers returns every path in the session's field universe whose text
// contains the group name, regardless of current fill values. Re-presenting
// a group must always show all of its options.
func GroupMembers(state *schema.FlatMap, group string) []string {
	needle := strings.ToLower(group)
	var members []string
	for _, path := range state.Keys() {
		if strings.Contains(strings.ToLower(path), needle) {
			members = append(members, path)
		}
	}
	return members
}

// MandatoryProgress summarizes required-field completion.
type MandatoryProgress struct {
	Total      int     `json:"total"`
	Filled     int     `json:"filled"`
	Missing    int     `json:"missing"`
	Percentage float64 `json:"percentage"`
}

// OptionalProgress summarizes the non-required remainder of the template.
type OptionalProgress struct {
	Total     int `json:"total"`
	Filled    int `json:"filled"`
	Remaining int `json:"remaining"`
}

// Progress is the deterministic completion snapshot reported after every
// step.
type Progress struct {
	Mandatory          MandatoryProgress `json:"mandatory_fields"`
	Optional           OptionalProgress  `json:"optional_fields"`
	AllMandatoryFilled bool              `json:"all_mandatory_filled"`
}

// ComputeProgress derives the progress snapshot from the fill state and
// required set. Zero required fields reports 100%.
func ComputeProgress(state *schema.FlatMap, required *resolver.Set) Progress {
	missing := len(Missing(state, required))
	remaining := len(RemainingOptional(state, required))
	total := required.Len()
	filled := total - missing
	pct := 100.0
	if total > 0 {
		pct = math.Round(float64(filled)/float64(total)*100*100) / 100
	}
	optTotal := state.Len() - total
	return Progress{
		Mandatory: MandatoryProgress{
			Total:      total,
			Filled:     filled,
			Missing:    missing,
			Percentage: pct,
		},
		Optional: OptionalProgress{
			Total:     optTotal,
			Filled:    optTotal - remaining,
			Remaining: remaining,
		},
		AllMandatoryFilled: missing == 0,
	}
}
