// File path: internal/engine/session.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"formloop/internal/convo"
	"formloop/internal/registry"
	"formloop/internal/resolver"
	"formloop/internal/schema"
	"formloop/internal/track"
)

// Phase names the interview state machine's states. Conversing and the two
// structured-fill phases may be re-entered; Finalized is terminal.
type Phase string

const (
	PhaseConversing  Phase = "conversing"
	PhaseTextFill    Phase = "text_fill"
	PhaseBooleanFill Phase = "boolean_fill"
	PhaseFinalized   Phase = "finalized"
)

// Event is one append-only log record. Each record is a small tagged object,
// for example {"extraction_method": "llm", "result": {...}} or
// {"boolean_selection": {path: true}}.
type Event map[string]interface{}

// Session binds one fill state, one required-path set, the event log, and
// the bounded conversation window. The mutex gives each session a single
// logical thread of control even when the host does not serialize calls
// per session id.
type Session struct {
	ID        string
	Category  string
	CreatedAt time.Time

	mu       sync.Mutex
	phase    Phase
	state    *schema.FlatMap
	required *resolver.Set
	events   []Event
	window   *convo.Window
}

func liveFillKey(id string) string { return "sessions/" + id + "/live_fill.json" }
func eventLogKey(id string) string { return "sessions/" + id + "/log.json" }

// persist writes the nested fill state and the event log. Both writes are
// whole-value replacements; the filesystem backend makes them atomic.
func (e *Engine) persist(ctx context.Context, s *Session) error {
	nested, err := json.MarshalIndent(schema.Unflatten(s.state, schema.Sep), "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal fill state: %w", err)
	}
	if err := e.blobs.Put(ctx, liveFillKey(s.ID), nested); err != nil {
		return fmt.Errorf("engine: persist fill state: %w", err)
	}
	events := s.events
	if events == nil {
		events = []Event{}
	}
	logRaw, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal event log: %w", err)
	}
	if err := e.blobs.Put(ctx, eventLogKey(s.ID), logRaw); err != nil {
		return fmt.Errorf("engine: persist event log: %w", err)
	}
	return e.registry.Put(ctx, registry.Info{
		ID:        s.ID,
		Category:  s.Category,
		Phase:     string(s.phase),
		CreatedAt: s.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	})
}

// TextField is one missing free-text field with its display label.
type TextField struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// BooleanOption is one member of a boolean group, presented 1-based.
type BooleanOption struct {
	Index       int    `json:"index"`
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// MissingFields is the presentation view of the missing mandatory paths.
type MissingFields struct {
	TextFields    []TextField                `json:"text_fields"`
	BooleanGroups map[string][]BooleanOption `json:"boolean_groups"`
}

func formatTextFields(paths []string) []TextField {
	out := make([]TextField, 0, len(paths))
	for _, path := range paths {
		out = append(out, TextField{Key: path, DisplayName: track.FieldLabel(path)})
	}
	return out
}

func formatBooleanGroups(groups []track.BooleanGroup) map[string][]BooleanOption {
	out := make(map[string][]BooleanOption, len(groups))
	for _, group := range groups {
		options := make([]BooleanOption, 0, len(group.Fields))
		for i, path := range group.Fields {
			options = append(options, BooleanOption{
				Index:       i + 1,
				Key:         path,
				DisplayName: track.OptionLabel(path, group.Name),
			})
		}
		out[group.Name] = options
	}
	return out
}

// missingView computes the missing mandatory paths and their presentation
// view. textLimit > 0 truncates the text-field list (the conversational
// surface shows only the first few). Boolean groups are re-expanded to all of
// their members so the presented indices address the same member list
// FillBoolean resolves selections against.
func (e *Engine) missingView(s *Session, textLimit int) ([]string, MissingFields) {
	missing := track.Missing(s.state, s.required)
	text, groups := e.classifier.Classify(missing)
	for i := range groups {
		groups[i].Fields = track.GroupMembers(s.state, groups[i].Name)
	}
	if textLimit > 0 && len(text) > textLimit {
		text = text[:textLimit]
	}
	return missing, MissingFields{
		TextFields:    formatTextFields(text),
		BooleanGroups: formatBooleanGroups(groups),
	}
}

func (e *Engine) progress(s *Session) track.Progress {
	return track.ComputeProgress(s.state, s.required)
}
