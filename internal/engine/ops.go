// File path: internal/engine/ops.go
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"formloop/internal/extract"
	"formloop/internal/registry"
	"formloop/internal/resolver"
	"formloop/internal/schema"
	"formloop/internal/track"
)

// chatTextLimit bounds the text-field list returned by the conversational
// operations; the full list stays available through Missing.
const chatTextLimit = 10

// InitResult is the response of a session creation.
type InitResult struct {
	SessionID string         `json:"session_id"`
	Category  string         `json:"investor_type"`
	Progress  track.Progress `json:"progress"`
	Missing   MissingFields  `json:"missing_fields"`
}

// Init creates a session for the chosen category: a fresh fill state cloned
// from the template, the resolved required-path set, and the opening event
// record. An empty required set refuses the session.
func (e *Engine) Init(ctx context.Context, category string) (*InitResult, error) {
	if !e.HasCategory(category) {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrInvalidCategory, category, e.Categories())
	}
	required, err := e.resolveRequired(category)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        e.newSessionID(),
		Category:  category,
		CreatedAt: time.Now().UTC(),
		phase:     PhaseConversing,
		state:     schema.Flatten(e.template, schema.Sep),
		required:  required,
		events:    []Event{{"investor_type": category}},
		window:    e.newWindow(),
	}
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()

	e.logger.Info("engine: session created",
		"session", s.ID, "category", category, "required", required.Len())

	_, missing := e.missingView(s, chatTextLimit)
	return &InitResult{
		SessionID: s.ID,
		Category:  category,
		Progress:  e.progress(s),
		Missing:   missing,
	}, nil
}

// ChatResult is the response of one conversational turn.
type ChatResult struct {
	SessionID string                 `json:"session_id"`
	Extracted map[string]interface{} `json:"extracted_fields"`
	Followup  string                 `json:"followup_message"`
	Progress  track.Progress         `json:"progress"`
	Missing   MissingFields          `json:"missing_fields"`
}

// Chat runs one extraction turn: LLM first, fallback on any failure or empty
// result, phone validation, merge, follow-up generation. Extractor failures
// never surface to the caller.
func (e *Engine) Chat(ctx context.Context, id, userText string) (*ChatResult, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinalized {
		return nil, fmt.Errorf("%w: %s", ErrSessionFinalized, id)
	}

	s.window.AddUser(ctx, userText)
	history := s.window.History(ctx)

	extracted, err := extract.LLMExtract(ctx, e.provider, userText, history, s.state)
	method := "llm"
	if err != nil || len(extracted) == 0 {
		if err != nil {
			e.logger.Warn("engine: llm extraction failed, using fallback",
				"session", id, "error", err)
		}
		extracted = e.fallback.Extract(userText, s.state.Keys())
		method = "fallback"
	}
	s.events = append(s.events, Event{"extraction_method": method, "result": extracted})

	extracted = e.validateExtracted(s, extracted)
	if len(extracted) > 0 {
		schema.DeepUpdate(s.state, extracted, schema.Sep)
	}

	missingCount := len(track.Missing(s.state, s.required))
	followup := extract.Followup(ctx, e.provider, sortedKeys(extracted), missingCount, history)
	s.window.AddAssistant(ctx, followup)

	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}

	_, missing := e.missingView(s, chatTextLimit)
	return &ChatResult{
		SessionID: id,
		Extracted: extracted,
		Followup:  followup,
		Progress:  e.progress(s),
		Missing:   missing,
	}, nil
}

// validateExtracted drops phone-like fields whose values fail the format
// check, recording each rejection as a validation event.
func (e *Engine) validateExtracted(s *Session, extracted map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(extracted))
	for key, value := range extracted {
		text, isString := value.(string)
		if isString && extract.IsPhonePath(key) && !extract.ValidPhone(text) {
			s.events = append(s.events, Event{
				"validation_error": "phone must start with + and contain at least 10 digits",
				"field":            key,
			})
			e.logger.Warn("engine: phone validation rejected value", "session", s.ID, "field", key)
			continue
		}
		out[key] = value
	}
	return out
}

// FillResult is the response of a single-field fill.
type FillResult struct {
	SessionID string         `json:"session_id"`
	Field     string         `json:"field_updated"`
	Value     interface{}    `json:"value"`
	Progress  track.Progress `json:"progress"`
	Missing   MissingFields  `json:"missing_fields"`
}

// FillText sets one field directly. The path must exist in the fill state;
// foreign paths are rejected with no state change.
func (e *Engine) FillText(ctx context.Context, id, path string, value interface{}) (*FillResult, error) {
	return e.fill(ctx, id, path, value, "manual_fill", false)
}

// FillSequential sets one field from the structured text sub-flow. Phone
// fields are validated in place so the caller can re-prompt instead of
// silently dropping the value.
func (e *Engine) FillSequential(ctx context.Context, id, path string, value interface{}) (*FillResult, error) {
	return e.fill(ctx, id, path, value, "sequential_fill", true)
}

func (e *Engine) fill(ctx context.Context, id, path string, value interface{}, eventTag string, validatePhone bool) (*FillResult, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinalized {
		return nil, fmt.Errorf("%w: %s", ErrSessionFinalized, id)
	}
	if !s.state.Has(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, path)
	}
	if validatePhone {
		if text, ok := value.(string); ok && extract.IsPhonePath(path) && !extract.ValidPhone(text) {
			s.events = append(s.events, Event{
				"validation_error": "phone must start with + and contain at least 10 digits",
				"field":            path,
			})
			if err := e.persist(ctx, s); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %q", ErrInvalidPhone, path)
		}
	}

	s.state.Set(path, value)
	s.events = append(s.events, Event{eventTag: map[string]interface{}{path: value}})
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}

	_, missing := e.missingView(s, chatTextLimit)
	return &FillResult{
		SessionID: id,
		Field:     path,
		Value:     value,
		Progress:  e.progress(s),
		Missing:   missing,
	}, nil
}

// FillMailingFromRegistered copies every still-missing mailing-address field
// from its registered-address counterpart when that counterpart is
// non-empty. Returns the copied paths.
func (e *Engine) FillMailingFromRegistered(ctx context.Context, id string) ([]string, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinalized {
		return nil, fmt.Errorf("%w: %s", ErrSessionFinalized, id)
	}

	var copied []string
	for _, path := range track.Missing(s.state, s.required) {
		if !strings.Contains(strings.ToLower(path), "mailing") {
			continue
		}
		counterpart := strings.ReplaceAll(path, "mailing", "registered")
		counterpart = strings.ReplaceAll(counterpart, "Mailing", "Registered")
		value, ok := s.state.Get(counterpart)
		if !ok || track.Empty(value) {
			continue
		}
		s.state.Set(path, value)
		s.events = append(s.events, Event{"sequential_fill": map[string]interface{}{path: value}})
		copied = append(copied, path)
	}
	if len(copied) > 0 {
		if err := e.persist(ctx, s); err != nil {
			return nil, err
		}
	}
	return copied, nil
}

// BooleanFillResult is the response of a grouped-boolean fill.
type BooleanFillResult struct {
	SessionID     string         `json:"session_id"`
	Group         string         `json:"group_updated"`
	SelectedCount int            `json:"selected_count"`
	Progress      track.Progress `json:"progress"`
	Missing       MissingFields  `json:"missing_fields"`
}

// FillBoolean records one boolean group selection. The group is re-expanded
// to all of its members regardless of prior fill state; selected 1-based
// indices become true, every other member false. The whole group is always
// overwritten.
func (e *Engine) FillBoolean(ctx context.Context, id, group string, indices []int) (*BooleanFillResult, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinalized {
		return nil, fmt.Errorf("%w: %s", ErrSessionFinalized, id)
	}

	known := false
	for _, name := range e.classifier.Groups {
		if strings.EqualFold(name, group) {
			known = true
			break
		}
	}
	members := track.GroupMembers(s.state, group)
	if !known || len(members) == 0 {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrInvalidGroup, group, e.classifier.Groups)
	}
	for _, idx := range indices {
		if idx < 1 || idx > len(members) {
			return nil, fmt.Errorf("%w: %d (must be between 1 and %d)", ErrInvalidIndex, idx, len(members))
		}
	}
	selected := make(map[int]bool, len(indices))
	for _, idx := range indices {
		selected[idx] = true
	}
	for i, path := range members {
		value := selected[i+1]
		s.state.Set(path, value)
		s.events = append(s.events, Event{"boolean_selection": map[string]interface{}{path: value}})
	}
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}

	_, missingView := e.missingView(s, chatTextLimit)
	return &BooleanFillResult{
		SessionID:     id,
		Group:         group,
		SelectedCount: len(indices),
		Progress:      e.progress(s),
		Missing:       missingView,
	}, nil
}

// GroupOptions returns the full option list of a boolean group, covering all
// members regardless of fill state.
func (e *Engine) GroupOptions(ctx context.Context, id, group string) ([]BooleanOption, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members := track.GroupMembers(s.state, group)
	options := make([]BooleanOption, 0, len(members))
	for i, path := range members {
		options = append(options, BooleanOption{
			Index:       i + 1,
			Key:         path,
			DisplayName: track.OptionLabel(path, group),
		})
	}
	return options, nil
}

// StatusResult is the idempotent progress snapshot.
type StatusResult struct {
	SessionID string         `json:"session_id"`
	Category  string         `json:"investor_type"`
	Phase     Phase          `json:"phase"`
	CreatedAt time.Time      `json:"created_at"`
	Progress  track.Progress `json:"progress"`
}

// Status reports progress without mutating anything.
func (e *Engine) Status(ctx context.Context, id string) (*StatusResult, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &StatusResult{
		SessionID: id,
		Category:  s.Category,
		Phase:     s.phase,
		CreatedAt: s.CreatedAt,
		Progress:  e.progress(s),
	}, nil
}

// MissingResult is the full missing-field listing, untruncated.
type MissingResult struct {
	SessionID    string        `json:"session_id"`
	MissingCount int           `json:"missing_count"`
	Missing      MissingFields `json:"missing_fields"`
}

// Missing lists every missing mandatory field, classified into text fields
// and boolean groups.
func (e *Engine) Missing(ctx context.Context, id string) (*MissingResult, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	missingPaths, missing := e.missingView(s, 0)
	return &MissingResult{
		SessionID:    id,
		MissingCount: len(missingPaths),
		Missing:      missing,
	}, nil
}

// MissingPaths returns the raw missing mandatory paths in required-set
// order, for hosts that drive the structured sub-flows themselves.
func (e *Engine) MissingPaths(ctx context.Context, id string) ([]string, []track.BooleanGroup, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	missing := track.Missing(s.state, s.required)
	text, groups := e.classifier.Classify(missing)
	return text, groups, nil
}

// RemainingOptional returns the empty non-required paths in template order.
func (e *Engine) RemainingOptional(ctx context.Context, id string) ([]string, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return track.RemainingOptional(s.state, s.required), nil
}

// FieldValue reads one current fill-state value.
func (e *Engine) FieldValue(ctx context.Context, id, path string) (interface{}, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.state.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, path)
	}
	return value, nil
}

// RecordWarning appends a warning event to the session log.
func (e *Engine) RecordWarning(ctx context.Context, id, warning, field string) error {
	s, err := e.session(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{"warning": warning, "field": field})
	return e.persist(ctx, s)
}

// SetPhase moves the session into the given interview phase. Finalized is
// terminal; leaving it is rejected.
func (e *Engine) SetPhase(ctx context.Context, id string, phase Phase) error {
	s, err := e.session(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinalized && phase != PhaseFinalized {
		return fmt.Errorf("%w: %s", ErrSessionFinalized, id)
	}
	s.phase = phase
	return e.registry.Put(ctx, registry.Info{
		ID:        s.ID,
		Category:  s.Category,
		Phase:     string(s.phase),
		CreatedAt: s.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	})
}

// CompleteResult carries the finalized artifact.
type CompleteResult struct {
	SessionID string         `json:"session_id"`
	Category  string         `json:"investor_type"`
	Progress  track.Progress `json:"progress"`
	FormData  *schema.Tree   `json:"form_data"`
	Events    []Event        `json:"event_log"`
}

// Complete finalizes the session and returns the nested form artifact with
// the full event log. Completing an already finalized session is idempotent.
func (e *Engine) Complete(ctx context.Context, id string) (*CompleteResult, error) {
	s, err := e.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseFinalized {
		s.phase = PhaseFinalized
		if err := e.persist(ctx, s); err != nil {
			return nil, err
		}
		e.logger.Info("engine: session finalized", "session", id)
	}

	return &CompleteResult{
		SessionID: id,
		Category:  s.Category,
		Progress:  e.progress(s),
		FormData:  schema.Unflatten(s.state, schema.Sep),
		Events:    append([]Event(nil), s.events...),
	}, nil
}

// Resolver sentinel re-exported for hosts that branch on the empty-set
// refusal at session creation.
var ErrNoMandatoryFields = resolver.ErrNoMandatoryFields

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
