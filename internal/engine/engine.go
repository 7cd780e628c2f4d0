// File path: internal/engine/engine.go

// Package engine is the shared interview state machine. One engine instance
// serves the CLI loop, the HTTP handlers, and the Lambda handler; each
// external call advances a session by exactly one logical step and persists
// the resulting state through the injected blob store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"formloop/internal/common"
	"formloop/internal/convo"
	"formloop/internal/extract"
	"formloop/internal/llm"
	"formloop/internal/registry"
	"formloop/internal/resolver"
	"formloop/internal/schema"
	"formloop/internal/store"
	"formloop/internal/track"
)

var (
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidField     = errors.New("invalid field path")
	ErrInvalidGroup     = errors.New("invalid boolean group")
	ErrInvalidIndex     = errors.New("selection index out of range")
	ErrInvalidPhone     = errors.New("phone number must start with + and contain at least 10 digits")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionFinalized = errors.New("session already finalized")
)

// DefaultCategoryKey is the top-level key of the mandatory document under
// which the per-category requirement trees live.
const DefaultCategoryKey = "Type of Investors"

// Config carries the immutable inputs of an engine instance.
type Config struct {
	// Template is the form schema. Immutable once loaded; defines the
	// universe of addressable field paths.
	Template *schema.Tree
	// Mandatory is the full mandatory-fields document; categories live
	// under CategoryKey.
	Mandatory *schema.Tree
	// CategoryKey defaults to DefaultCategoryKey.
	CategoryKey string
	// BooleanGroups overrides the stock group-fragment list.
	BooleanGroups []string
	// WindowSize bounds the conversation history window.
	WindowSize int
	// Strict makes unresolvable mandatory identifiers an error instead of
	// a silent drop.
	Strict bool
}

// Engine binds the template, the category requirement trees, the extractor
// chain, and the persistence backends.
type Engine struct {
	template   *schema.Tree
	categories *schema.Tree
	classifier track.Classifier
	windowSize int
	strict     bool

	provider llm.Provider
	fallback *extract.Fallback
	blobs    store.Blob
	registry registry.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New validates the configuration and constructs an engine. The mandatory
// document must carry the category key; a template without leaves or a
// missing category subtree is a configuration error.
func New(cfg Config, provider llm.Provider, blobs store.Blob, reg registry.Registry) (*Engine, error) {
	if cfg.Template == nil || cfg.Template.Len() == 0 {
		return nil, errors.New("engine: form template required")
	}
	if cfg.Mandatory == nil {
		return nil, errors.New("engine: mandatory document required")
	}
	if err := cfg.Template.ValidateKeys(schema.Sep); err != nil {
		return nil, fmt.Errorf("engine: template: %w", err)
	}
	key := cfg.CategoryKey
	if key == "" {
		key = DefaultCategoryKey
	}
	categories := cfg.Mandatory.Child(key)
	if categories == nil || categories.Len() == 0 {
		return nil, fmt.Errorf("engine: mandatory document has no %q section", key)
	}
	groups := cfg.BooleanGroups
	if len(groups) == 0 {
		groups = track.DefaultBooleanGroups()
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = convo.DefaultWindowSize
	}
	if provider == nil {
		provider = llm.NewProvider()
	}
	if reg == nil {
		reg = registry.NewMemoryRegistry()
	}
	return &Engine{
		template:   cfg.Template,
		categories: categories,
		classifier: track.Classifier{Groups: groups},
		windowSize: window,
		strict:     cfg.Strict,
		provider:   provider,
		fallback:   extract.NewFallback(),
		blobs:      blobs,
		registry:   reg,
		logger:     common.Logger(),
		sessions:   make(map[string]*Session),
	}, nil
}

// Categories lists the available category names in document order.
func (e *Engine) Categories() []string {
	return e.categories.Keys()
}

// HasCategory reports whether the mandatory document defines the category.
func (e *Engine) HasCategory(name string) bool {
	_, ok := e.categories.Get(name)
	return ok
}

func (e *Engine) newWindow() *convo.Window {
	return convo.NewWindow(e.windowSize)
}

func (e *Engine) newSessionID() string {
	return "session_" + time.Now().UTC().Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// session returns the in-memory session for id, rehydrating it from the blob
// store when the process holding it has since gone away (the stateless
// request mode).
func (e *Engine) session(ctx context.Context, id string) (*Session, error) {
	e.mu.Lock()
	if s, ok := e.sessions[id]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	s, err := e.rehydrate(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.sessions[id]; ok {
		return existing, nil
	}
	e.sessions[id] = s
	return s, nil
}

// rehydrate rebuilds a session from its persisted artifacts. The required
// set is re-resolved from the mandatory document (the resolver is
// deterministic for a fixed pair), the fill state comes from live_fill.json,
// the event log from log.json. The conversation window does not survive a
// rehydrate; history restarts empty.
func (e *Engine) rehydrate(ctx context.Context, id string) (*Session, error) {
	info, err := e.registry.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load session record: %w", err)
	}

	liveRaw, err := e.blobs.Get(ctx, liveFillKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load fill state: %w", err)
	}
	liveTree, err := schema.ParseTree(liveRaw)
	if err != nil {
		return nil, fmt.Errorf("engine: parse fill state: %w", err)
	}
	state := schema.Flatten(liveTree, schema.Sep)

	var events []Event
	if logRaw, err := e.blobs.Get(ctx, eventLogKey(id)); err == nil {
		if err := json.Unmarshal(logRaw, &events); err != nil {
			return nil, fmt.Errorf("engine: parse event log: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("engine: load event log: %w", err)
	}

	required, err := e.resolveRequired(info.Category)
	if err != nil {
		return nil, err
	}

	e.logger.Info("engine: session rehydrated",
		"session", id, "category", info.Category, "phase", info.Phase)
	return &Session{
		ID:        id,
		Category:  info.Category,
		CreatedAt: info.CreatedAt,
		phase:     Phase(info.Phase),
		state:     state,
		required:  required,
		events:    events,
		window:    convo.NewWindow(e.windowSize),
	}, nil
}

func (e *Engine) resolveRequired(category string) (*resolver.Set, error) {
	sub := e.categories.Child(category)
	if sub == nil {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrInvalidCategory, category, e.Categories())
	}
	flat := schema.Flatten(e.template, schema.Sep)
	required, err := resolver.Resolve(sub, flat, resolver.Options{Strict: e.strict})
	if err != nil {
		return nil, err
	}
	return required, nil
}

// Delete evicts a session from memory, the registry, and the blob store.
// Deleting an unknown id is not an error.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()

	if err := e.registry.Delete(ctx, id); err != nil {
		return fmt.Errorf("engine: delete session record: %w", err)
	}
	for _, key := range []string{liveFillKey(id), eventLogKey(id)} {
		if err := e.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("engine: delete artifact %s: %w", key, err)
		}
	}
	e.logger.Info("engine: session deleted", "session", id)
	return nil
}

// Sessions lists the registered sessions.
func (e *Engine) Sessions(ctx context.Context) ([]registry.Info, error) {
	return e.registry.List(ctx)
}
