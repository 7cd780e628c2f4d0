// File path: internal/convo/convo.go

// Package convo wraps a bounded conversation window used as chat-history
// context for extraction and follow-up prompts. Only the last N exchanges
// are kept.
package convo

import (
	"context"

	"github.com/tmc/langchaingo/memory"

	"formloop/internal/common"
)

// DefaultWindowSize bounds conversational context to the last 8 exchanges.
const DefaultWindowSize = 8

type Window struct {
	buf *memory.ConversationWindowBuffer
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{buf: memory.NewConversationWindowBuffer(size)}
}

// AddUser records a user utterance.
func (w *Window) AddUser(ctx context.Context, text string) {
	if err := w.buf.SaveContext(ctx, map[string]any{"input": text}, map[string]any{"output": ""}); err != nil {
		common.Logger().Warn("convo: failed to record user turn", "error", err)
	}
}

// AddAssistant records an assistant reply.
func (w *Window) AddAssistant(ctx context.Context, text string) {
	if err := w.buf.SaveContext(ctx, map[string]any{"input": ""}, map[string]any{"output": text}); err != nil {
		common.Logger().Warn("convo: failed to record assistant turn", "error", err)
	}
}

// History renders the windowed conversation as prompt text. Failures degrade
// to an empty history rather than blocking a turn.
func (w *Window) History(ctx context.Context) string {
	vars, err := w.buf.LoadMemoryVariables(ctx, map[string]any{})
	if err != nil {
		common.Logger().Warn("convo: failed to load history", "error", err)
		return ""
	}
	key := w.buf.MemoryKey
	if key == "" {
		key = "history"
	}
	if history, ok := vars[key].(string); ok {
		return history
	}
	return ""
}
