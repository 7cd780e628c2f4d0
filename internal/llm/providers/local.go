// File path: internal/llm/providers/local.go
package providers

import (
	"context"
	"errors"
)

// LocalProvider stands in when no API key is configured. Every chat call
// fails, which deterministically routes extraction to the regex+NER fallback
// and follow-up generation to the canned sentences.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	return "", errors.New("local provider has no model")
}

func (l *LocalProvider) Name() string {
	return "local"
}
