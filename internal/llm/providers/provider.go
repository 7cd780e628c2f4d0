// File path: internal/llm/providers/provider.go
package providers

import "context"

type Message struct {
	Role    string
	Content string
}

// Provider is the chat-completion collaborator. Implementations must treat a
// call as a single blocking step: no internal retries, failures surface as
// errors for the caller to absorb.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Name() string
}
