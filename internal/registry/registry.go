// File path: internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id has no registry entry.
var ErrNotFound = errors.New("session not found")

// Info is the durable index record for a session. The heavyweight state
// (fill state, event log, conversation) lives in the blob store; the registry
// only answers "which sessions exist and where are they".
type Info struct {
	ID        string    `json:"id" db:"id"`
	Category  string    `json:"category" db:"category"`
	Phase     string    `json:"phase" db:"phase"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Registry indexes live sessions.
type Registry interface {
	Get(ctx context.Context, id string) (Info, error)
	Put(ctx context.Context, info Info) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Info, error)
}
