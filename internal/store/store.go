// File path: internal/store/store.go

// Package store abstracts persistence of session artifacts as a key/value
// blob store, so the engine works identically over a local directory or an
// object store.
package store

import (
	"context"
	"errors"
)

// ErrNotFound reports a missing blob key.
var ErrNotFound = errors.New("blob not found")

// Blob is the persistence collaborator. Keys are slash-separated relative
// paths ("sessions/<id>/live_fill.json"). Put must replace the whole value;
// partial writes must never be observable.
type Blob interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
