// File path: internal/registry/blob.go
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"formloop/internal/store"
)

const blobIndexKey = "registry/sessions.json"

// BlobRegistry keeps the session index as a single document in a blob store.
// It lets a serverless deployment run with no database at all: the same S3
// bucket that holds the session artifacts also holds the index. Writes are
// whole-document replacements, so it assumes the host serializes calls per
// session the way the engine already requires.
type BlobRegistry struct {
	blobs store.Blob
}

func NewBlobRegistry(blobs store.Blob) (*BlobRegistry, error) {
	if blobs == nil {
		return nil, errors.New("blob store required")
	}
	return &BlobRegistry{blobs: blobs}, nil
}

func (r *BlobRegistry) load(ctx context.Context) (map[string]Info, error) {
	raw, err := r.blobs.Get(ctx, blobIndexKey)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session index: %w", err)
	}
	index := make(map[string]Info)
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("parse session index: %w", err)
	}
	return index, nil
}

func (r *BlobRegistry) save(ctx context.Context, index map[string]Info) error {
	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := r.blobs.Put(ctx, blobIndexKey, raw); err != nil {
		return fmt.Errorf("save session index: %w", err)
	}
	return nil
}

func (r *BlobRegistry) Get(ctx context.Context, id string) (Info, error) {
	index, err := r.load(ctx)
	if err != nil {
		return Info{}, err
	}
	info, ok := index[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, nil
}

func (r *BlobRegistry) Put(ctx context.Context, info Info) error {
	if info.ID == "" {
		return errors.New("registry put: empty session id")
	}
	index, err := r.load(ctx)
	if err != nil {
		return err
	}
	index[info.ID] = info
	return r.save(ctx, index)
}

func (r *BlobRegistry) Delete(ctx context.Context, id string) error {
	index, err := r.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := index[id]; !ok {
		return nil
	}
	delete(index, id)
	return r.save(ctx, index)
}

func (r *BlobRegistry) List(ctx context.Context) ([]Info, error) {
	index, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(index))
	for _, info := range index {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
