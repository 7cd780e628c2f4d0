// File path: internal/registry/memory.go
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRegistry keeps session records in process memory. Suitable for the
// CLI and for tests; anything that needs to survive a restart should use the
// SQLite backend instead.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Info
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]Info)}
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, nil
}

func (r *MemoryRegistry) Put(ctx context.Context, info Info) error {
	if info.ID == "" {
		return fmt.Errorf("registry put: empty session id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[info.ID] = info
	return nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRegistry) List(ctx context.Context) ([]Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.sessions))
	for _, info := range r.sessions {
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
