package memory

import (
	"context"
	"sync"

	"kingdoms-launcher/internal/repository"
)

// StateRepository is a map-backed StateRepository used by tests and by
// ephemeral runs that do not want an on-disk database.
type StateRepository struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewStateRepository() *StateRepository {
	return &StateRepository{values: make(map[string][]byte)}
}

func (r *StateRepository) Init(ctx context.Context) error { return nil }

func (r *StateRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (r *StateRepository) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	r.values[key] = stored
	return nil
}

func (r *StateRepository) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

var _ repository.StateRepository = (*StateRepository)(nil)
