package providers

import (
	"context"
	"sort"
	"sync"

	"github.com/systmms/keyrelay/pkg/secretstore"
)

// MemoryStore is a process-local store for demos and tests.
type MemoryStore struct {
	name   string
	values map[string]string
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty store. Initial values may be supplied
// under the "values" config key.
func NewMemoryStore(name string, configMap map[string]interface{}) *MemoryStore {
	s := &MemoryStore{name: name, values: make(map[string]string)}
	if seed, ok := configMap["values"].(map[string]interface{}); ok {
		for k, v := range seed {
			if str, ok := v.(string); ok {
				s.values[k] = str
			}
		}
	}
	return s
}

// Name returns the store name
func (s *MemoryStore) Name() string {
	return s.name
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", secretstore.NotFoundError{Store: s.name, Key: key}
	}
	return v, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// ListKeys returns the keys in name order.
func (s *MemoryStore) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	s.mu.RLock()
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	keys := make([]secretstore.KeyDescriptor, len(names))
	for i, n := range names {
		keys[i] = secretstore.KeyDescriptor{ID: "memory/" + n}
	}
	return secretstore.NewSlicePager(keys, pageSize)
}

// Validate always succeeds.
func (s *MemoryStore) Validate(ctx context.Context) error {
	return nil
}

var _ secretstore.Store = (*MemoryStore)(nil)
