// Package cache holds process-local copies of store-backed values.
package cache

import "sync"

// Slot is a single cache entry that is either empty or holds one value.
// It has no TTL and no knowledge of where the value came from; owners fill
// it on first use and replace it after every mutation.
type Slot[T any] struct {
	mu     sync.RWMutex
	value  T
	filled bool
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{}
}

// Get returns the cached value and whether the slot has been populated.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.filled
}

// Set replaces the cached value.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.filled = true
}

// Clear empties the slot so the next owner access repopulates it.
func (s *Slot[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.value = zero
	s.filled = false
}
