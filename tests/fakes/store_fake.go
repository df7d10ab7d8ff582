package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/keyrelay/pkg/secretstore"
)

// Store operations recorded by FakeSecretStore.
const (
	OpGet    = "get"
	OpSet    = "set"
	OpDelete = "delete"
	OpList   = "list"
)

// Call is one recorded store call.
type Call struct {
	Op  string
	Key string
}

func (c Call) String() string {
	if c.Key == "" {
		return c.Op
	}
	return c.Op + ":" + c.Key
}

// NotFound returns the error a store reports for a missing key.
func NotFound(store, key string) error {
	return secretstore.NotFoundError{Store: store, Key: key}
}

// FakeSecretStore is an in-memory secretstore.Store.
//
// Keys are listed in insertion order, which is deliberately not sorted, and
// are reported with an Azure-style fully-qualified identifier so callers
// exercise KeyDescriptor.Name.
type FakeSecretStore struct {
	name     string
	idPrefix string

	values map[string]string
	order  []string

	failOn      map[string]error // op:key -> error
	listErr     error
	maxPageSize int
	calls       []Call

	mu sync.Mutex
}

// NewFakeSecretStore creates an empty fake store.
func NewFakeSecretStore(name string) *FakeSecretStore {
	return &FakeSecretStore{
		name:     name,
		idPrefix: "https://fake-vault.vault.azure.net/secrets/",
		values:   make(map[string]string),
		failOn:   make(map[string]error),
	}
}

// WithValue seeds a key.
func (f *FakeSecretStore) WithValue(key, value string) *FakeSecretStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(key, value)
	return f
}

// WithError makes op on key fail with err until ClearErrors.
func (f *FakeSecretStore) WithError(op, key string, err error) *FakeSecretStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op+":"+key] = err
	return f
}

// WithListError makes every listing fail.
func (f *FakeSecretStore) WithListError(err error) *FakeSecretStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
	return f
}

// WithMaxPageSize caps the page size the fake honors, to force multi-page
// listings.
func (f *FakeSecretStore) WithMaxPageSize(n int) *FakeSecretStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxPageSize = n
	return f
}

// ClearErrors removes every injected error.
func (f *FakeSecretStore) ClearErrors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = make(map[string]error)
	f.listErr = nil
}

// Value returns the raw stored value.
func (f *FakeSecretStore) Value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the stored keys in insertion order.
func (f *FakeSecretStore) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// Calls returns the recorded calls in order.
func (f *FakeSecretStore) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times op was called.
func (f *FakeSecretStore) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (f *FakeSecretStore) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Name implements secretstore.Store.
func (f *FakeSecretStore) Name() string {
	return f.name
}

// Get implements secretstore.Store.
func (f *FakeSecretStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpGet, Key: key})

	if err := f.injected(OpGet, key); err != nil {
		return "", err
	}
	v, ok := f.values[key]
	if !ok {
		return "", secretstore.NotFoundError{Store: f.name, Key: key}
	}
	return v, nil
}

// Set implements secretstore.Store.
func (f *FakeSecretStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpSet, Key: key})

	if err := f.injected(OpSet, key); err != nil {
		return err
	}
	f.put(key, value)
	return nil
}

// Delete implements secretstore.Store.
func (f *FakeSecretStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpDelete, Key: key})

	if err := f.injected(OpDelete, key); err != nil {
		return err
	}
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListKeys implements secretstore.Store.
func (f *FakeSecretStore) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpList})

	if f.listErr != nil {
		return secretstore.ErrorPager(f.listErr)
	}
	if f.maxPageSize > 0 && (pageSize <= 0 || pageSize > f.maxPageSize) {
		pageSize = f.maxPageSize
	}
	keys := make([]secretstore.KeyDescriptor, 0, len(f.order))
	for _, k := range f.order {
		keys = append(keys, secretstore.KeyDescriptor{ID: f.idPrefix + k})
	}
	return secretstore.NewSlicePager(keys, pageSize)
}

// Validate implements secretstore.Store.
func (f *FakeSecretStore) Validate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected("validate", "")
}

func (f *FakeSecretStore) put(key, value string) {
	if _, ok := f.values[key]; !ok {
		f.order = append(f.order, key)
	}
	f.values[key] = value
}

func (f *FakeSecretStore) injected(op, key string) error {
	if err, ok := f.failOn[op+":"+key]; ok {
		return fmt.Errorf("fake %s %s: %w", op, key, err)
	}
	return nil
}

var _ secretstore.Store = (*FakeSecretStore)(nil)
