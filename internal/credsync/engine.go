// Package credsync keeps a sorted, lazily loaded view of the credentials held
// in a secret store and applies mutations to both the view and the store.
//
// The store is the source of truth. A cold List reads every key name and
// builds summary records (id and name only); Read fetches and caches the
// payload of a single record on demand. Ids are assigned by the engine, are
// only valid until the cache is rebuilt, and must not be persisted.
//
// Every operation runs under one mutex, so a read-modify-write against the
// cache and the store is atomic with respect to other operations on the
// same Engine. Operations return copies; callers never hold cache-owned
// records.
package credsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/systmms/keyrelay/internal/cache"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/internal/metrics"
	"github.com/systmms/keyrelay/pkg/credential"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// Engine synchronizes credential records with a secret store.
type Engine struct {
	store    secretstore.Store
	cache    *cache.Slot[[]credential.Credential]
	prefix   string
	pageSize int
	logger   *logging.Logger

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache injects the cache slot, for sharing it with other owners or
// inspecting it in tests.
func WithCache(c *cache.Slot[[]credential.Credential]) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithConfigPrefix sets the key prefix reserved for configuration entries.
// Keys with this prefix are never listed as credentials.
func WithConfigPrefix(prefix string) Option {
	return func(e *Engine) {
		e.prefix = prefix
	}
}

// WithPageSize sets the page size used when listing store keys.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine over store.
func New(store secretstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		pageSize: secretstore.DefaultPageSize,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.NewSlot[[]credential.Credential]()
	}
	return e
}

// List returns every credential sorted by name. Records that have not been
// read yet are summaries.
func (e *Engine) List(ctx context.Context) ([]credential.Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	return clone(records), nil
}

// Exists reports whether a credential named name is known.
func (e *Engine) Exists(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return false, err
	}
	return indexByName(records, name) >= 0, nil
}

// Lookup returns the cached record named name without loading its payload.
func (e *Engine) Lookup(ctx context.Context, name string) (credential.Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	i := indexByName(records, name)
	if i < 0 {
		return credential.Credential{}, dserrors.New(dserrors.KindNotFound, "lookup", name, nil)
	}
	return records[i], nil
}

// Create stores a new credential and returns it with its assigned id.
//
// A record with an empty name is ignored: the zero Credential and a nil
// error are returned. A name that is already taken fails with
// KindAlreadyExists and nothing is written. If the store rejects the write
// the cache is left as it was and KindStoreWriteFailed is returned.
func (e *Engine) Create(ctx context.Context, c credential.Credential) (credential.Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.create(ctx, c)
}

// Read returns the full record for id, loading its payload from the store
// on first access.
//
// A key that has disappeared from the store yields the summary record and
// no error. A payload that cannot be decoded yields the summary record and
// a KindPartialFailure error; the cache entry stays a summary.
func (e *Engine) Read(ctx context.Context, id int) (credential.Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	i := indexByID(records, id)
	if i < 0 {
		return credential.Credential{}, dserrors.New(dserrors.KindNotFound, "read", fmt.Sprint(id), nil)
	}

	entry := records[i]
	if entry.IsFull() {
		return entry, nil
	}

	value, err := e.store.Get(ctx, entry.Name)
	if err != nil {
		if secretstore.IsNotFound(err) {
			e.logger.Warn("Credential %q is listed but missing from %s", entry.Name, e.store.Name())
			return entry, nil
		}
		return credential.Credential{}, fmt.Errorf("read %q from %s: %w", entry.Name, e.store.Name(), err)
	}

	payload, err := credential.Decode(value)
	if err != nil {
		e.logger.Warn("Credential %q has an unreadable payload", entry.Name)
		return entry, dserrors.New(dserrors.KindPartialFailure, "read", entry.Name, err)
	}

	full := entry.WithPayload(payload)
	next := clone(records)
	next[i] = full
	e.publish(next)

	e.logger.Debug("Loaded payload for %q (password %s)", full.Name, logging.Secret(full.Password))
	return full, nil
}

// Update overwrites the record identified by c.ID.
//
// When c.Name equals the current name the payload fields are replaced and
// written under the same key. When the name changes the old key is deleted
// and c is created under the new name with a new id. If the create fails
// after the delete succeeded, the record is gone from both the cache and
// the store and KindPartialFailure is returned.
//
// An empty name is ignored like in Create.
func (e *Engine) Update(ctx context.Context, c credential.Credential) (credential.Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.Name == "" {
		return credential.Credential{}, nil
	}

	records, err := e.load(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	i := indexByID(records, c.ID)
	if i < 0 {
		return credential.Credential{}, dserrors.New(dserrors.KindNotFound, "update", fmt.Sprint(c.ID), nil)
	}
	current := records[i]

	if c.Name != current.Name {
		return e.rename(ctx, records, current, c)
	}

	updated := current.WithPayload(c)
	if err := e.write(ctx, updated); err != nil {
		return credential.Credential{}, dserrors.New(dserrors.KindStoreWriteFailed, "update", updated.Name, err)
	}

	next := clone(records)
	next[i] = updated
	e.publish(next)
	return updated, nil
}

// Delete removes the record identified by id from the cache and the store.
// A key already missing from the store is not an error.
func (e *Engine) Delete(ctx context.Context, id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.delete(ctx, id)
}

// Refresh drops the cached view. The next operation rebuilds it from the
// store and assigns new ids.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cache.Clear()
	metrics.SetCacheSize(0, 0)
}

func (e *Engine) rename(ctx context.Context, records []credential.Credential, current, c credential.Credential) (credential.Credential, error) {
	if e.reserved(c.Name) {
		return credential.Credential{}, dserrors.New(dserrors.KindReservedName, "rename", c.Name, nil)
	}
	if indexByName(records, c.Name) >= 0 {
		return credential.Credential{}, dserrors.New(dserrors.KindAlreadyExists, "rename", c.Name, nil)
	}

	if err := e.delete(ctx, current.ID); err != nil {
		return credential.Credential{}, err
	}

	c.ID = 0
	created, err := e.create(ctx, c)
	if err != nil {
		e.logger.Error("Rename of %q to %q stopped after the old key was deleted", current.Name, c.Name)
		return credential.Credential{}, dserrors.New(dserrors.KindPartialFailure, "rename", current.Name+" -> "+c.Name, err)
	}
	e.logger.Debug("Renamed %q (id %d) to %q (id %d)", current.Name, current.ID, created.Name, created.ID)
	return created, nil
}

func (e *Engine) create(ctx context.Context, c credential.Credential) (credential.Credential, error) {
	if c.Name == "" {
		return credential.Credential{}, nil
	}
	if e.reserved(c.Name) {
		return credential.Credential{}, dserrors.New(dserrors.KindReservedName, "create", c.Name, nil)
	}

	records, err := e.load(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	if indexByName(records, c.Name) >= 0 {
		return credential.Credential{}, dserrors.New(dserrors.KindAlreadyExists, "create", c.Name, nil)
	}

	c.ID = maxID(records) + 1
	c.State = credential.StateFull

	if err := e.write(ctx, c); err != nil {
		return credential.Credential{}, dserrors.New(dserrors.KindStoreWriteFailed, "create", c.Name, err)
	}

	next := append(clone(records), c)
	sortByName(next)
	e.publish(next)
	return c, nil
}

func (e *Engine) delete(ctx context.Context, id int) error {
	records, err := e.load(ctx)
	if err != nil {
		return err
	}
	i := indexByID(records, id)
	if i < 0 {
		return dserrors.New(dserrors.KindNotFound, "delete", fmt.Sprint(id), nil)
	}
	name := records[i].Name

	if err := e.store.Delete(ctx, name); err != nil && !secretstore.IsNotFound(err) {
		return dserrors.New(dserrors.KindStoreWriteFailed, "delete", name, err)
	}

	next := make([]credential.Credential, 0, len(records)-1)
	next = append(next, records[:i]...)
	next = append(next, records[i+1:]...)
	e.publish(next)
	return nil
}

// reserved reports whether name would land among the configuration keys,
// which are never listed and must not be overwritten by a credential.
func (e *Engine) reserved(name string) bool {
	return e.prefix != "" && strings.HasPrefix(name, e.prefix)
}

func (e *Engine) write(ctx context.Context, c credential.Credential) error {
	value, err := credential.Encode(c)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, c.Name, value)
}

// load returns the cached records, filling the cache from the store first
// if it is empty. Callers must hold e.mu and must not modify the result.
func (e *Engine) load(ctx context.Context) ([]credential.Credential, error) {
	if records, ok := e.cache.Get(); ok {
		return records, nil
	}

	pager := e.store.ListKeys(ctx, e.pageSize)
	var records []credential.Credential
	pages := 0
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list keys in %s: %w", e.store.Name(), err)
		}
		pages++
		for _, key := range page.Keys {
			name := key.Name()
			if e.prefix != "" && strings.HasPrefix(name, e.prefix) {
				continue
			}
			records = append(records, credential.NewSummary(len(records)+1, name))
		}
	}
	if records == nil {
		records = []credential.Credential{}
	}
	sortByName(records)
	e.publish(records)

	e.logger.Debug("Loaded %d credential names from %s in %d page(s)", len(records), e.store.Name(), pages)
	return records, nil
}

func (e *Engine) publish(records []credential.Credential) {
	e.cache.Set(records)

	loaded := 0
	for _, r := range records {
		if r.IsFull() {
			loaded++
		}
	}
	metrics.SetCacheSize(len(records), loaded)
}

func clone(records []credential.Credential) []credential.Credential {
	out := make([]credential.Credential, len(records))
	copy(out, records)
	return out
}

func sortByName(records []credential.Credential) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
}

func indexByID(records []credential.Credential, id int) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func indexByName(records []credential.Credential, name string) int {
	for i, r := range records {
		if r.Name == name {
			return i
		}
	}
	return -1
}

func maxID(records []credential.Credential) int {
	highest := 0
	for _, r := range records {
		if r.ID > highest {
			highest = r.ID
		}
	}
	return highest
}
