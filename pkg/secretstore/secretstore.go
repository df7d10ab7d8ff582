package secretstore

import (
	"context"
	"errors"
	"strings"
)

// DefaultPageSize is used when a caller asks for a page size <= 0.
const DefaultPageSize = 25

// Store is a remote key/value secret store.
type Store interface {
	// Name returns the configured store name used in logs and metrics.
	Name() string

	// Get returns the value stored under key, or NotFoundError.
	Get(ctx context.Context, key string) (string, error)

	// Set creates or replaces the value stored under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// ListKeys returns a pager over every key in the store. pageSize is a
	// hint; stores with a hard service limit clamp it.
	ListKeys(ctx context.Context, pageSize int) KeyPager

	// Validate checks that the store is reachable with the configured
	// credentials.
	Validate(ctx context.Context) error
}

// KeyPager iterates over pages of key descriptors.
type KeyPager interface {
	More() bool
	NextPage(ctx context.Context) (Page, error)
}

// Page is one page of a key listing.
type Page struct {
	Keys []KeyDescriptor
}

// KeyDescriptor identifies a stored key.
type KeyDescriptor struct {
	// ID is the store's fully-qualified identifier, for example
	// https://vault.vault.azure.net/secrets/github or /keyrelay/github.
	ID string
}

// Name returns the logical key: the segment after the last '/'.
func (d KeyDescriptor) Name() string {
	if i := strings.LastIndex(d.ID, "/"); i >= 0 {
		return d.ID[i+1:]
	}
	return d.ID
}

// NotFoundError indicates that a requested key does not exist in the store.
type NotFoundError struct {
	// Store is the name of the secret store where the key was not found.
	Store string

	// Key is the key that could not be found.
	Key string
}

// Error implements the error interface.
func (e NotFoundError) Error() string {
	return "secret not found: " + e.Key + " in store " + e.Store
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var pnf *NotFoundError
	return errors.As(err, &pnf)
}

// AuthError indicates that authentication to the secret store failed.
type AuthError struct {
	// Store is the name of the secret store that failed authentication.
	Store string

	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e AuthError) Error() string {
	return "authentication failed for store " + e.Store + ": " + e.Message
}

// ListAll drains pager into a slice of descriptors.
func ListAll(ctx context.Context, pager KeyPager) ([]KeyDescriptor, error) {
	var keys []KeyDescriptor
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page.Keys...)
	}
	return keys, nil
}

// SlicePager serves precomputed pages. Stores whose SDK hands back a whole
// listing use it to satisfy the KeyPager contract.
type SlicePager struct {
	pages [][]KeyDescriptor
	err   error
	next  int
}

// NewSlicePager splits keys into pages of pageSize.
func NewSlicePager(keys []KeyDescriptor, pageSize int) *SlicePager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	p := &SlicePager{}
	for start := 0; start < len(keys); start += pageSize {
		end := start + pageSize
		if end > len(keys) {
			end = len(keys)
		}
		p.pages = append(p.pages, keys[start:end])
	}
	return p
}

// ErrorPager returns a pager whose first page fails with err.
func ErrorPager(err error) *SlicePager {
	return &SlicePager{err: err}
}

// More reports whether another page is available.
func (p *SlicePager) More() bool {
	if p.err != nil {
		return p.next == 0
	}
	return p.next < len(p.pages)
}

// NextPage returns the next page.
func (p *SlicePager) NextPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if p.err != nil {
		p.next++
		return Page{}, p.err
	}
	if p.next >= len(p.pages) {
		return Page{}, nil
	}
	page := Page{Keys: p.pages[p.next]}
	p.next++
	return page, nil
}
