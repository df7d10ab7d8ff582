package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/secretstore"
	"github.com/zalando/go-keyring"
)

// keychainIndexAccount holds the JSON list of stored keys. OS keychains
// cannot enumerate the accounts of a service, so the store keeps its own.
const keychainIndexAccount = "__index__"

// KeychainStore keeps each key as a generic password of one service in the
// OS keychain (macOS Keychain, Secret Service, Windows Credential Manager).
type KeychainStore struct {
	name    string
	service string
	logger  *logging.Logger
	mu      sync.Mutex
}

// KeychainOption is a functional option for configuring the store
type KeychainOption func(*KeychainStore)

// WithKeychainLogger sets the logger.
func WithKeychainLogger(l *logging.Logger) KeychainOption {
	return func(s *KeychainStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewKeychainStore creates a keychain backed store. The service name
// defaults to "keyrelay".
func NewKeychainStore(name string, configMap map[string]interface{}, opts ...KeychainOption) (*KeychainStore, error) {
	service := stringValue(configMap, "service")
	if service == "" {
		service = "keyrelay"
	}
	s := &KeychainStore{name: name, service: service, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the store name
func (s *KeychainStore) Name() string {
	return s.name
}

// Get returns the password stored for key.
func (s *KeychainStore) Get(ctx context.Context, key string) (string, error) {
	if key == keychainIndexAccount {
		return "", secretstore.NotFoundError{Store: s.name, Key: key}
	}
	value, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", secretstore.NotFoundError{Store: s.name, Key: key}
		}
		return "", fmt.Errorf("keychain get %s: %w", key, err)
	}
	return value, nil
}

// Set stores the password and records key in the index.
func (s *KeychainStore) Set(ctx context.Context, key, value string) error {
	if key == keychainIndexAccount {
		return fmt.Errorf("keychain key %q is reserved", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("keychain set %s: %w", key, err)
	}
	index, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[key]; ok {
		return nil
	}
	index[key] = struct{}{}
	return s.writeIndex(index)
}

// Delete removes the password and its index entry.
func (s *KeychainStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(s.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	index, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[key]; !ok {
		return nil
	}
	delete(index, key)
	return s.writeIndex(index)
}

// ListKeys returns the indexed keys as "service/key" descriptors.
func (s *KeychainStore) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	s.mu.Lock()
	index, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		return secretstore.ErrorPager(err)
	}

	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)
	keys := make([]secretstore.KeyDescriptor, 0, len(names))
	for _, name := range names {
		keys = append(keys, secretstore.KeyDescriptor{ID: s.service + "/" + name})
	}
	return secretstore.NewSlicePager(keys, pageSize)
}

// Validate reads the index, which fails when no keychain backend is
// reachable.
func (s *KeychainStore) Validate(ctx context.Context) error {
	if runtime.GOOS == "linux" && isHeadless() {
		s.logger.Warn("No display detected; the OS keychain may be locked or unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.readIndex()
	return err
}

func (s *KeychainStore) readIndex() (map[string]struct{}, error) {
	index := make(map[string]struct{})
	raw, err := keyring.Get(s.service, keychainIndexAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keychain read index: %w", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("keychain index is corrupt: %w", err)
	}
	for _, name := range names {
		index[name] = struct{}{}
	}
	return index, nil
}

func (s *KeychainStore) writeIndex(index map[string]struct{}) error {
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, keychainIndexAccount, string(raw)); err != nil {
		return fmt.Errorf("keychain write index: %w", err)
	}
	return nil
}

// isHeadless returns true if running in headless environment
func isHeadless() bool {
	if os.Getenv("SSH_TTY") != "" || os.Getenv("CI") != "" {
		return true
	}
	return os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" && os.Getenv("XDG_SESSION_TYPE") == ""
}

var _ secretstore.Store = (*KeychainStore)(nil)
