package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned by Reveal after Destroy.
var ErrDestroyed = errors.New("sealed value destroyed")

// Sealed is an encrypted in-memory string. The zero value and Seal("") both
// hold the empty string.
type Sealed struct {
	enclave   *memguard.Enclave
	destroyed bool
	mu        sync.RWMutex
}

// Seal copies s into a new enclave.
func Seal(s string) *Sealed {
	if s == "" {
		return &Sealed{}
	}
	// NewEnclave wipes its argument, so hand it a private copy.
	return &Sealed{enclave: memguard.NewEnclave([]byte(s))}
}

// Reveal decrypts the value.
func (s *Sealed) Reveal() (string, error) {
	if s == nil {
		return "", nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return "", ErrDestroyed
	}
	if s.enclave == nil {
		return "", nil
	}
	locked, err := s.enclave.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Empty reports whether the sealed value is the empty string.
func (s *Sealed) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enclave == nil
}

// Equal reports whether the sealed value equals v.
func (s *Sealed) Equal(v string) bool {
	got, err := s.Reveal()
	return err == nil && got == v
}

// String never prints the plaintext.
func (s *Sealed) String() string {
	return "[REDACTED]"
}

// Destroy drops the enclave. It is safe to call more than once.
func (s *Sealed) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
	s.destroyed = true
}

// Purge wipes all memguard state. Call it once on the way out of main.
func Purge() {
	memguard.Purge()
}
