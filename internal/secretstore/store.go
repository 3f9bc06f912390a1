// Package secretstore abstracts the OS-level secure storage used for
// credential material and federation tokens. Entries are keyed by session
// identifier (or a provider-scoped token key); values never touch the
// plaintext workspace document.
package secretstore

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// ErrNotFound is returned when no entry exists for a key.
var ErrNotFound = errors.New("secret not found")

// Store is the minimal secure-store contract the core needs.
type Store interface {
	Set(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Keys() ([]string, error)
}

// ServiceName identifies cloudgate entries in the OS keyring.
const ServiceName = "cloudgate"

// KeyringStore stores secrets in the platform keyring (Keychain, Secret
// Service, wincred) with an encrypted-file fallback backend.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the platform keyring. fileDir and passwordFunc configure
// the encrypted-file backend used where no system keyring is available.
func OpenKeyring(fileDir string, passwordFunc keyring.PromptFunc) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    ServiceName,
		FileDir:                        fileDir,
		FilePasswordFunc:               passwordFunc,
		KeychainName:                   ServiceName,
		KeychainSynchronizable:         false,
		KeychainAccessibleWhenUnlocked: true,
		KeychainTrustApplication:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyringStore{ring: ring}, nil
}

// NewKeyringStore wraps an already-open keyring. Used by tests with
// keyring.NewArrayKeyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Set stores data under key, replacing any existing entry.
func (s *KeyringStore) Set(key string, data []byte) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  data,
		Label: ServiceName + ": " + key,
	})
	if err != nil {
		return fmt.Errorf("storing secret %q: %w", key, err)
	}
	return nil
}

// Get returns the data stored under key.
func (s *KeyringStore) Get(key string) ([]byte, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("reading secret %q: %w", key, err)
	}
	return item.Data, nil
}

// Delete removes the entry under key. Deleting a missing key is a no-op.
func (s *KeyringStore) Delete(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting secret %q: %w", key, err)
	}
	return nil
}

// Keys lists all stored entry keys.
func (s *KeyringStore) Keys() ([]string, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	return keys, nil
}
