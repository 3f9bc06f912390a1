// Package vault implements the encrypted-file fallback for the secure
// credential store, used when no OS keyring is available. Entries are
// encrypted with AES-256-GCM under a master key derived from the user
// passphrase via Argon2id. It satisfies secretstore.Store.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
)

const (
	// FileName is the vault document name inside the workspace directory.
	FileName = "cloudgate.vault"

	// Argon2id parameters: m=64MB, t=3, p=4.
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 32
	nonceLen = 12 // AES-GCM standard nonce size
)

type entry struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type vaultFile struct {
	Salt    []byte            `json:"salt"`
	Entries map[string]*entry `json:"entries"`
}

// Vault is an encrypted secret file unlocked by a passphrase.
type Vault struct {
	mu        sync.RWMutex
	masterKey []byte // held in memory only, zeroed on Close
	salt      []byte
	entries   map[string]*entry
	path      string
}

var _ secretstore.Store = (*Vault)(nil)

// deriveKey derives the 256-bit master key from passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Create initializes a new vault file with a fresh salt.
func Create(path, passphrase string) (*Vault, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	v := &Vault{
		masterKey: deriveKey(passphrase, salt),
		salt:      salt,
		entries:   make(map[string]*entry),
		path:      path,
	}
	if err := v.flush(); err != nil {
		return nil, err
	}
	return v, nil
}

// Open loads an existing vault file and unlocks it. A wrong passphrase is
// detected on the first entry decryption.
func Open(path, passphrase string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault file: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parsing vault file: %w", err)
	}

	mk := deriveKey(passphrase, vf.Salt)
	v := &Vault{
		masterKey: mk,
		salt:      vf.Salt,
		entries:   vf.Entries,
		path:      path,
	}
	if v.entries == nil {
		v.entries = make(map[string]*entry)
	}

	for key := range v.entries {
		if _, err := v.Get(key); err != nil {
			for i := range mk {
				mk[i] = 0
			}
			return nil, fmt.Errorf("incorrect passphrase or corrupted vault")
		}
		break
	}
	return v, nil
}

// OpenOrCreate opens the vault file if present, otherwise creates it.
func OpenOrCreate(path, passphrase string) (*Vault, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Create(path, passphrase)
	}
	return Open(path, passphrase)
}

// Set encrypts and stores data under key, then flushes to disk.
func (v *Vault) Set(key string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	gcm, err := v.gcm()
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	// Key name as AAD binds the ciphertext to its slot.
	v.entries[key] = &entry{
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, data, []byte(key)),
	}
	return v.flush()
}

// Get decrypts and returns the data stored under key.
func (v *Vault) Get(key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", secretstore.ErrNotFound, key)
	}

	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, e.Nonce, e.Ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypting vault entry: %w", err)
	}
	return plaintext, nil
}

// Delete removes the entry under key. Missing keys are a no-op.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.entries[key]; !ok {
		return nil
	}
	delete(v.entries, key)
	return v.flush()
}

// Keys returns all entry names.
func (v *Vault) Keys() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close zeroes the master key. The vault is unusable afterwards.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.masterKey {
		v.masterKey[i] = 0
	}
	return nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

func (v *Vault) flush() error {
	vf := vaultFile{Salt: v.salt, Entries: v.entries}
	data, err := json.Marshal(vf)
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("writing vault file: %w", err)
	}
	return nil
}
