package secretstore

import (
	"errors"
	"sort"
	"testing"

	"github.com/99designs/keyring"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"keyring": NewKeyringStore(keyring.NewArrayKeyring(nil)),
		"memory":  NewMemoryStore(),
	}
}

func TestSetGetDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Set("session-credentials/s1", []byte("material")); err != nil {
				t.Fatalf("set: %v", err)
			}

			data, err := store.Get("session-credentials/s1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(data) != "material" {
				t.Errorf("unexpected data: %q", data)
			}

			if err := store.Delete("session-credentials/s1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get("session-credentials/s1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get("nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDeleteMissingIsNoOp(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Delete("nope"); err != nil {
				t.Errorf("delete of missing key should be a no-op, got %v", err)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store.Set("a", []byte("1"))
			store.Set("b", []byte("2"))

			keys, err := store.Keys()
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			sort.Strings(keys)
			if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
				t.Errorf("unexpected keys: %v", keys)
			}
		})
	}
}

func TestOverwrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store.Set("k", []byte("old"))
			store.Set("k", []byte("new"))

			data, err := store.Get("k")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(data) != "new" {
				t.Errorf("overwrite failed: %q", data)
			}
		})
	}
}
