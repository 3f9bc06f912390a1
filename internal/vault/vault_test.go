package vault

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
)

func TestCreateSetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}

	if err := v.Set("session-credentials/s1", []byte("secret material")); err != nil {
		t.Fatalf("set: %v", err)
	}

	data, err := v.Get("session-credentials/s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "secret material" {
		t.Errorf("round trip mismatch: %q", data)
	}
}

func TestReopenWithPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "pass-1")
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	v.Set("k", []byte("value"))
	v.Close()

	reopened, err := Open(path, "pass-1")
	if err != nil {
		t.Fatalf("reopening vault: %v", err)
	}
	data, err := reopened.Get("k")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(data) != "value" {
		t.Errorf("unexpected data after reopen: %q", data)
	}
}

func TestWrongPassphraseRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "right")
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	v.Set("k", []byte("value"))
	v.Close()

	if _, err := Open(path, "wrong"); err == nil {
		t.Error("expected wrong passphrase to be rejected")
	}
}

func TestGetMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "pass")
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	if _, err := v.Get("missing"); !errors.Is(err, secretstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "pass")
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	v.Set("k", []byte("value"))

	if err := v.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := v.Get("k"); !errors.Is(err, secretstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := v.Delete("k"); err != nil {
		t.Errorf("deleting missing key should be a no-op, got %v", err)
	}
}

func TestOpenOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := OpenOrCreate(path, "pass")
	if err != nil {
		t.Fatalf("first open-or-create: %v", err)
	}
	v.Set("k", []byte("value"))
	v.Close()

	again, err := OpenOrCreate(path, "pass")
	if err != nil {
		t.Fatalf("second open-or-create: %v", err)
	}
	if _, err := again.Get("k"); err != nil {
		t.Errorf("entry lost across open-or-create: %v", err)
	}
}
