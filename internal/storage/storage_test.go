package storage

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// hexSealer is a trivial Sealer so the tests don't depend on vault.
type hexSealer struct{}

func (hexSealer) Seal(p string) (string, error) { return hex.EncodeToString([]byte(p)), nil }
func (hexSealer) Open(s string) (string, error) {
	b, err := hex.DecodeString(s)
	return string(b), err
}

func TestMemStore_GetSetDelete(t *testing.T) {
	ms := NewMemStore()

	if _, err := ms.Get("inok_token"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Expected ErrKeyNotFound, got %v", err)
	}
	if err := ms.Set("inok_token", "abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := ms.Get("inok_token")
	if err != nil || got != "abc" {
		t.Errorf("Expected abc, got %q (%v)", got, err)
	}
	if err := ms.Delete("inok_token"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := ms.Get("inok_token"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	fs, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := fs.Set("inok_token", "abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := fs.Set("inok_user", `{"id":"1"}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("session file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}

	// A second store on the same file simulates a restart.
	reopened, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	got, err := reopened.Get("inok_token")
	if err != nil || got != "abc" {
		t.Errorf("Expected abc, got %q (%v)", got, err)
	}

	if err := reopened.Delete("inok_token"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := reopened.Delete("inok_user"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected session file to be removed once empty, stat err: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temporary file left behind")
	}
}

func TestFileStore_Sealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	fs, _ := NewFileStore(path, hexSealer{})
	if err := fs.Set("inok_token", "secret-token"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "secret-token") {
		t.Fatal("token stored in plain text")
	}
	if !strings.Contains(string(raw), sealedPrefix) {
		t.Fatal("sealed value is not marked")
	}

	got, err := fs.Get("inok_token")
	if err != nil || got != "secret-token" {
		t.Errorf("Expected secret-token, got %q (%v)", got, err)
	}

	// Without the key the value cannot be read.
	plain, _ := NewFileStore(path, nil)
	if _, err := plain.Get("inok_token"); err == nil {
		t.Error("Expected an error reading a sealed value without a sealer")
	}
}

func TestFileStore_PlainValueWithSealer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte(`{"inok_token":"legacy"}`), 0600)

	fs, _ := NewFileStore(path, hexSealer{})
	got, err := fs.Get("inok_token")
	if err != nil || got != "legacy" {
		t.Errorf("Expected legacy, got %q (%v)", got, err)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte("not json"), 0600)

	fs, _ := NewFileStore(path, nil)
	if _, err := fs.Get("inok_token"); err == nil || errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected a parse error, got %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("INOK_SESSION_FILE", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != filepath.Join("/tmp/xdg", "inok", "session.json") {
		t.Errorf("unexpected default path %s", got)
	}

	t.Setenv("INOK_SESSION_FILE", "/tmp/custom.json")
	if got := DefaultPath(); got != "/tmp/custom.json" {
		t.Errorf("env override ignored: %s", got)
	}
}
