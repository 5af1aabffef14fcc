package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/zalando/go-keyring"
)

func sampleToken(provider string) *Token {
	return &Token{
		Provider:     provider,
		AccessToken:  "access-" + provider,
		RefreshToken: "refresh-" + provider,
		TokenType:    "Bearer",
		ExpiresAt:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Scope:        []string{"openid"},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	store := NewFileStore(dir)

	if err := store.Save(sampleToken("gpt")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load("gpt")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != "access-gpt" || got.RefreshToken != "refresh-gpt" {
		t.Errorf("Load() = %+v", got)
	}

	// A fresh store over the same dir reuses the key on disk.
	reopened := NewFileStore(dir)
	if _, err := reopened.Load("gpt"); err != nil {
		t.Errorf("Load() from reopened store error = %v", err)
	}
}

func TestFileStore_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	store := NewFileStore(dir)
	if err := store.Save(sampleToken("gpt")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	checks := []struct {
		path string
		want os.FileMode
	}{
		{dir, 0o700},
		{filepath.Join(dir, ".key"), 0o600},
		{filepath.Join(dir, "gpt.json.enc"), 0o600},
	}
	for _, c := range checks {
		info, err := os.Stat(c.path)
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", c.path, err)
		}
		if got := info.Mode().Perm(); got != c.want {
			t.Errorf("%s mode = %o, want %o", filepath.Base(c.path), got, c.want)
		}
	}
}

func TestFileStore_EncryptedAtRest(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	if err := store.Save(sampleToken("gpt")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "gpt.json.enc"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "access-gpt") {
		t.Error("token file contains the plaintext access token")
	}
}

func TestFileStore_TamperDetected(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	if err := store.Save(sampleToken("gpt")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := filepath.Join(dir, "gpt.json.enc")
	data, _ := os.ReadFile(path)
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load("gpt"); err == nil {
		t.Error("Load() of tampered file should fail")
	}
}

func TestFileStore_NotFound(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Load("gemini")
	if !errors.Is(err, errors.ErrTokenNotFound) {
		t.Errorf("Load() error = %v, want ErrTokenNotFound", err)
	}
	if err := store.Delete("gemini"); err != nil {
		t.Errorf("Delete() of missing token error = %v", err)
	}
}

func TestFileStore_InvalidProvider(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, name := range []string{"", "../escape", "UPPER", "a/b"} {
		if _, err := store.Load(name); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Load(%q) error = %v, want ErrInvalidInput", name, err)
		}
	}
}

func TestFileStore_ListAndClear(t *testing.T) {
	store := NewFileStore(t.TempDir())

	names, err := store.ListProviders()
	if err != nil || len(names) != 0 {
		t.Fatalf("ListProviders() on empty store = %v, %v", names, err)
	}

	for _, p := range []string{"gpt", "gemini"} {
		if err := store.Save(sampleToken(p)); err != nil {
			t.Fatal(err)
		}
	}

	names, err = store.ListProviders()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "gemini,gpt" {
		t.Errorf("ListProviders() = %v, want [gemini gpt]", names)
	}

	if err := store.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	names, _ = store.ListProviders()
	if len(names) != 0 {
		t.Errorf("ListProviders() after ClearAll = %v", names)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), ".key")); err != nil {
		t.Errorf("ClearAll() should keep the key: %v", err)
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore("concord-test")

	if !store.Available() {
		t.Fatal("Available() = false with mock keyring")
	}

	if _, err := store.Load("gpt"); !errors.Is(err, errors.ErrTokenNotFound) {
		t.Errorf("Load() error = %v, want ErrTokenNotFound", err)
	}

	for _, p := range []string{"gpt", "gemini"} {
		if err := store.Save(sampleToken(p)); err != nil {
			t.Fatalf("Save(%s) error = %v", p, err)
		}
	}
	got, err := store.Load("gpt")
	if err != nil || got.AccessToken != "access-gpt" {
		t.Fatalf("Load() = %+v, %v", got, err)
	}

	names, err := store.ListProviders()
	if err != nil || strings.Join(names, ",") != "gemini,gpt" {
		t.Errorf("ListProviders() = %v, %v", names, err)
	}

	if err := store.Delete("gpt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	names, _ = store.ListProviders()
	if strings.Join(names, ",") != "gemini" {
		t.Errorf("ListProviders() after delete = %v", names)
	}

	if err := store.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	names, _ = store.ListProviders()
	if len(names) != 0 {
		t.Errorf("ListProviders() after ClearAll = %v", names)
	}
}

func TestFallbackStore_PrimaryFailure(t *testing.T) {
	keyring.MockInitWithError(errors.New("secret service unavailable"))
	t.Cleanup(keyring.MockInit)

	file := NewFileStore(t.TempDir())
	store := NewFallbackStore(NewKeyringStore("concord-test"), file, nil)

	if err := store.Save(sampleToken("gpt")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := file.Load("gpt"); err != nil {
		t.Errorf("token should have landed in the file store: %v", err)
	}
	got, err := store.Load("gpt")
	if err != nil || got.AccessToken != "access-gpt" {
		t.Errorf("Load() = %+v, %v", got, err)
	}
	names, err := store.ListProviders()
	if err != nil || strings.Join(names, ",") != "gpt" {
		t.Errorf("ListProviders() = %v, %v", names, err)
	}
}

func TestFallbackStore_PrimaryWins(t *testing.T) {
	keyring.MockInit()

	file := NewFileStore(t.TempDir())
	stale := sampleToken("gpt")
	stale.AccessToken = "stale"
	if err := file.Save(stale); err != nil {
		t.Fatal(err)
	}

	store := NewFallbackStore(NewKeyringStore("concord-fallback"), file, nil)
	if err := store.Save(sampleToken("gpt")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := file.Load("gpt"); !errors.Is(err, errors.ErrTokenNotFound) {
		t.Errorf("stale file copy should be removed, Load() error = %v", err)
	}
	got, err := store.Load("gpt")
	if err != nil || got.AccessToken != "access-gpt" {
		t.Errorf("Load() = %+v, %v", got, err)
	}

	if err := store.Delete("gpt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load("gpt"); !errors.Is(err, errors.ErrTokenNotFound) {
		t.Errorf("Load() after delete error = %v", err)
	}
}

func TestNewStore_FileOnly(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(false, dir, nil)
	if _, ok := store.(*FileStore); !ok {
		t.Errorf("NewStore(false) = %T, want *FileStore", store)
	}
}
