package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/logging"
	"github.com/zalando/go-keyring"
)

// KeyringService is the OS secret store service name.
const KeyringService = "concord"

const (
	keyFileName   = ".key"
	tokenFileExt  = ".json.enc"
	keyringIndex  = "__providers__"
	encryptionKey = 32 // AES-256
)

var providerNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Store persists tokens keyed by provider name.
type Store interface {
	// Load returns the stored token or a TokenNotFoundError.
	Load(provider string) (*Token, error)
	Save(tok *Token) error
	// Delete removes a token. Deleting a missing token is not an error.
	Delete(provider string) error
	ListProviders() ([]string, error)
	ClearAll() error
}

func validateProvider(provider string) error {
	if !providerNameRegex.MatchString(provider) {
		return errors.NewValidationError("invalid provider name").
			WithField("provider").
			WithValue(provider)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Keyring
// -----------------------------------------------------------------------------

// KeyringStore keeps tokens in the OS secret store. The keyring cannot
// enumerate entries, so a provider index is stored alongside them.
type KeyringStore struct {
	service string
	mu      sync.Mutex
}

// NewKeyringStore creates a store under the given keyring service.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = KeyringService
	}
	return &KeyringStore{service: service}
}

// Available probes the keyring. Headless hosts without a secret service
// report false.
func (s *KeyringStore) Available() bool {
	_, err := keyring.Get(s.service, keyringIndex)
	return err == nil || err == keyring.ErrNotFound
}

// Load implements Store.
func (s *KeyringStore) Load(provider string) (*Token, error) {
	if err := validateProvider(provider); err != nil {
		return nil, err
	}
	data, err := keyring.Get(s.service, provider)
	if err == keyring.ErrNotFound {
		return nil, errors.NewTokenNotFoundError(provider)
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get %s: %w", provider, err)
	}

	var tok Token
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, fmt.Errorf("decode keyring token %s: %w", provider, err)
	}
	return &tok, nil
}

// Save implements Store.
func (s *KeyringStore) Save(tok *Token) error {
	if err := validateProvider(tok.Provider); err != nil {
		return err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := keyring.Set(s.service, tok.Provider, string(data)); err != nil {
		return fmt.Errorf("keyring set %s: %w", tok.Provider, err)
	}
	return s.updateIndex(func(names []string) []string {
		if !slices.Contains(names, tok.Provider) {
			names = append(names, tok.Provider)
		}
		return names
	})
}

// Delete implements Store.
func (s *KeyringStore) Delete(provider string) error {
	if err := validateProvider(provider); err != nil {
		return err
	}
	if err := keyring.Delete(s.service, provider); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("keyring delete %s: %w", provider, err)
	}
	return s.updateIndex(func(names []string) []string {
		return slices.DeleteFunc(names, func(n string) bool { return n == provider })
	})
}

// ListProviders implements Store.
func (s *KeyringStore) ListProviders() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex()
}

// ClearAll implements Store.
func (s *KeyringStore) ClearAll() error {
	names, err := s.ListProviders()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Delete(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *KeyringStore) readIndex() ([]string, error) {
	data, err := keyring.Get(s.service, keyringIndex)
	if err == keyring.ErrNotFound {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring index: %w", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("decode keyring index: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *KeyringStore) updateIndex(fn func([]string) []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readIndex()
	if err != nil {
		return err
	}
	names = fn(names)
	sort.Strings(names)
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return keyring.Set(s.service, keyringIndex, string(data))
}

// -----------------------------------------------------------------------------
// Encrypted file
// -----------------------------------------------------------------------------

// FileStore keeps tokens as AES-256-GCM encrypted files. The key is
// generated on first use and stored next to the tokens with 0600 perms.
type FileStore struct {
	dir string
	mu  sync.Mutex
	key []byte
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) tokenPath(provider string) string {
	return filepath.Join(s.dir, provider+tokenFileExt)
}

// loadKey reads or creates the encryption key. Callers hold s.mu.
func (s *FileStore) loadKey() ([]byte, error) {
	if s.key != nil {
		return s.key, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token dir: %w", err)
	}

	keyPath := filepath.Join(s.dir, keyFileName)
	key, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(key) != encryptionKey {
			return nil, fmt.Errorf("token key %s has length %d, want %d", keyPath, len(key), encryptionKey)
		}
	case os.IsNotExist(err):
		key = make([]byte, encryptionKey)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("write token key: %w", err)
		}
	default:
		return nil, fmt.Errorf("read token key: %w", err)
	}

	s.key = key
	return key, nil
}

func (s *FileStore) aead() (cipher.AEAD, error) {
	key, err := s.loadKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Load implements Store.
func (s *FileStore) Load(provider string) (*Token, error) {
	if err := validateProvider(provider); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.tokenPath(provider))
	if os.IsNotExist(err) {
		return nil, errors.NewTokenNotFoundError(provider)
	}
	if err != nil {
		return nil, fmt.Errorf("read token %s: %w", provider, err)
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("token file %s is truncated", provider)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(provider))
	if err != nil {
		return nil, fmt.Errorf("decrypt token %s: %w", provider, err)
	}

	var tok Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", provider, err)
	}
	return &tok, nil
}

// Save implements Store.
func (s *FileStore) Save(tok *Token) error {
	if err := validateProvider(tok.Provider); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	gcm, err := s.aead()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plain, []byte(tok.Provider))

	// Atomic replace via temp file.
	path := s.tokenPath(tok.Provider)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write token %s: %w", tok.Provider, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit token %s: %w", tok.Provider, err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(provider string) error {
	if err := validateProvider(provider); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.tokenPath(provider)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token %s: %w", provider, err)
	}
	return nil
}

// ListProviders implements Store.
func (s *FileStore) ListProviders() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), tokenFileExt); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ClearAll implements Store. The encryption key is kept.
func (s *FileStore) ClearAll() error {
	names, err := s.ListProviders()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Delete(name); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Fallback chain
// -----------------------------------------------------------------------------

// FallbackStore writes to the primary store and falls back to the secondary
// when the primary fails. Reads consult both.
type FallbackStore struct {
	primary   Store
	secondary Store
	logger    *logging.Logger
}

// NewFallbackStore chains two stores.
func NewFallbackStore(primary, secondary Store, logger *logging.Logger) *FallbackStore {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &FallbackStore{primary: primary, secondary: secondary, logger: logger}
}

// NewStore returns the keyring-backed store with an encrypted file fallback,
// or the file store alone when the keyring is disabled or unavailable.
func NewStore(useKeyring bool, tokenDir string, logger *logging.Logger) Store {
	file := NewFileStore(tokenDir)
	if !useKeyring {
		return file
	}
	kr := NewKeyringStore(KeyringService)
	if !kr.Available() {
		if logger != nil {
			logger.Warn("OS keyring unavailable, using encrypted token files", "dir", tokenDir)
		}
		return file
	}
	return NewFallbackStore(kr, file, logger)
}

// Load implements Store.
func (s *FallbackStore) Load(provider string) (*Token, error) {
	tok, err := s.primary.Load(provider)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, errors.ErrTokenNotFound) {
		s.logger.Warn("primary token store read failed", "provider", provider, "error", err.Error())
	}
	return s.secondary.Load(provider)
}

// Save implements Store.
func (s *FallbackStore) Save(tok *Token) error {
	if err := s.primary.Save(tok); err != nil {
		s.logger.Warn("primary token store write failed, using fallback",
			"provider", tok.Provider, "error", err.Error())
		return s.secondary.Save(tok)
	}
	// The fallback copy is stale once the primary holds the token.
	return s.secondary.Delete(tok.Provider)
}

// Delete implements Store.
func (s *FallbackStore) Delete(provider string) error {
	return errors.Join(s.primary.Delete(provider), s.secondary.Delete(provider))
}

// ListProviders implements Store.
func (s *FallbackStore) ListProviders() ([]string, error) {
	a, errA := s.primary.ListProviders()
	b, errB := s.secondary.ListProviders()
	if errA != nil && errB != nil {
		return nil, errors.Join(errA, errB)
	}
	names := append(a, b...)
	sort.Strings(names)
	return slices.Compact(names), nil
}

// ClearAll implements Store.
func (s *FallbackStore) ClearAll() error {
	return errors.Join(s.primary.ClearAll(), s.secondary.ClearAll())
}
