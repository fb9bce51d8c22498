// Package authstore implements the Auth Store (C6): a token cache keyed
// by (service, scope) that persists secrets through a pluggable backend
// and caches only non-secret metadata (expiry, scopes) in memory
// (spec.md §4.6). The corpus carries no OS-keychain binding (it is named
// in spec.md §1 as an external collaborator, out of scope for the core),
// so the default Backend persists through the same advisory-locked,
// atomic-rename file pattern the lockfile and telemetry stores use
// (internal/lockfile/store.go, internal/telemetry/store.go) rather than
// fabricating a keychain dependency; see DESIGN.md.
package authstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

// Backend persists secret material. The default FileBackend writes under
// a user-scope directory with 0600 permissions; callers may substitute a
// real OS-keychain-backed Backend without touching Store's logic.
type Backend interface {
	Set(key string, secret Secret) error
	Get(key string) (Secret, bool, error)
	Delete(key string) error
}

// Secret is the sensitive payload a Backend stores. Store never keeps
// this in memory longer than the call that needs it.
type Secret struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// entryMeta is the non-secret metadata Store caches in memory
// (spec.md §4.6: "only non-secret metadata is cached in memory").
type entryMeta struct {
	ExpiresAt time.Time
	Scopes    []string
}

// RefreshFunc exchanges a refresh token for a new access token. Callers
// register one per service.
type RefreshFunc func(service, scope, refreshToken string) (Secret, time.Duration, error)

// Store is the token cache described by spec.md §4.6.
type Store struct {
	backend Backend

	mu        sync.RWMutex
	meta      map[string]entryMeta
	refreshFn map[string]RefreshFunc
}

// NewStore builds a Store over backend. backend must be non-nil: NewStore
// supplies no default, and every Store method calls backend directly.
func NewStore(backend Backend) *Store {
	return &Store{
		backend:   backend,
		meta:      make(map[string]entryMeta),
		refreshFn: make(map[string]RefreshFunc),
	}
}

// RegisterRefresh binds the refresh procedure a service uses when
// GetToken finds an expired access token (spec.md §4.6).
func (s *Store) RegisterRefresh(service string, fn RefreshFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFn[service] = fn
}

// SetToken persists access (+ optional refresh) for service/scope and
// caches expiry/scopes in memory.
func (s *Store) SetToken(service, scope, access, refresh string, expiresIn time.Duration, scopes []string) error {
	key := cacheKey(service, scope)
	if err := s.backend.Set(key, Secret{AccessToken: access, RefreshToken: refresh}); err != nil {
		return fmt.Errorf("authstore: set %s: %w", key, err)
	}
	s.mu.Lock()
	s.meta[key] = entryMeta{ExpiresAt: time.Now().Add(expiresIn), Scopes: scopes}
	s.mu.Unlock()
	return nil
}

// GetToken returns the cached access token if unexpired; otherwise it
// invokes the registered RefreshFunc for service. Returns
// core.ErrAuthenticationRequired if no token is on record and
// RefreshError if a refresh attempt fails (spec.md §4.6, §7).
func (s *Store) GetToken(service, scope string) (string, error) {
	key := cacheKey(service, scope)

	s.mu.RLock()
	meta, known := s.meta[key]
	s.mu.RUnlock()

	if known && time.Now().Before(meta.ExpiresAt) {
		secret, found, err := s.backend.Get(key)
		if err != nil {
			return "", fmt.Errorf("authstore: get %s: %w", key, err)
		}
		if found {
			return secret.AccessToken, nil
		}
	}

	secret, found, err := s.backend.Get(key)
	if err != nil {
		return "", fmt.Errorf("authstore: get %s: %w", key, err)
	}
	if !found {
		return "", core.ErrAuthenticationRequired
	}
	if secret.RefreshToken == "" {
		if known && time.Now().Before(meta.ExpiresAt) {
			return secret.AccessToken, nil
		}
		return "", core.ErrAuthenticationRequired
	}

	s.mu.RLock()
	refresh, hasRefresh := s.refreshFn[service]
	s.mu.RUnlock()
	if !hasRefresh {
		return "", &core.RefreshError{Service: service, Err: errors.New("no refresh procedure registered")}
	}

	refreshed, ttl, err := refresh(service, scope, secret.RefreshToken)
	if err != nil {
		return "", &core.RefreshError{Service: service, Err: err}
	}
	if err := s.SetToken(service, scope, refreshed.AccessToken, refreshed.RefreshToken, ttl, meta.Scopes); err != nil {
		return "", &core.RefreshError{Service: service, Err: err}
	}
	return refreshed.AccessToken, nil
}

// IsAuthenticated checks presence and expiry without touching the
// backend when an in-memory cache entry already answers the question
// (spec.md §4.6).
func (s *Store) IsAuthenticated(service, scope string) bool {
	key := cacheKey(service, scope)
	s.mu.RLock()
	meta, known := s.meta[key]
	s.mu.RUnlock()
	if known {
		return time.Now().Before(meta.ExpiresAt)
	}
	_, found, err := s.backend.Get(key)
	return err == nil && found
}

// ClearToken removes the token for service/scope from both the backend
// and the in-memory cache.
func (s *Store) ClearToken(service, scope string) error {
	key := cacheKey(service, scope)
	s.mu.Lock()
	delete(s.meta, key)
	s.mu.Unlock()
	if err := s.backend.Delete(key); err != nil {
		return fmt.Errorf("authstore: delete %s: %w", key, err)
	}
	return nil
}

func cacheKey(service, scope string) string {
	if scope == "" {
		return service
	}
	return service + "#" + scope
}

// FileBackend is the default Backend: one JSON file per key under root,
// written atomically and locked per spec.md §4.16's pattern (temp file +
// rename, advisory flock), mode 0600 since it may carry secret material.
type FileBackend struct {
	root string
}

// NewFileBackend builds a FileBackend rooted at dir (typically
// $USER_PATH/auth).
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{root: dir}
}

func (b *FileBackend) Set(key string, secret Secret) error {
	path := b.pathFor(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	fl := flock.New(path + ".flock")
	if err := fl.Lock(); err != nil {
		return err
	}
	defer fl.Unlock()

	data, err := json.Marshal(secret)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".authstore-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (b *FileBackend) Get(key string) (Secret, bool, error) {
	path := b.pathFor(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Secret{}, false, nil
	}
	if err != nil {
		return Secret{}, false, err
	}
	var secret Secret
	if err := json.Unmarshal(data, &secret); err != nil {
		return Secret{}, false, err
	}
	return secret, true, nil
}

func (b *FileBackend) Delete(key string) error {
	path := b.pathFor(key)
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *FileBackend) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(b.root, hex.EncodeToString(sum[:])+".json")
}
