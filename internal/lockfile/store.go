// Package lockfile implements the hierarchical lockfile store (C11):
// freeze, load, validate, list, and prune lockfiles under project/user
// scope, serialized with an advisory file lock (spec.md §4.11, §6).
// Grounded on the teacher's atomic-rename persistence pattern (present
// throughout nexus's config/session writers) and the gofrs/flock
// advisory-locking dependency carried in the example pack's go.mod
// files, adapted here to guard each lockfile's write and removal with a
// sibling ".flock" file.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
	"github.com/leolilley/kiwi-mcp-sub008/internal/integrity"
)

// Store manages lockfiles across project and user scope directories.
// ProjectRoot may be empty, in which case every write falls back to
// UserRoot (spec.md §4.11: "user scope otherwise").
type Store struct {
	ProjectRoot string
	UserRoot    string
}

// NewStore builds a lockfile store rooted at the given scope
// directories.
func NewStore(projectRoot, userRoot string) *Store {
	return &Store{ProjectRoot: projectRoot, UserRoot: userRoot}
}

// ValidationResult is the outcome of validating a lockfile against a
// freshly resolved chain (spec.md §4.11).
type ValidationResult struct {
	IsValid bool
	Issues  []string
}

// FreezeChain computes a stable chain hash and writes the lockfile into
// the project scope (user scope if no project scope is configured).
func (s *Store) FreezeChain(root core.ChainEntry, chain []core.ChainEntry, category string) (*core.Lockfile, error) {
	chainHash, err := ChainHash(chain)
	if err != nil {
		return nil, fmt.Errorf("lockfile: compute chain hash: %w", err)
	}
	lf := &core.Lockfile{
		LockfileVersion: 1,
		GeneratedAt:     time.Now().UTC(),
		Root:            root,
		ResolvedChain:   chain,
	}
	path := s.pathFor(category, root.ToolID, root.Version, chainHash)
	if err := s.writeLocked(path, lf); err != nil {
		return nil, err
	}
	return lf, nil
}

// GetLockfile returns the lockfile for tool_id@version under category,
// preferring project scope over user scope.
func (s *Store) GetLockfile(toolID, version, category string) (*core.Lockfile, bool, error) {
	for _, root := range s.scopeRoots() {
		dir := filepath.Join(root, "lockfiles", category)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("lockfile: read %s: %w", dir, err)
		}
		prefix := fmt.Sprintf("%s@%s", toolID, version)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if strings.HasPrefix(e.Name(), prefix) {
				lf, err := readLockfile(filepath.Join(dir, e.Name()))
				if err != nil {
					return nil, false, err
				}
				return lf, true, nil
			}
		}
	}
	return nil, false, nil
}

// ValidateLockfile re-verifies every entry of lf against currentChain's
// freshly resolved content hashes (spec.md §4.11). Entries are matched
// by tool_id, so the order of currentChain does not matter.
func (s *Store) ValidateLockfile(lf *core.Lockfile, currentChain []core.ChainEntry) ValidationResult {
	result := ValidationResult{IsValid: true}
	current := make(map[string]core.ChainEntry, len(currentChain))
	for _, e := range currentChain {
		current[e.ToolID] = e
	}
	for _, entry := range lf.ResolvedChain {
		fresh, ok := current[entry.ToolID]
		if !ok {
			result.Issues = append(result.Issues, fmt.Sprintf("Tool %q no longer present in resolved chain", entry.ToolID))
			continue
		}
		if fresh.Version != entry.Version {
			result.Issues = append(result.Issues, fmt.Sprintf("Tool %q version changed: %s -> %s", entry.ToolID, entry.Version, fresh.Version))
		}
		if fresh.ContentHash != entry.ContentHash {
			result.Issues = append(result.Issues, fmt.Sprintf("Tool %q integrity hash mismatch", entry.ToolID))
		}
	}
	if len(result.Issues) > 0 {
		result.IsValid = false
	}
	return result
}

// ListLockfiles enumerates lockfiles across both scopes, optionally
// filtered by category.
func (s *Store) ListLockfiles(category string) ([]*core.Lockfile, error) {
	var out []*core.Lockfile
	for _, root := range s.scopeRoots() {
		base := filepath.Join(root, "lockfiles")
		categories := []string{category}
		if category == "" {
			entries, err := os.ReadDir(base)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			categories = categories[:0]
			for _, e := range entries {
				if e.IsDir() {
					categories = append(categories, e.Name())
				}
			}
		}
		for _, cat := range categories {
			dir := filepath.Join(base, cat)
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock.json") {
					continue
				}
				lf, err := readLockfile(filepath.Join(dir, e.Name()))
				if err != nil {
					return nil, err
				}
				out = append(out, lf)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	return out, nil
}

// PruneStale removes lockfiles older than maxAgeDays, returning the
// count removed.
func (s *Store) PruneStale(maxAgeDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	removed := 0
	for _, root := range s.scopeRoots() {
		base := filepath.Join(root, "lockfiles")
		err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() || !strings.HasSuffix(path, ".lock.json") {
				return nil
			}
			lf, err := readLockfile(path)
			if err != nil {
				return nil
			}
			if lf.GeneratedAt.Before(cutoff) {
				lockPath := path + ".flock"
				fl := flock.New(lockPath)
				_ = fl.Lock()
				defer fl.Unlock()
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// ChainHash computes a stable hash over the ordered chain, reusing the
// integrity package's canonicalization so chain identity tracks content
// identity (spec.md §4.11).
func ChainHash(chain []core.ChainEntry) (string, error) {
	canonical, err := integrity.Canonicalize(chain)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

func (s *Store) scopeRoots() []string {
	var roots []string
	if s.ProjectRoot != "" {
		roots = append(roots, s.ProjectRoot)
	}
	roots = append(roots, s.UserRoot)
	return roots
}

func (s *Store) pathFor(category, toolID, version, chainHash string) string {
	root := s.ProjectRoot
	if root == "" {
		root = s.UserRoot
	}
	name := fmt.Sprintf("%s@%s.%s.lock.json", toolID, version, chainHash)
	return filepath.Join(root, "lockfiles", category, name)
}

// writeLocked serializes lf to path under an advisory lock, writing via
// temp-file-then-rename so readers never observe a partial write.
func (s *Store) writeLocked(path string, lf *core.Lockfile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lockfile: mkdir %s: %w", dir, err)
	}

	fl := flock.New(path + ".flock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lockfile: acquire lock for %s: %w", path, err)
	}
	defer fl.Unlock()

	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("lockfile: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lockfile-*.tmp")
	if err != nil {
		return fmt.Errorf("lockfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("lockfile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lockfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lockfile: rename into place: %w", err)
	}
	return nil
}

func readLockfile(path string) (*core.Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: read %s: %w", path, err)
	}
	var lf core.Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("lockfile: parse %s: %w", path, err)
	}
	return &lf, nil
}
