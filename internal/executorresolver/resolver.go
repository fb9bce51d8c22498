// Package executorresolver implements the filesystem search for a named
// executor across scoped tool roots (C9). There is no hardcoded list of
// executor names: every lookup walks the filesystem and matches on file
// stem (spec.md §4.9).
package executorresolver

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

// Resolver searches a scope-ordered list of tool roots for a file whose
// stem matches the requested executor_id.
type Resolver struct {
	// Roots are searched in order; project scope first, user scope
	// second, matching spec.md §4.9's "project, then user" precedence.
	Roots []string
}

// NewResolver builds a resolver over the given roots, in search order.
func NewResolver(roots ...string) *Resolver {
	return &Resolver{Roots: roots}
}

// Resolve finds the file path for executorID, searching each root
// recursively and stopping at the first match (pruning further descent
// once found). Returns core.ExecutorNotFoundError if no root yields a
// match.
func (r *Resolver) Resolve(executorID string) (string, error) {
	for _, root := range r.Roots {
		path, found, err := searchRoot(root, executorID)
		if err != nil {
			return "", fmt.Errorf("executorresolver: search %s: %w", root, err)
		}
		if found {
			return path, nil
		}
	}
	return "", &core.ExecutorNotFoundError{ExecutorID: executorID}
}

// searchRoot recursively walks root, looking for a file whose stem
// matches executorID. Walking stops at the first match.
func searchRoot(root, executorID string) (string, bool, error) {
	var match string
	found := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				// root itself doesn't exist; treat as no match in this scope.
				return filepath.SkipAll
			}
			return err
		}
		if found {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if stem == executorID {
			match = path
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return "", false, err
	}
	return match, found, nil
}
