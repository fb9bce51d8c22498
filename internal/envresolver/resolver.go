// Package envresolver evaluates a runtime tool's ENV_CONFIG at execution
// time (C7): resolves an interpreter per spec.md §4.7 and expands
// `${VAR}` templates across the declared env table. Resolution is
// invoked fresh at every runtime hop — never cached across calls — so
// environment changes between hops (an activated venv, an edited PATH)
// are observed, per the hard contract in spec.md §4.7 and property 9 of
// spec.md §8.
package envresolver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
	"github.com/leolilley/kiwi-mcp-sub008/internal/envtemplate"
)

// ScopeRoot pairs a roots entry ("project", "user", "kiwi", "system")
// with its filesystem path, so callers control scope→path mapping
// without this package hardcoding directory layouts.
type ScopeRoot struct {
	Scope string
	Path  string
}

// Resolver resolves interpreters and expands env tables. LookupPath
// defaults to exec.LookPath; tests may override it.
type Resolver struct {
	ScopeRoots []ScopeRoot
	LookupPath func(string) (string, error)
}

// NewResolver builds a resolver over scopeRoots, in the order they
// should be searched for a venv interpreter.
func NewResolver(scopeRoots ...ScopeRoot) *Resolver {
	return &Resolver{ScopeRoots: scopeRoots, LookupPath: exec.LookPath}
}

// Resolve evaluates cfg against the current process environment (plus
// any overlay already accumulated from upstream hops) and returns the
// fully resolved env map for the downstream primitive; when
// cfg.Interpreter.Var is set, the map includes its interpreter binding.
func (r *Resolver) Resolve(cfg core.EnvConfig, overlay map[string]string) (map[string]string, error) {
	merged := mergeEnv(overlay)

	bound, err := r.resolveInterpreter(cfg.Interpreter, merged)
	if err != nil {
		return nil, err
	}
	if cfg.Interpreter.Var != "" {
		merged[cfg.Interpreter.Var] = bound
	}

	out := make(map[string]string, len(cfg.Env)+len(merged))
	for k, v := range merged {
		out[k] = v
	}
	lookup := envtemplate.MapLookup(merged)
	for k, v := range cfg.Env {
		out[k] = envtemplate.Expand(v, lookup)
	}
	return out, nil
}

func (r *Resolver) resolveInterpreter(cfg core.InterpreterConfig, env map[string]string) (string, error) {
	switch cfg.Kind {
	case core.InterpreterVenvPython:
		return r.resolveVenvPython(cfg, env)
	case core.InterpreterPathBinary:
		return r.resolvePathBinary(cfg)
	default:
		return "", fmt.Errorf("envresolver: unknown interpreter kind %q", cfg.Kind)
	}
}

// resolveVenvPython searches cfg.Roots in declared order for a
// virtualenv Python under each scope root, falling back to
// cfg.Fallback (spec.md §4.7).
func (r *Resolver) resolveVenvPython(cfg core.InterpreterConfig, env map[string]string) (string, error) {
	for _, wantScope := range cfg.Roots {
		for _, scopeRoot := range r.ScopeRoots {
			if scopeRoot.Scope != wantScope {
				continue
			}
			candidate := filepath.Join(scopeRoot.Path, ".venv", "bin", "python")
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	if cfg.Fallback != "" {
		return cfg.Fallback, nil
	}
	return "", fmt.Errorf("envresolver: no venv python found in roots %v and no fallback declared", cfg.Roots)
}

// resolvePathBinary resolves a binary via PATH, honoring Fallback
// similarly (spec.md §4.7).
func (r *Resolver) resolvePathBinary(cfg core.InterpreterConfig) (string, error) {
	if cfg.Var == "" && cfg.Fallback == "" {
		return "", fmt.Errorf("envresolver: path_binary interpreter requires var or fallback")
	}
	if resolved, err := r.LookupPath(cfg.Fallback); err == nil {
		return resolved, nil
	}
	if cfg.Fallback != "" {
		return cfg.Fallback, nil
	}
	return "", fmt.Errorf("envresolver: no binary found on PATH and no fallback declared")
}

// mergeEnv snapshots the current process environment into a map,
// overlaying any already-resolved variables from upstream hops.
func mergeEnv(overlay map[string]string) map[string]string {
	out := make(map[string]string, len(os.Environ())+len(overlay))
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
