package envresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func TestResolveVenvPythonFindsInProjectRoot(t *testing.T) {
	projectRoot := t.TempDir()
	venvBin := filepath.Join(projectRoot, ".venv", "bin")
	require.NoError(t, os.MkdirAll(venvBin, 0o755))
	pythonPath := filepath.Join(venvBin, "python")
	require.NoError(t, os.WriteFile(pythonPath, []byte("#!/bin/sh"), 0o755))

	r := NewResolver(ScopeRoot{Scope: "project", Path: projectRoot})
	env, err := r.Resolve(core.EnvConfig{
		Interpreter: core.InterpreterConfig{
			Kind:     core.InterpreterVenvPython,
			Var:      "RYE_PYTHON",
			Roots:    []string{"project", "user"},
			Fallback: "python3",
		},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, pythonPath, env["RYE_PYTHON"])
}

func TestResolveVenvPythonFallsBackWhenMissing(t *testing.T) {
	r := NewResolver(ScopeRoot{Scope: "project", Path: t.TempDir()})
	env, err := r.Resolve(core.EnvConfig{
		Interpreter: core.InterpreterConfig{
			Kind:     core.InterpreterVenvPython,
			Var:      "RYE_PYTHON",
			Roots:    []string{"project"},
			Fallback: "python3",
		},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "python3", env["RYE_PYTHON"])
}

func TestResolveObservesEnvironmentChangesBetweenCalls(t *testing.T) {
	t.Setenv("KIWI_TEST_VAR", "A")
	r := NewResolver()
	cfg := core.EnvConfig{
		Interpreter: core.InterpreterConfig{Kind: core.InterpreterPathBinary, Fallback: "true"},
		Env:         map[string]string{"OUT": "${KIWI_TEST_VAR}"},
	}

	first, err := r.Resolve(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "A", first["OUT"])

	t.Setenv("KIWI_TEST_VAR", "B")
	second, err := r.Resolve(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "B", second["OUT"])
}

func TestResolvePathBinaryUsesLookupPath(t *testing.T) {
	r := NewResolver()
	r.LookupPath = func(name string) (string, error) {
		return "/usr/bin/" + name, nil
	}
	env, err := r.Resolve(core.EnvConfig{
		Interpreter: core.InterpreterConfig{Kind: core.InterpreterPathBinary, Var: "BIN", Fallback: "node"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/node", env["BIN"])
}
