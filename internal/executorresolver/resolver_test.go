package executorresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func TestResolveFindsInFirstRoot(t *testing.T) {
	projectRoot := t.TempDir()
	userRoot := t.TempDir()
	nested := filepath.Join(projectRoot, "runtimes")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	toolPath := filepath.Join(nested, "python_runtime.py")
	require.NoError(t, os.WriteFile(toolPath, []byte("# runtime"), 0o644))

	r := NewResolver(projectRoot, userRoot)
	resolved, err := r.Resolve("python_runtime")
	require.NoError(t, err)
	require.Equal(t, toolPath, resolved)
}

func TestResolveFallsBackToUserScope(t *testing.T) {
	projectRoot := t.TempDir()
	userRoot := t.TempDir()
	toolPath := filepath.Join(userRoot, "subprocess.py")
	require.NoError(t, os.WriteFile(toolPath, []byte("# primitive"), 0o644))

	r := NewResolver(projectRoot, userRoot)
	resolved, err := r.Resolve("subprocess")
	require.NoError(t, err)
	require.Equal(t, toolPath, resolved)
}

func TestResolveReturnsExecutorNotFound(t *testing.T) {
	r := NewResolver(t.TempDir())
	_, err := r.Resolve("nonexistent")
	require.Error(t, err)
	var notFound *core.ExecutorNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "nonexistent", notFound.ExecutorID)
}
