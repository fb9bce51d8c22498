package lockfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func execID(s string) *string { return &s }

func TestFreezeAndGetLockfileRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	root := core.ChainEntry{ToolID: "my_tool", Version: "1.0.0", ContentHash: "abc", ExecutorID: execID("python_runtime")}
	chain := []core.ChainEntry{
		root,
		{ToolID: "python_runtime", Version: "1.0.0", ContentHash: "def", ExecutorID: execID("subprocess")},
		{ToolID: "subprocess", Version: "1.0.0", ContentHash: "ghi"},
	}

	lf, err := store.FreezeChain(root, chain, "scripts")
	require.NoError(t, err)
	require.Len(t, lf.ResolvedChain, 3)

	loaded, found, err := store.GetLockfile("my_tool", "1.0.0", "scripts")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, lf.Root.ToolID, loaded.Root.ToolID)
}

func TestGetLockfilePrefersProjectScope(t *testing.T) {
	projectRoot := t.TempDir()
	userRoot := t.TempDir()
	store := NewStore(projectRoot, userRoot)

	root := core.ChainEntry{ToolID: "my_tool", Version: "1.0.0", ContentHash: "project-hash"}
	_, err := store.FreezeChain(root, []core.ChainEntry{root}, "scripts")
	require.NoError(t, err)

	userOnlyStore := NewStore("", userRoot)
	userRootEntry := core.ChainEntry{ToolID: "my_tool", Version: "1.0.0", ContentHash: "user-hash"}
	_, err = userOnlyStore.FreezeChain(userRootEntry, []core.ChainEntry{userRootEntry}, "scripts")
	require.NoError(t, err)

	loaded, found, err := store.GetLockfile("my_tool", "1.0.0", "scripts")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "project-hash", loaded.Root.ContentHash)
}

func TestValidateLockfileDetectsDrift(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	entries := []core.ChainEntry{
		{ToolID: "T", Version: "1.0.0", ContentHash: "original"},
		{ToolID: "D", Version: "1.0.0", ContentHash: "original-d"},
	}
	lf := &core.Lockfile{Root: entries[0], ResolvedChain: entries}

	drifted := []core.ChainEntry{
		{ToolID: "T", Version: "1.0.0", ContentHash: "original"},
		{ToolID: "D", Version: "1.0.0", ContentHash: "modified-d"},
	}
	result := store.ValidateLockfile(lf, drifted)
	require.False(t, result.IsValid)
	require.Contains(t, result.Issues[0], "D")
}

func TestPruneStaleRemovesOldLockfiles(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	root := core.ChainEntry{ToolID: "old_tool", Version: "1.0.0", ContentHash: "x"}
	lf, err := store.FreezeChain(root, []core.ChainEntry{root}, "scripts")
	require.NoError(t, err)

	path := store.pathFor("scripts", root.ToolID, root.Version, mustChainHash(t, []core.ChainEntry{root}))
	lf.GeneratedAt = time.Now().AddDate(0, 0, -100)
	require.NoError(t, store.writeLocked(path, lf))

	removed, err := store.PruneStale(30)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	lockfiles, err := store.ListLockfiles("scripts")
	require.NoError(t, err)
	require.Empty(t, lockfiles)
}

func mustChainHash(t *testing.T, chain []core.ChainEntry) string {
	t.Helper()
	hash, err := ChainHash(chain)
	require.NoError(t, err)
	return hash
}
