package integrity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContentHashDeterministic(t *testing.T) {
	manifest := map[string]any{"b": 2, "a": 1}
	entries := []FileEntry{
		{Path: "b.py", SHA256: "bb", IsExecutable: false},
		{Path: "a.py", SHA256: "aa", IsExecutable: true},
	}

	h1, err := ContentHash(manifest, entries)
	require.NoError(t, err)
	h2, err := ContentHash(manifest, entries)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	// Byte-level mutation of any entry must change the hash.
	entries[0].SHA256 = "cc"
	h3, err := ContentHash(manifest, entries)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestContentHashKeyOrderIndependent(t *testing.T) {
	m1 := map[string]any{"a": 1, "b": 2}
	m2 := map[string]any{"b": 2, "a": 1}
	entries := []FileEntry{{Path: "x", SHA256: "x", IsExecutable: false}}

	h1, err := ContentHash(m1, entries)
	require.NoError(t, err)
	h2, err := ContentHash(m2, entries)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestHashFileExcludesSignatureLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool.py")

	body := "print('hello')\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	unsignedHash, _, err := HashFile(path)
	require.NoError(t, err)

	signed := FormatSignature(unsignedHash, time.Now()) + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(signed), 0o644))

	signedHash, _, err := HashFile(path)
	require.NoError(t, err)
	require.Equal(t, unsignedHash, signedHash)

	require.NoError(t, VerifySignature(path))
}

func TestVerifySignatureMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool.py")

	signed := FormatSignature("0000000000000000000000000000000000000000000000000000000000000000", time.Now()) + "\nprint(1)\n"
	require.NoError(t, os.WriteFile(path, []byte(signed), 0o644))

	err := VerifySignature(path)
	require.Error(t, err)
}

func TestBuildFileTableLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("a"), 0o644))

	entries, err := BuildFileTable(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	table := SortedFileTable(entries)
	require.Contains(t, string(table), "a.py")
	require.Equal(t, byte('a'), table[0]) // a.py sorts before b.py
}
