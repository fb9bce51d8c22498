// Package integrity computes canonical content hashes over tool
// manifests and file tables (C1), and verifies the inline signature line
// a tool file may carry.
package integrity

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

// FileEntry is one row of the sorted file table hashed alongside a
// manifest.
type FileEntry struct {
	Path         string
	SHA256       string
	IsExecutable bool
}

// signatureLine matches "# kiwi-mcp:validated:<ISO-8601-UTC>Z:<sha256-hex>"
// (spec.md §6). It must be excluded from hashed content.
var signatureLine = regexp.MustCompile(`^#\s*kiwi-mcp:validated:([0-9TZ:\.\-]+Z):([0-9a-f]{64})\s*$`)

// Canonicalize serializes a manifest as JSON with map keys in sorted
// order (spec.md §4.1). json.Marshal escapes CR and LF inside string
// values, so the CRLF replacement on the encoded text below changes
// nothing: line endings inside manifest strings are hashed as given.
func Canonicalize(manifest any) ([]byte, error) {
	// Round-trip through a generic map so json.Marshal's deterministic key
	// sort (Go always marshals map[string]any keys in sorted order) gives
	// us canonical ordering regardless of the input struct's field order.
	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal manifest: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize: round-trip manifest: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal canonical: %w", err)
	}
	normalized := strings.ReplaceAll(string(canonical), "\r\n", "\n")
	return []byte(normalized), nil
}

// SortedFileTable renders entries as a newline-joined
// "path‖sha256‖is_executable" sequence in lexicographic path order
// (spec.md §4.1).
func SortedFileTable(entries []FileEntry) []byte {
	sorted := make([]FileEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var b strings.Builder
	for i, e := range sorted {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s‖%s‖%t", e.Path, e.SHA256, e.IsExecutable)
	}
	return []byte(b.String())
}

// ContentHash computes SHA-256(canonicalize(manifest) || 0x00 || sorted_file_table).
func ContentHash(manifest any, entries []FileEntry) (string, error) {
	canonical, err := Canonicalize(manifest)
	if err != nil {
		return "", err
	}
	table := SortedFileTable(entries)

	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte{0x00})
	h.Write(table)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile computes the SHA-256 of a file's contents, skipping any line
// that matches the inline signature so the signature doesn't hash itself.
func HashFile(path string) (sha string, isExecutable bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false, &core.IntegrityError{ToolID: path, Reason: err.Error()}
	}
	isExecutable = info.Mode()&0o111 != 0

	f, err := os.Open(path)
	if err != nil {
		return "", false, &core.IntegrityError{ToolID: path, Reason: err.Error()}
	}
	defer f.Close()

	h := sha256.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first && signatureLine.MatchString(line) {
			first = false
			continue
		}
		first = false
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	if err := scanner.Err(); err != nil {
		return "", false, &core.IntegrityError{ToolID: path, Reason: err.Error()}
	}
	return hex.EncodeToString(h.Sum(nil)), isExecutable, nil
}

// BuildFileTable hashes every file under root (recursively) into a
// FileEntry table suitable for ContentHash, using paths relative to root.
func BuildFileTable(root string) ([]FileEntry, error) {
	var entries []FileEntry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sha, exec, err := HashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{Path: filepath.ToSlash(rel), SHA256: sha, IsExecutable: exec})
		return nil
	})
	if err != nil {
		return nil, &core.IntegrityError{ToolID: root, Reason: err.Error()}
	}
	return entries, nil
}

// ParseSignature extracts the timestamp and hash hex from a tool's first
// line, if present.
func ParseSignature(firstLine string) (timestamp string, hashHex string, ok bool) {
	m := signatureLine.FindStringSubmatch(firstLine)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// FormatSignature renders a signature line for a freshly computed hash.
func FormatSignature(hashHex string, at time.Time) string {
	return fmt.Sprintf("# kiwi-mcp:validated:%sZ:%s", at.UTC().Format("2006-01-02T15:04:05"), hashHex)
}

// VerifySignature recomputes the SHA-256 of a file's body (excluding the
// signature line) and compares it against the hex embedded in the
// signature line. Returns an IntegrityError on any mismatch.
func VerifySignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &core.IntegrityError{ToolID: path, Reason: err.Error()}
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	firstLine, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return &core.IntegrityError{ToolID: path, Reason: err.Error()}
	}
	_, hashHex, ok := ParseSignature(strings.TrimRight(firstLine, "\n"))
	if !ok {
		return &core.IntegrityError{ToolID: path, Reason: "missing or malformed signature line"}
	}

	computed, _, err := HashFile(path)
	if err != nil {
		return err
	}
	if computed != hashHex {
		return &core.IntegrityError{ToolID: path, Reason: "signature hash mismatch"}
	}
	return nil
}
