package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileFormat enumerates the two on-disk encodings a FileSink supports.
type FileFormat string

const (
	FileFormatJSONL FileFormat = "jsonl"
	FileFormatRaw   FileFormat = "raw"
)

// DefaultFlushEvery matches spec.md §4.5's FileSink default.
const DefaultFlushEvery = 10

// FileSink appends streamed events to a file, creating parent directories
// as needed (spec.md §4.5). In jsonl mode each event is parsed as JSON and
// re-encoded canonically; invalid JSON falls back to a raw line.
type FileSink struct {
	mu         sync.Mutex
	format     FileFormat
	flushEvery int
	file       *os.File
	writer     *bufio.Writer
	sinceFlush int
}

// NewFileSink opens path for appending, creating parent directories.
// flushEvery <= 0 falls back to DefaultFlushEvery.
func NewFileSink(path string, format FileFormat, flushEvery int) (*FileSink, error) {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	if format != FileFormatJSONL && format != FileFormatRaw {
		format = FileFormatJSONL
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("file sink: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file sink: open %s: %w", path, err)
	}
	return &FileSink{
		format:     format,
		flushEvery: flushEvery,
		file:       f,
		writer:     bufio.NewWriter(f),
	}, nil
}

// Write appends one event as a line.
func (s *FileSink) Write(event []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := event
	if s.format == FileFormatJSONL {
		var decoded any
		if err := json.Unmarshal(event, &decoded); err == nil {
			if canonical, err := json.Marshal(decoded); err == nil {
				line = canonical
			}
		}
	}
	if _, err := s.writer.Write(line); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	s.sinceFlush++
	if s.sinceFlush >= s.flushEvery {
		s.sinceFlush = 0
		return s.writer.Flush()
	}
	return nil
}

// Close flushes any buffered bytes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// Type identifies this sink kind.
func (s *FileSink) Type() string { return "file" }
