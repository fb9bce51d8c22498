// Package telemetry implements the Telemetry Store (C16): a central YAML
// file keyed by tool id, updated under an advisory lock with atomic
// temp-file-then-rename writes (spec.md §4.16, §6). Grounded on the same
// persistence idiom internal/lockfile/store.go uses, which itself
// generalizes nexus's atomic config/session writers.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Outcome enumerates the result of one tool execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// Item is one tool's telemetry record (spec.md §6's `items` schema).
type Item struct {
	Type            string    `yaml:"type"`
	TotalRuns       int64     `yaml:"total_runs"`
	SuccessCount    int64     `yaml:"success_count"`
	FailureCount    int64     `yaml:"failure_count"`
	TimeoutCount    int64     `yaml:"timeout_count"`
	AvgDurationMs   float64   `yaml:"avg_duration_ms"`
	HTTPCalls       int64     `yaml:"http_calls"`
	SubprocessCalls int64     `yaml:"subprocess_calls"`
	LastRun         time.Time `yaml:"last_run"`
	LastOutcome     Outcome   `yaml:"last_outcome"`
	LastError       string    `yaml:"last_error,omitempty"`
	Paths           []string  `yaml:"paths"`
}

// file is the on-disk document shape (spec.md §6).
type file struct {
	Version int             `yaml:"version"`
	Updated time.Time       `yaml:"updated"`
	Items   map[string]Item `yaml:"items"`
}

// Execution is the input to RecordExecution (spec.md §4.16).
type Execution struct {
	ItemID       string
	ItemType     string
	Outcome      Outcome
	DurationMs   int64
	HTTPCalls    int
	SubprocCalls int
	Err          error
	Path         string
}

// Store is the telemetry store. Enabled gates every write per spec.md
// §4.16: "Telemetry is opt-in; when disabled, no writes occur."
type Store struct {
	Path    string
	Enabled bool
}

// NewStore builds a Store writing to path (typically
// $USER_PATH/telemetry.yaml).
func NewStore(path string, enabled bool) *Store {
	return &Store{Path: path, Enabled: enabled}
}

// RecordExecution updates item_id's counters under an advisory lock,
// writing the whole file via temp-file-and-rename, mode 0600
// (spec.md §4.16).
func (s *Store) RecordExecution(exec Execution) error {
	if s == nil || !s.Enabled {
		return nil
	}
	return s.withLock(func(doc *file) {
		item := doc.Items[exec.ItemID]
		item.Type = exec.ItemType
		item.TotalRuns++
		switch exec.Outcome {
		case OutcomeSuccess:
			item.SuccessCount++
		case OutcomeTimeout:
			item.TimeoutCount++
		default:
			item.FailureCount++
		}
		item.HTTPCalls += int64(exec.HTTPCalls)
		item.SubprocessCalls += int64(exec.SubprocCalls)
		item.LastRun = time.Now().UTC()
		item.LastOutcome = exec.Outcome
		if exec.Err != nil {
			item.LastError = exec.Err.Error()
		} else {
			item.LastError = ""
		}
		if exec.Path != "" && !containsString(item.Paths, exec.Path) {
			item.Paths = append(item.Paths, exec.Path)
		}
		updateWelford(&item, float64(exec.DurationMs))
		doc.Items[exec.ItemID] = item
	})
}

// Get returns the record for itemID, if any.
func (s *Store) Get(itemID string) (Item, bool, error) {
	doc, err := s.read()
	if err != nil {
		return Item{}, false, err
	}
	item, ok := doc.Items[itemID]
	return item, ok, nil
}

// Clear removes itemID's record, or every record when itemID is empty.
func (s *Store) Clear(itemID string) error {
	return s.withLock(func(doc *file) {
		if itemID == "" {
			doc.Items = map[string]Item{}
			return
		}
		delete(doc.Items, itemID)
	})
}

// updateWelford applies Welford's online algorithm for a running mean to
// item.AvgDurationMs, using TotalRuns (already incremented by the
// caller) as the sample count n (spec.md §4.16).
func updateWelford(item *Item, sample float64) {
	n := float64(item.TotalRuns)
	if n <= 0 {
		return
	}
	item.AvgDurationMs += (sample - item.AvgDurationMs) / n
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) read() (*file, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return &file{Version: 1, Items: map[string]Item{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: read %s: %w", s.Path, err)
	}
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("telemetry: parse %s: %w", s.Path, err)
	}
	if doc.Items == nil {
		doc.Items = map[string]Item{}
	}
	return &doc, nil
}

// withLock reads the file under an advisory lock, applies mutate, and
// writes the result back atomically at mode 0600.
func (s *Store) withLock(mutate func(doc *file)) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("telemetry: mkdir %s: %w", dir, err)
	}

	fl := flock.New(s.Path + ".flock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("telemetry: acquire lock: %w", err)
	}
	defer fl.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Version = 1
	mutate(doc)
	doc.Updated = time.Now().UTC()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("telemetry: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".telemetry-*.tmp")
	if err != nil {
		return fmt.Errorf("telemetry: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("telemetry: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("telemetry: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("telemetry: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("telemetry: rename into place: %w", err)
	}
	return nil
}
