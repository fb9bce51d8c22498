// Package threadregistry implements the Thread Registry (C17): a
// persistent record of live agent threads, hydratable across process
// restarts and addressable by the intervention surface (pause, resume,
// inject_message) (spec.md §4.17). Grounded on the same lockfile/
// telemetry atomic-write idiom, since the registry is one of the three
// process-global singletons spec.md §9 calls out as shared mutable
// state.
package threadregistry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

// Status enumerates the Thread state machine's states (spec.md §4.18
// State machines).
type Status string

const (
	StatusInit      Status = "init"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Thread is one registry entry (spec.md §4.17).
type Thread struct {
	ThreadID       string        `yaml:"thread_id"`
	DirectiveID    string        `yaml:"directive_id"`
	Status         Status        `yaml:"status"`
	CostBudget     core.Limits   `yaml:"cost_budget"`
	TotalUsage     core.CostLedger `yaml:"total_usage"`
	ParentThreadID string        `yaml:"parent_thread_id,omitempty"`
	CreatedAt      time.Time     `yaml:"created_at"`
	LastEventAt    time.Time     `yaml:"last_event_at"`
}

// terminal reports whether status is one of the three terminal states.
func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

type document struct {
	Threads map[string]Thread `yaml:"threads"`
}

// Registry persists thread state at Path under an advisory lock.
type Registry struct {
	Path string
}

// NewRegistry builds a Registry writing to path (typically
// $USER_PATH/threads.yaml).
func NewRegistry(path string) *Registry {
	return &Registry{Path: path}
}

// Create registers a new thread in the init state (spec.md §4.17, §4.18
// State machines: "init -> running").
func (r *Registry) Create(directiveID string, budget core.Limits, parentThreadID string) (*Thread, error) {
	t := &Thread{
		ThreadID:       uuid.NewString(),
		DirectiveID:    directiveID,
		Status:         StatusInit,
		CostBudget:     budget,
		ParentThreadID: parentThreadID,
		CreatedAt:      time.Now().UTC(),
		LastEventAt:    time.Now().UTC(),
	}
	if err := r.save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Transition moves threadID to status and persists its cost ledger.
// Terminal states release the owning capability token and finalize
// telemetry (callers are responsible for both; the registry only
// records the state change).
func (r *Registry) Transition(threadID string, status Status, usage core.CostLedger) error {
	return r.withLock(func(doc *document) error {
		t, ok := doc.Threads[threadID]
		if !ok {
			return fmt.Errorf("threadregistry: unknown thread %s", threadID)
		}
		if t.Status.terminal() {
			return fmt.Errorf("threadregistry: thread %s already terminal (%s)", threadID, t.Status)
		}
		t.Status = status
		t.TotalUsage = usage
		t.LastEventAt = time.Now().UTC()
		doc.Threads[threadID] = t
		return nil
	})
}

// Pause moves a running thread to paused (spec.md §4.18: "paused is
// entered via inject_message(pause)").
func (r *Registry) Pause(threadID string) error {
	return r.withLock(func(doc *document) error {
		t, ok := doc.Threads[threadID]
		if !ok {
			return fmt.Errorf("threadregistry: unknown thread %s", threadID)
		}
		if t.Status != StatusRunning {
			return fmt.Errorf("threadregistry: cannot pause thread %s in state %s", threadID, t.Status)
		}
		t.Status = StatusPaused
		t.LastEventAt = time.Now().UTC()
		doc.Threads[threadID] = t
		return nil
	})
}

// Resume moves a paused thread back to running ("exited via resume").
func (r *Registry) Resume(threadID string) error {
	return r.withLock(func(doc *document) error {
		t, ok := doc.Threads[threadID]
		if !ok {
			return fmt.Errorf("threadregistry: unknown thread %s", threadID)
		}
		if t.Status != StatusPaused {
			return fmt.Errorf("threadregistry: cannot resume thread %s in state %s", threadID, t.Status)
		}
		t.Status = StatusRunning
		t.LastEventAt = time.Now().UTC()
		doc.Threads[threadID] = t
		return nil
	})
}

// Get returns the thread record for threadID, hydrating from disk so a
// restarted process recovers live threads (spec.md §4.17).
func (r *Registry) Get(threadID string) (*Thread, bool, error) {
	doc, err := r.read()
	if err != nil {
		return nil, false, err
	}
	t, ok := doc.Threads[threadID]
	if !ok {
		return nil, false, nil
	}
	return &t, true, nil
}

// List returns every registered thread, live and terminal.
func (r *Registry) List() ([]Thread, error) {
	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	out := make([]Thread, 0, len(doc.Threads))
	for _, t := range doc.Threads {
		out = append(out, t)
	}
	return out, nil
}

func (r *Registry) save(t *Thread) error {
	return r.withLock(func(doc *document) error {
		doc.Threads[t.ThreadID] = *t
		return nil
	})
}

func (r *Registry) read() (*document, error) {
	data, err := os.ReadFile(r.Path)
	if os.IsNotExist(err) {
		return &document{Threads: map[string]Thread{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("threadregistry: read %s: %w", r.Path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("threadregistry: parse %s: %w", r.Path, err)
	}
	if doc.Threads == nil {
		doc.Threads = map[string]Thread{}
	}
	return &doc, nil
}

func (r *Registry) withLock(mutate func(doc *document) error) error {
	dir := filepath.Dir(r.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("threadregistry: mkdir %s: %w", dir, err)
	}

	fl := flock.New(r.Path + ".flock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("threadregistry: acquire lock: %w", err)
	}
	defer fl.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	if err := mutate(doc); err != nil {
		return err
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("threadregistry: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".threads-*.tmp")
	if err != nil {
		return fmt.Errorf("threadregistry: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("threadregistry: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("threadregistry: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("threadregistry: rename into place: %w", err)
	}
	return nil
}
