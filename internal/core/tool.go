// Package core holds the data model shared by every subsystem of the
// kernel: tools, resolved chains, lockfiles, capability sets, events and
// the error taxonomy.
package core

import (
	"encoding/json"
	"time"
)

// ToolType enumerates the recognized tool flavors. Only "primitive" tools
// may have a nil ExecutorID.
type ToolType string

const (
	ToolTypePrimitive  ToolType = "primitive"
	ToolTypeRuntime    ToolType = "runtime"
	ToolTypePython     ToolType = "python"
	ToolTypeAPI        ToolType = "api"
	ToolTypeMCPServer  ToolType = "mcp_server"
	ToolTypeMCPTool    ToolType = "mcp_tool"
	ToolTypeLibrary    ToolType = "library"
)

// MaxChainDepth bounds the executor chain walk (invariant c, spec.md §3).
const MaxChainDepth = 10

// EnvConfig declares how a runtime tool resolves an interpreter and which
// variables it exports to the downstream hop.
type EnvConfig struct {
	Interpreter InterpreterConfig `json:"interpreter" yaml:"interpreter"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// InterpreterKind enumerates the two interpreter resolution strategies C7
// recognizes.
type InterpreterKind string

const (
	InterpreterVenvPython  InterpreterKind = "venv_python"
	InterpreterPathBinary  InterpreterKind = "path_binary"
)

// InterpreterConfig is the ENV_CONFIG.interpreter block.
type InterpreterConfig struct {
	Kind     InterpreterKind `json:"kind" yaml:"kind"`
	Var      string          `json:"var" yaml:"var"`
	Roots    []string        `json:"roots,omitempty" yaml:"roots,omitempty"`
	Fallback string          `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Tool is the addressable unit on disk, as produced by the metadata
// parser (C8).
type Tool struct {
	ToolID       string          `json:"tool_id"`
	Path         string          `json:"path"`
	ToolType     ToolType        `json:"tool_type"`
	ExecutorID   *string         `json:"executor_id"`
	Category     string          `json:"category"`
	Version      string          `json:"version"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	Config       map[string]any  `json:"config,omitempty"`
	EnvConfig    *EnvConfig      `json:"env_config,omitempty"`
	Requires     []string        `json:"requires,omitempty"`
	ContentHash  string          `json:"content_hash"`
}

// IsPrimitive reports whether a tool terminates a chain.
func (t *Tool) IsPrimitive() bool {
	return t != nil && t.ExecutorID == nil
}

// ChainEntry is one hop of a ResolvedChain.
type ChainEntry struct {
	ToolID      string          `json:"tool_id"`
	Version     string          `json:"version"`
	ContentHash string          `json:"content_hash"`
	ExecutorID  *string         `json:"executor_id,omitempty"`
	Manifest    json.RawMessage `json:"manifest,omitempty"`
}

// ResolvedChain is the ordered [leaf, ..., primitive] walk produced by C12
// and validated by C10.
type ResolvedChain struct {
	Entries []ChainEntry `json:"entries"`
}

// Depth returns the number of hops in the chain.
func (c ResolvedChain) Depth() int {
	return len(c.Entries)
}

// Terminal returns the last entry, or false if the chain is empty.
func (c ResolvedChain) Terminal() (ChainEntry, bool) {
	if len(c.Entries) == 0 {
		return ChainEntry{}, false
	}
	return c.Entries[len(c.Entries)-1], true
}

// Registry describes where a lockfile's chain was resolved from, if it
// came from a remote tool registry rather than the local filesystem.
type Registry struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Lockfile is the frozen record of a resolved chain (spec.md §3, §6).
type Lockfile struct {
	LockfileVersion int           `json:"lockfile_version"`
	GeneratedAt     time.Time     `json:"generated_at"`
	Root            ChainEntry    `json:"root"`
	ResolvedChain   []ChainEntry  `json:"resolved_chain"`
	Registry        *Registry     `json:"registry,omitempty"`
}

// Capability is a `<resource>.<action>` string, e.g. "fs.read".
type Capability string

// EventName enumerates the harness checkpoint names.
type EventName string

const (
	EventBeforeStep EventName = "before_step"
	EventAfterStep  EventName = "after_step"
	EventOnError    EventName = "on_error"
	EventOnLimit    EventName = "on_limit"
)

// Event is the checkpoint payload handed to hooks.
type Event struct {
	Name   EventName      `json:"name"`
	Code   string         `json:"code"`
	Detail map[string]any `json:"detail,omitempty"`
}

// HookAction is the action a hook directive can return.
type HookAction string

const (
	ActionRetry    HookAction = "retry"
	ActionContinue HookAction = "continue"
	ActionSkip     HookAction = "skip"
	ActionFail     HookAction = "fail"
	ActionAbort    HookAction = "abort"
)

// CostLedger tracks per-thread running counters. All fields are
// monotonic for the lifetime of a thread (spec.md §8.5).
type CostLedger struct {
	Turns           int     `json:"turns"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	TokensTotal     int64   `json:"tokens_total"`
	Spawns          int     `json:"spawns"`
	DurationSeconds float64 `json:"duration_seconds"`
	SpendUSD        float64 `json:"spend_usd"`
}

// Limits declares the per-axis budgets from directive metadata. A zero
// value means "unbounded" for that axis.
type Limits struct {
	Turns         int     `json:"turns,omitempty" yaml:"turns,omitempty"`
	Tokens        int64   `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Spawns        int     `json:"spawns,omitempty" yaml:"spawns,omitempty"`
	DurationSecs  float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Spend         float64 `json:"spend,omitempty" yaml:"spend,omitempty"`
	SpendCurrency string  `json:"spend_currency,omitempty" yaml:"spend_currency,omitempty"`
}

// HookDecl is a single hook declaration from directive metadata.
type HookDecl struct {
	When      string            `json:"when"`
	Directive string            `json:"directive"`
	Inputs    map[string]string `json:"inputs,omitempty"`
}
