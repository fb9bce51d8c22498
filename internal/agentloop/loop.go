// Package agentloop implements the Agent Loop (C18): drives LLM turns,
// dispatches tool calls through the Safety Harness and the Universal
// Executor, and injects results back into the transcript (spec.md
// §4.18). The wire-level LLM request/response protocol is an external
// collaborator (spec.md §1's "MCP request/response wire layer" is out of
// scope); this package only depends on the small Provider interface
// below, grounded on nexus's internal/agent AgenticLoop shape
// (loop.go) generalized from nexus's multi-provider abstraction to a
// single seam the harness and executor sit behind.
package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/leolilley/kiwi-mcp-sub008/internal/backoff"
	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
	"github.com/leolilley/kiwi-mcp-sub008/internal/executor"
	"github.com/leolilley/kiwi-mcp-sub008/internal/harness"
	"github.com/leolilley/kiwi-mcp-sub008/internal/observability"
)

// defaultMaxProviderRetries bounds hook action `retry` at the loop
// boundary (spec.md §4.15 step 4's `retry` action) when Loop.MaxProviderRetries
// is unset.
const defaultMaxProviderRetries = 3

// Message is one transcript entry exchanged with the provider.
type Message struct {
	Role       string // user|assistant|tool
	Text       string
	ToolCallID string
	ToolName   string
	ToolInput  map[string]any
	ToolResult any
}

// ToolCall is one tool invocation the provider's response asked for.
type ToolCall struct {
	ID     string
	Name   string
	Input  map[string]any
	Params executor.Request
}

// Response is one LLM turn's output.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     harness.Usage
	Done      bool // true when the provider signals no further turns needed
}

// Provider drives a single LLM turn given the transcript so far and the
// tool specifications currently exposed to it.
type Provider interface {
	Turn(ctx context.Context, model string, transcript []Message, tools []ToolSpec) (Response, error)
}

// ToolSpec is the provider-facing description of one callable tool, after
// capability filtering (spec.md §4.18: "Tools exposed to the LLM are
// filtered by the active capability token").
type ToolSpec struct {
	ToolID      string
	Path        string
	Description string
	Requires    []string
}

// FinalStatus mirrors the Thread state machine's terminal states
// (spec.md §4.18 State machines).
type FinalStatus string

const (
	StatusSucceeded FinalStatus = "succeeded"
	StatusFailed    FinalStatus = "failed"
	StatusAborted   FinalStatus = "aborted"
)

// Result is the structured final object the harness returns when a
// thread ends (spec.md §7: "{status, error?, cost, last_event}").
type Result struct {
	Status    FinalStatus
	Error     error
	Cost      core.CostLedger
	LastEvent *core.Event
}

// CompletionMarker decides whether a turn's text-only response means the
// thread is done (spec.md §4.18 step (e)). Tool-specific; supplied by
// the caller.
type CompletionMarker func(text string) bool

// Loop drives one thread's turns.
type Loop struct {
	Harness   *harness.Harness
	Executor  *executor.Executor
	Provider  Provider
	Logger    *observability.Logger
	Model     string
	Tools     []ToolSpec
	Completed CompletionMarker

	MaxIterations int

	// Backoff paces hook action `retry`'s re-issued provider turns.
	// Defaults to backoff.DefaultPolicy() when zero.
	Backoff backoff.Policy
	// MaxProviderRetries bounds consecutive `retry` actions for one
	// provider turn before the loop gives up and fails. Defaults to
	// defaultMaxProviderRetries when zero.
	MaxProviderRetries int
}

// Run drives the thread to completion or a terminal failure (spec.md
// §4.18). It returns transcript extended with every exchanged message.
func (l *Loop) Run(ctx context.Context, transcript []Message) (Result, []Message) {
	logger := l.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = 1000
	}

	retryAttempt := 0
	for iter := 0; iter < maxIter; iter++ {
		action, err := l.Harness.Checkpoint(ctx, core.Event{Name: core.EventBeforeStep})
		if err != nil {
			return l.fail(err), transcript
		}
		if action == core.ActionAbort {
			return Result{Status: StatusAborted, Cost: l.Harness.Cost()}, transcript
		}
		if action == core.ActionFail {
			return Result{Status: StatusFailed, Cost: l.Harness.Cost()}, transcript
		}

		tools := l.filterTools()
		resp, err := l.Provider.Turn(ctx, l.Model, transcript, tools)
		if err != nil {
			result, retry := l.handleError(ctx, err)
			if !retry {
				return result, transcript
			}
			retryAttempt++
			if !l.waitForRetry(ctx, retryAttempt) {
				return Result{
					Status: StatusFailed,
					Error:  fmt.Errorf("agentloop: exceeded provider retries: %w", err),
					Cost:   l.Harness.Cost(),
				}, transcript
			}
			continue
		}
		retryAttempt = 0

		l.Harness.UpdateCostAfterTurn(resp.Usage, l.Model)

		if resp.Text != "" {
			transcript = append(transcript, Message{Role: "assistant", Text: resp.Text})
		}

		for _, call := range resp.ToolCalls {
			transcript = l.dispatchToolCall(ctx, call, transcript)
		}

		afterAction, err := l.Harness.Checkpoint(ctx, core.Event{Name: core.EventAfterStep})
		if err != nil {
			return l.fail(err), transcript
		}
		if afterAction == core.ActionAbort {
			return Result{Status: StatusAborted, Cost: l.Harness.Cost()}, transcript
		}
		if afterAction == core.ActionFail {
			return Result{Status: StatusFailed, Cost: l.Harness.Cost()}, transcript
		}

		if len(resp.ToolCalls) == 0 && (resp.Done || l.isComplete(resp.Text)) {
			return Result{Status: StatusSucceeded, Cost: l.Harness.Cost()}, transcript
		}
	}
	return Result{
		Status: StatusFailed,
		Error:  fmt.Errorf("agentloop: exceeded max iterations (%d)", maxIter),
		Cost:   l.Harness.Cost(),
	}, transcript
}

// filterTools keeps only the tools the thread's current capability token
// grants (spec.md §4.18).
func (l *Loop) filterTools() []ToolSpec {
	var out []ToolSpec
	for _, t := range l.Tools {
		allowed := true
		for _, req := range t.Requires {
			if !l.Harness.HasCapability(core.Capability(req)) {
				allowed = false
				break
			}
		}
		if allowed {
			out = append(out, t)
		}
	}
	return out
}

// dispatchToolCall verifies capability, then hands the call to the
// Universal Executor, appending the call and result to the transcript
// (spec.md §4.18 step d).
func (l *Loop) dispatchToolCall(ctx context.Context, call ToolCall, transcript []Message) []Message {
	spec := l.specFor(call.Name)
	for _, req := range spec.Requires {
		if !l.Harness.HasCapability(core.Capability(req)) {
			event := core.Event{
				Name: core.EventOnError,
				Code: "permission_denied",
				Detail: map[string]any{
					"missing": req,
				},
			}
			action, err := l.Harness.Checkpoint(ctx, event)
			result := permissionDeniedResult(req, err, action)
			return append(transcript, Message{Role: "tool", ToolCallID: call.ID, ToolName: call.Name, ToolInput: call.Input, ToolResult: result})
		}
	}

	res, err := l.Executor.Execute(ctx, call.Params)
	if err != nil {
		event := core.Event{Name: core.EventOnError, Code: "execution_error", Detail: map[string]any{"error": err.Error()}}
		_, _ = l.Harness.Checkpoint(ctx, event)
		return append(transcript, Message{Role: "tool", ToolCallID: call.ID, ToolName: call.Name, ToolInput: call.Input, ToolResult: map[string]any{"success": false, "error": err.Error()}})
	}
	if res != nil && !res.Success {
		_, _ = l.Harness.Checkpoint(ctx, core.Event{Name: core.EventOnError, Code: "primitive_failed"})
	}
	return append(transcript, Message{Role: "tool", ToolCallID: call.ID, ToolName: call.Name, ToolInput: call.Input, ToolResult: res})
}

func permissionDeniedResult(cap string, checkpointErr error, action core.HookAction) map[string]any {
	result := map[string]any{
		"success": false,
		"error":   (&core.PermissionDeniedError{Capability: cap}).Error(),
		"action":  string(action),
	}
	if checkpointErr != nil {
		result["checkpoint_error"] = checkpointErr.Error()
	}
	return result
}

func (l *Loop) specFor(toolID string) ToolSpec {
	for _, t := range l.Tools {
		if t.ToolID == toolID {
			return t
		}
	}
	return ToolSpec{ToolID: toolID}
}

func (l *Loop) isComplete(text string) bool {
	if l.Completed == nil {
		return true
	}
	return l.Completed(text)
}

// handleError routes a provider-level error through the harness's
// on_error checkpoint (spec.md §7: harness checkpoints catch hook
// failures; provider errors are promoted the same way here since the
// provider is the thread's only source of non-primitive failures).
// The second return value tells Run whether the matched hook's action
// was `retry`, in which case Run re-issues the provider turn itself
// after backing off (waitForRetry) rather than ending the thread here.
func (l *Loop) handleError(ctx context.Context, err error) (Result, bool) {
	event := core.Event{Name: core.EventOnError, Code: "provider_error", Detail: map[string]any{"error": err.Error()}}
	action, hookErr := l.Harness.Checkpoint(ctx, event)
	if hookErr != nil {
		return l.fail(hookErr), false
	}
	switch action {
	case core.ActionRetry:
		return Result{}, true
	case core.ActionAbort:
		return Result{Status: StatusAborted, Cost: l.Harness.Cost()}, false
	default:
		return Result{Status: StatusFailed, Error: err, Cost: l.Harness.Cost(), LastEvent: &event}, false
	}
}

// waitForRetry bounds and paces hook action `retry` (spec.md §4.15 step
// 4). Returns false once MaxProviderRetries is exhausted or ctx is
// cancelled during the backoff sleep, telling Run to give up instead.
func (l *Loop) waitForRetry(ctx context.Context, attempt int) bool {
	maxRetries := l.MaxProviderRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxProviderRetries
	}
	if attempt > maxRetries {
		return false
	}
	policy := l.Backoff
	if policy == (backoff.Policy{}) {
		policy = backoff.DefaultPolicy()
	}
	timer := time.NewTimer(backoff.Compute(policy, attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) fail(err error) Result {
	return Result{Status: StatusFailed, Error: err, Cost: l.Harness.Cost()}
}
