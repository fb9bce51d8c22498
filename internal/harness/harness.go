// Package harness implements the Safety Harness (C15): the reentrant
// wrapper around agent turns that accounts for cost, evaluates hooks at
// fixed checkpoints, enforces capability tokens, and implements hook
// actions (spec.md §4.15). Grounded on nexus's internal/hooks dispatch
// (priority-ordered matching, first-eligible-wins) generalized from
// event-type matching to the C13 expression evaluator, and on nexus's
// internal/status cost accounting (usage normalization, per-model
// pricing lookup) adapted to this kernel's CostLedger shape.
package harness

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leolilley/kiwi-mcp-sub008/internal/capability"
	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
	"github.com/leolilley/kiwi-mcp-sub008/internal/expr"
	"github.com/leolilley/kiwi-mcp-sub008/internal/observability"
	"github.com/leolilley/kiwi-mcp-sub008/pkg/pricing"
)

// MaxHookDepth bounds hook-invoking-hook recursion (spec.md §4.15,
// default 4). Per DESIGN.md's Open Question decision, a would-be match
// at the deepest level is refused and falls through to Checkpoint's
// default action: "continue" for ordinary events, "fail" for an on_limit
// or permission_denied event.
const MaxHookDepth = 4

// HookRunner executes a matched hook's directive as a child thread with
// its own harness and an attenuated capability token, returning the
// action the hook directive decided on (spec.md §4.15 step 4). The
// kernel core only describes this contract; the caller building the
// Harness supplies the implementation. This repository ships none: the
// Agent Loop (C18) holds a Harness but does not implement HookRunner.
type HookRunner interface {
	Run(ctx context.Context, directive string, inputs map[string]any, token string, parentThreadID string, hookDepth int) (core.HookAction, error)
}

// Usage is one LLM turn's token usage, normalized across providers
// (spec.md §4.15).
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64 // 0 means "provider omitted it; derive from input+output"
	Estimated    bool
}

// Harness wraps one thread's execution.
type Harness struct {
	Signer  *capability.Signer
	Pricing *pricing.Table
	Runner  HookRunner
	Logger  *observability.Logger

	// SpawnLimiter throttles spawn *rate* in wall-clock time, ahead of
	// the hard limits.Spawns counter check (supplements spec.md; does
	// not replace the hard spawn limit per SPEC_FULL.md §12.2).
	SpawnLimiter *rate.Limiter

	ThreadID    string
	DirectiveID string
	ParentID    string
	Aud         string
	Hooks       []core.HookDecl
	Limits      core.Limits
	HookDepth   int

	mu        sync.Mutex
	cost      core.CostLedger
	token     *capability.Claims
	tokenStr  string
	startedAt time.Time
}

// Options configures a new Harness.
type Options struct {
	Signer      *capability.Signer
	Pricing     *pricing.Table
	Runner      HookRunner
	Logger      *observability.Logger
	ThreadID    string
	DirectiveID string
	ParentID    string
	Aud         string
	Hooks       []core.HookDecl
	Limits      core.Limits
	HookDepth   int
	Permissions []string
	TokenExpiry time.Duration
	SpawnRate   rate.Limit
	SpawnBurst  int
}

// New mints a capability token for the thread from its directive's
// declared permissions and returns a ready Harness (spec.md §3
// CapabilityToken lifecycle: "minted by C15 at thread start").
func New(opts Options) (*Harness, error) {
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	if opts.TokenExpiry <= 0 {
		opts.TokenExpiry = time.Hour
	}
	caps := capability.PermissionsToCaps(opts.Permissions)
	exp := time.Now().Add(opts.TokenExpiry)
	tokenStr, err := opts.Signer.Mint(caps, opts.Aud, exp, opts.DirectiveID, opts.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("harness: mint token: %w", err)
	}
	claims, err := opts.Signer.Verify(tokenStr, opts.Aud)
	if err != nil {
		return nil, fmt.Errorf("harness: verify minted token: %w", err)
	}

	spawnRate := opts.SpawnRate
	if spawnRate == 0 {
		spawnRate = rate.Inf
	}
	spawnBurst := opts.SpawnBurst
	if spawnBurst <= 0 {
		spawnBurst = 1
	}

	return &Harness{
		Signer:       opts.Signer,
		Pricing:      opts.Pricing,
		Runner:       opts.Runner,
		Logger:       opts.Logger,
		SpawnLimiter: rate.NewLimiter(spawnRate, spawnBurst),
		ThreadID:     opts.ThreadID,
		DirectiveID:  opts.DirectiveID,
		ParentID:     opts.ParentID,
		Aud:          opts.Aud,
		Hooks:        opts.Hooks,
		Limits:       opts.Limits,
		HookDepth:    opts.HookDepth,
		token:        claims,
		tokenStr:     tokenStr,
		startedAt:    time.Now(),
	}, nil
}

// Token returns the thread's current signed capability token.
func (h *Harness) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokenStr
}

// Cost returns a snapshot of the thread's cost ledger.
func (h *Harness) Cost() core.CostLedger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cost
}

// HasCapability reports whether the thread's token grants cap.
func (h *Harness) HasCapability(cap core.Capability) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return capability.HasCapability(h.token, cap)
}

// Checkpoint runs one of the four harness checkpoints (spec.md §4.15):
// it enforces hardcoded limits first (a violation overrides the supplied
// event), then evaluates the thread's hooks in declared order, executing
// the first match's directive as a child thread and returning its
// action. When no hook matches, Checkpoint returns ActionFail for an
// on_limit or permission_denied event and ActionContinue otherwise; a
// hook evaluation error also yields ActionContinue.
func (h *Harness) Checkpoint(ctx context.Context, event core.Event) (core.HookAction, error) {
	h.mu.Lock()
	h.cost.DurationSeconds = time.Since(h.startedAt).Seconds()
	cost := h.cost
	limits := h.Limits
	h.mu.Unlock()

	if violation := checkLimits(cost, limits); violation != nil {
		event = *violation
	}

	action, matched, err := h.dispatchHooks(ctx, event)
	if err != nil {
		h.Logger.Warn("hook evaluation error", "thread_id", h.ThreadID, "error", err)
		return core.ActionContinue, nil
	}
	if matched {
		return action, nil
	}

	// Default behavior when no hook matches (spec.md §4.15 step 2/3,
	// S4): a limit/permission violation defaults to fail; everything
	// else proceeds.
	if event.Name == core.EventOnLimit || event.Code == "permission_denied" {
		return core.ActionFail, nil
	}
	return core.ActionContinue, nil
}

// checkLimits enforces spec.md §4.15 step 2's hardcoded axes: turns,
// tokens, spawns, duration, spend. Returns the first violated axis as an
// on_limit event, or nil if the thread is within budget.
func checkLimits(cost core.CostLedger, limits core.Limits) *core.Event {
	switch {
	case limits.Turns > 0 && cost.Turns >= limits.Turns:
		return limitEvent("turns", float64(cost.Turns), float64(limits.Turns))
	case limits.Tokens > 0 && cost.TokensTotal >= limits.Tokens:
		return limitEvent("tokens", float64(cost.TokensTotal), float64(limits.Tokens))
	case limits.Spawns > 0 && cost.Spawns >= limits.Spawns:
		return limitEvent("spawns", float64(cost.Spawns), float64(limits.Spawns))
	case limits.DurationSecs > 0 && cost.DurationSeconds >= limits.DurationSecs:
		return limitEvent("duration", cost.DurationSeconds, limits.DurationSecs)
	case limits.Spend > 0 && cost.SpendUSD >= limits.Spend:
		return limitEvent("spend", cost.SpendUSD, limits.Spend)
	default:
		return nil
	}
}

func limitEvent(axis string, current, max float64) *core.Event {
	return &core.Event{
		Name: core.EventOnLimit,
		Code: axis + "_exceeded",
		Detail: map[string]any{
			"current": current,
			"max":     max,
		},
	}
}

// dispatchHooks evaluates h.Hooks in declared order against event,
// executing the first match's directive as a child thread (spec.md
// §4.15 steps 3-4, invariant 4 "first-hook-wins"). Hook recursion is
// bounded by MaxHookDepth.
func (h *Harness) dispatchHooks(ctx context.Context, event core.Event) (core.HookAction, bool, error) {
	if h.HookDepth >= MaxHookDepth {
		return "", false, nil
	}

	h.mu.Lock()
	cost := h.cost
	caps := make([]string, len(h.token.Caps))
	for i, c := range h.token.Caps {
		caps[i] = string(c)
	}
	directiveID := h.DirectiveID
	limits := h.Limits
	h.mu.Unlock()

	evalCtx := expr.Context{
		"event":       eventToMap(event),
		"directive":   directiveID,
		"cost":        costToMap(cost),
		"limits":      limitsToMap(limits),
		"permissions": caps,
	}

	for _, decl := range h.Hooks {
		compiled, err := expr.Parse(decl.When)
		if err != nil {
			return "", false, &core.HookEvaluationError{Reason: fmt.Sprintf("malformed hook expression %q: %v", decl.When, err)}
		}
		matched, err := compiled.EvalBool(evalCtx)
		if err != nil {
			return "", false, &core.HookEvaluationError{Reason: fmt.Sprintf("hook expression %q: %v", decl.When, err)}
		}
		if !matched {
			continue
		}

		inputs := make(map[string]any, len(decl.Inputs))
		for k, tmpl := range decl.Inputs {
			inputs[k] = expr.Substitute(tmpl, evalCtx)
		}

		if !h.reserveSpawn() {
			return core.ActionFail, true, &core.LimitExceededError{Code: "spawns"}
		}

		action, err := h.runHook(ctx, decl.Directive, inputs)
		if err != nil {
			h.Logger.Warn("hook directive failed", "directive", decl.Directive, "error", err)
			return core.ActionContinue, true, nil
		}
		return action, true, nil
	}
	return "", false, nil
}

// reserveSpawn enforces the hard spawns limit (checked on the parent
// before the child launches, spec.md §4.15) and then waits on the
// spawn-rate limiter as a throttle layered in front of it.
func (h *Harness) reserveSpawn() bool {
	h.mu.Lock()
	if h.Limits.Spawns > 0 && h.cost.Spawns >= h.Limits.Spawns {
		h.mu.Unlock()
		return false
	}
	h.cost.Spawns++
	h.mu.Unlock()
	_ = h.SpawnLimiter.Wait(context.Background())
	return true
}

// runHook hands the matched directive to Runner, which loads the child
// directive's own declared permissions (opaque to this package, per
// spec.md §1) and is responsible for calling AttenuateToken before
// minting the child's own Harness — the set-intersection never widens
// what the parent already holds (spec.md §3 CapabilityToken lifecycle,
// invariant 3).
func (h *Harness) runHook(ctx context.Context, directive string, inputs map[string]any) (core.HookAction, error) {
	if h.Runner == nil {
		return "", fmt.Errorf("harness: no hook runner configured")
	}
	h.mu.Lock()
	token := h.tokenStr
	h.mu.Unlock()
	return h.Runner.Run(ctx, directive, inputs, token, h.ThreadID, h.HookDepth+1)
}

// AttenuateToken mints a token for a child thread whose caps are the
// intersection of this thread's caps and those resolved from
// childPermissions (spec.md §4.14 Attenuate, §9). Callers spawning a
// child thread use this to build the child's own Harness.Options;
// dispatchHooks does not call it and hands Runner the parent's token.
func (h *Harness) AttenuateToken(childPermissions []string, childThreadID string, exp time.Time) (string, error) {
	h.mu.Lock()
	parent := h.token
	h.mu.Unlock()
	return h.Signer.Attenuate(parent, childPermissions, h.Aud, exp, childThreadID)
}

// UpdateCostAfterTurn is called by the Agent Loop after each LLM turn
// (spec.md §4.15). usage is normalized: a zero TotalTokens is derived
// from input+output; a caller that cannot report usage at all should
// pass EstimateUsage instead.
func (h *Harness) UpdateCostAfterTurn(usage Usage, model string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := usage.TotalTokens
	if total == 0 {
		total = usage.InputTokens + usage.OutputTokens
	}

	h.cost.Turns++
	h.cost.InputTokens += usage.InputTokens
	h.cost.OutputTokens += usage.OutputTokens
	h.cost.TokensTotal += total
	h.cost.DurationSeconds = time.Since(h.startedAt).Seconds()

	if h.Pricing != nil {
		h.cost.SpendUSD += h.Pricing.Estimate(model, usage.InputTokens, usage.OutputTokens)
	}
}

// EstimateUsage derives a Usage from raw response text when a provider's
// usage block is absent (streaming/error path), per spec.md §4.15's
// len(text)/4 heuristic.
func EstimateUsage(outputText string) Usage {
	estimated := int64(math.Ceil(float64(len(outputText)) / 4))
	return Usage{OutputTokens: estimated, TotalTokens: estimated, Estimated: true}
}

func eventToMap(e core.Event) map[string]any {
	return map[string]any{
		"name":   string(e.Name),
		"code":   e.Code,
		"detail": e.Detail,
	}
}

func costToMap(c core.CostLedger) map[string]any {
	return map[string]any{
		"turns":    c.Turns,
		"tokens":   c.TokensTotal,
		"spawns":   c.Spawns,
		"duration": c.DurationSeconds,
		"spend":    c.SpendUSD,
	}
}

func limitsToMap(l core.Limits) map[string]any {
	return map[string]any{
		"turns":    l.Turns,
		"tokens":   l.Tokens,
		"spawns":   l.Spawns,
		"duration": l.DurationSecs,
		"spend":    l.Spend,
	}
}
