// Package executor implements the Universal Executor (C12): the
// recursive chain walk that resolves a tool's executor_id through C7-C11
// and terminates at a primitive (C2/C3/C4). Grounded on nexus's
// internal/tools/gateway dispatcher (the single entry point that routes
// a tool call to the right internal/tools/* implementation) generalized
// from a fixed tool registry to a filesystem-discovered chain.
package executor

import (
	"context"
	"fmt"

	"github.com/leolilley/kiwi-mcp-sub008/internal/chainvalidator"
	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
	"github.com/leolilley/kiwi-mcp-sub008/internal/envresolver"
	"github.com/leolilley/kiwi-mcp-sub008/internal/executorresolver"
	"github.com/leolilley/kiwi-mcp-sub008/internal/httpclient"
	"github.com/leolilley/kiwi-mcp-sub008/internal/httpstream"
	"github.com/leolilley/kiwi-mcp-sub008/internal/integrity"
	"github.com/leolilley/kiwi-mcp-sub008/internal/lockfile"
	"github.com/leolilley/kiwi-mcp-sub008/internal/metadata"
	"github.com/leolilley/kiwi-mcp-sub008/internal/observability"
	"github.com/leolilley/kiwi-mcp-sub008/internal/sink"
	"github.com/leolilley/kiwi-mcp-sub008/internal/subprocess"
	"github.com/leolilley/kiwi-mcp-sub008/internal/telemetry"
)

// SinkFactory builds a sink.Sink for a declared destination. The key is
// the destination's "type" field (return|file|null|websocket); C12 owns
// sink construction, never the streaming primitive itself (spec.md
// §4.4, §4.12).
type SinkFactory func(dest Destination) (sink.Sink, error)

// Destination is one entry of a streaming call's `destinations` list.
type Destination struct {
	Type string
	Path string // file
	URL  string // websocket
}

// Executor walks executor_id chains and dispatches terminal primitives.
type Executor struct {
	Resolver    *executorresolver.Resolver
	EnvResolver *envresolver.Resolver
	Lockfiles   *lockfile.Store
	Telemetry   *telemetry.Store
	Logger      *observability.Logger

	ParseMetadata func(path string) (*core.Tool, error)
	HashTool      func(t *core.Tool) (string, error)

	HTTPClient   *httpclient.Client
	StreamClient *httpstream.Client

	Sinks SinkFactory

	// AllowLockfileRegen permits regenerating a stale lockfile rather
	// than failing with LockfileStaleError (spec.md §4.12 step 5).
	AllowLockfileRegen bool
}

// New builds an Executor with the given filesystem roots and default
// primitive clients.
func New(resolver *executorresolver.Resolver, env *envresolver.Resolver, locks *lockfile.Store, tel *telemetry.Store, logger *observability.Logger) *Executor {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Executor{
		Resolver:      resolver,
		EnvResolver:   env,
		Lockfiles:     locks,
		Telemetry:     tel,
		Logger:        logger,
		ParseMetadata: metadata.ParseFile,
		HTTPClient:    &httpclient.Client{},
		StreamClient:  &httpstream.Client{},
	}
}

// Request describes one execution of a leaf tool.
type Request struct {
	ToolPath     string
	Parameters   map[string]any
	Destinations []Destination
}

// Result is what an execution returns to the Safety Harness / Agent Loop.
type Result struct {
	Success      bool
	Chain        core.ResolvedChain
	Lockfile     *core.Lockfile
	Subprocess   *subprocess.Result
	HTTP         *httpclient.Result
	Stream       *httpstream.Result
	HTTPCalls    int
	SubprocCalls int
}

// Execute resolves req.ToolPath's executor chain and dispatches it,
// implementing spec.md §4.12 end to end.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	chain, tools, err := e.resolveChain(req.ToolPath)
	if err != nil {
		return nil, err
	}

	leaf := tools[0]
	if err := e.verifyLockfile(leaf, chain); err != nil {
		return nil, err
	}
	if err := chainvalidator.ValidateParams(leaf.ToolID, leaf.ConfigSchema, req.Parameters); err != nil {
		return nil, err
	}

	result, err := e.dispatch(ctx, tools, req)
	if result != nil {
		result.Chain = chain
	}
	return result, err
}

// resolveChain walks executor_id from the leaf tool to a terminating
// primitive (spec.md §4.12 steps 1-4), bounded by core.MaxChainDepth.
func (e *Executor) resolveChain(path string) (core.ResolvedChain, []*core.Tool, error) {
	var entries []core.ChainEntry
	var tools []*core.Tool

	currentPath := path
	for depth := 0; ; depth++ {
		if depth >= core.MaxChainDepth {
			toolID := currentPath
			if len(tools) > 0 {
				toolID = tools[0].ToolID
			}
			return core.ResolvedChain{}, nil, &core.ChainTooDeepError{ToolID: toolID, Depth: depth}
		}

		tool, err := e.parse(currentPath)
		if err != nil {
			return core.ResolvedChain{}, nil, err
		}
		tools = append(tools, tool)
		entries = append(entries, core.ChainEntry{
			ToolID:      tool.ToolID,
			Version:     tool.Version,
			ContentHash: tool.ContentHash,
			ExecutorID:  tool.ExecutorID,
			Manifest:    tool.ConfigSchema,
		})

		if tool.IsPrimitive() {
			chain := core.ResolvedChain{Entries: entries}
			result := chainvalidator.Validate(chain, nil)
			if !result.Valid {
				return core.ResolvedChain{}, nil, &core.ChainInvalidError{Issues: result.Issues}
			}
			return chain, tools, nil
		}

		nextPath, err := e.Resolver.Resolve(*tool.ExecutorID)
		if err != nil {
			return core.ResolvedChain{}, nil, err
		}
		currentPath = nextPath
	}
}

func (e *Executor) parse(path string) (*core.Tool, error) {
	parse := e.ParseMetadata
	if parse == nil {
		parse = metadata.ParseFile
	}
	tool, err := parse(path)
	if err != nil {
		return nil, fmt.Errorf("executor: parse %s: %w", path, err)
	}
	if tool.ContentHash == "" {
		hash, err := e.hashTool(tool)
		if err != nil {
			return nil, err
		}
		tool.ContentHash = hash
	}
	return tool, nil
}

// hashTool computes a tool's content_hash. filepath.WalkDir happily
// walks a single regular file (calling back once for it), so this
// handles both a bare tool file and a directory-shaped tool uniformly.
func (e *Executor) hashTool(t *core.Tool) (string, error) {
	if e.HashTool != nil {
		return e.HashTool(t)
	}
	entries, err := integrity.BuildFileTable(t.Path)
	if err != nil {
		return "", err
	}
	return integrity.ContentHash(t, entries)
}

// verifyLockfile obtains or freezes a lockfile for the leaf tool and
// validates it against the freshly resolved chain (spec.md §4.12 step 5).
func (e *Executor) verifyLockfile(leaf *core.Tool, chain core.ResolvedChain) error {
	if e.Lockfiles == nil || len(chain.Entries) == 0 {
		return nil
	}
	root := chain.Entries[0]

	lf, found, err := e.Lockfiles.GetLockfile(leaf.ToolID, leaf.Version, leaf.Category)
	if err != nil {
		return fmt.Errorf("executor: load lockfile: %w", err)
	}
	if !found {
		_, err := e.Lockfiles.FreezeChain(root, chain.Entries, leaf.Category)
		if err != nil {
			return fmt.Errorf("executor: freeze lockfile: %w", err)
		}
		return nil
	}

	validation := e.Lockfiles.ValidateLockfile(lf, chain.Entries)
	if validation.IsValid {
		return nil
	}
	if !e.AllowLockfileRegen {
		return &core.LockfileStaleError{ToolID: leaf.ToolID, Issues: validation.Issues}
	}
	_, err = e.Lockfiles.FreezeChain(root, chain.Entries, leaf.Category)
	if err != nil {
		return fmt.Errorf("executor: regenerate lockfile: %w", err)
	}
	return nil
}

// dispatch walks tools from leaf to terminal, resolving runtime
// environments at each hop (C7, spec.md §4.12 step 3) and invoking the
// terminal primitive.
func (e *Executor) dispatch(ctx context.Context, tools []*core.Tool, req Request) (*Result, error) {
	params := cloneParams(req.Parameters)
	envOverlay := map[string]string{}

	for i := 0; i < len(tools); i++ {
		tool := tools[i]
		if !tool.IsPrimitive() {
			if tool.ToolType == core.ToolTypeRuntime && tool.EnvConfig != nil {
				resolved, err := e.EnvResolver.Resolve(*tool.EnvConfig, envOverlay)
				if err != nil {
					return nil, fmt.Errorf("executor: resolve env for %s: %w", tool.ToolID, err)
				}
				envOverlay = resolved
				mergeEnvParam(params, resolved)
			}
			continue
		}
		return e.dispatchPrimitive(ctx, tool, params, req.Destinations)
	}
	return nil, fmt.Errorf("executor: chain produced no terminal primitive")
}

// dispatchPrimitive terminates the chain at a subprocess or HTTP
// primitive, recording telemetry for the originating leaf tool.
func (e *Executor) dispatchPrimitive(ctx context.Context, tool *core.Tool, params map[string]any, destinations []Destination) (*Result, error) {
	kind := primitiveKind(tool)
	switch kind {
	case "subprocess":
		in := subprocessInput(params)
		res := subprocess.Run(ctx, in)
		outcome := telemetry.OutcomeSuccess
		if !res.Success {
			outcome = telemetry.OutcomeFailure
		}
		e.recordTelemetry(tool, outcome, res.DurationMs, 0, 1)
		return &Result{Success: res.Success, Subprocess: &res, SubprocCalls: 1}, nil

	case "http":
		if mode, _ := params["mode"].(string); mode == "stream" {
			return e.dispatchStream(ctx, tool, params, destinations)
		}
		in := httpInput(params)
		res := e.HTTPClient.Do(ctx, in)
		outcome := telemetry.OutcomeSuccess
		if !res.Success {
			outcome = telemetry.OutcomeFailure
		}
		e.recordTelemetry(tool, outcome, res.DurationMs, 1, 0)
		return &Result{Success: res.Success, HTTP: &res, HTTPCalls: 1}, nil

	default:
		return nil, fmt.Errorf("executor: unrecognized terminal primitive for tool %s", tool.ToolID)
	}
}

func (e *Executor) dispatchStream(ctx context.Context, tool *core.Tool, params map[string]any, destinations []Destination) (*Result, error) {
	sinks := make([]sink.Sink, 0, len(destinations))
	for _, dest := range destinations {
		s, err := e.buildSink(dest)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	in := httpInput(params)
	streamIn := httpstream.Input{
		Method:      in.Method,
		URL:         in.URL,
		Headers:     in.Headers,
		Body:        in.Body,
		BodyParams:  in.BodyParams,
		TimeoutSecs: in.TimeoutSecs,
		Auth:        in.Auth,
		Sinks:       sinks,
	}
	res := e.StreamClient.Do(ctx, streamIn)
	outcome := telemetry.OutcomeSuccess
	if !res.Success {
		outcome = telemetry.OutcomeFailure
	}
	e.recordTelemetry(tool, outcome, res.DurationMs, 1, 0)
	return &Result{Success: res.Success, Stream: &res, HTTPCalls: 1}, nil
}

func (e *Executor) buildSink(dest Destination) (sink.Sink, error) {
	if e.Sinks != nil {
		return e.Sinks(dest)
	}
	switch dest.Type {
	case "return":
		return sink.NewReturnSink(0), nil
	case "null":
		return sink.NullSink{}, nil
	case "file":
		return sink.NewFileSink(dest.Path, sink.FileFormatJSONL, sink.DefaultFlushEvery)
	case "websocket":
		return sink.NewWebSocketSink(sink.WebSocketSinkOptions{URL: dest.URL}), nil
	default:
		return nil, fmt.Errorf("executor: unknown sink type %q", dest.Type)
	}
}

func (e *Executor) recordTelemetry(tool *core.Tool, outcome telemetry.Outcome, durationMs int64, httpCalls, subprocCalls int) {
	if e.Telemetry == nil {
		return
	}
	itemID := tool.ToolID
	if itemID == "" {
		itemID = tool.ContentHash
	}
	_ = e.Telemetry.RecordExecution(telemetry.Execution{
		ItemID:       itemID,
		ItemType:     string(tool.ToolType),
		Outcome:      outcome,
		DurationMs:   durationMs,
		HTTPCalls:    httpCalls,
		SubprocCalls: subprocCalls,
		Path:         tool.Path,
	})
}

// primitiveKind inspects a primitive tool's config to decide which
// terminal implementation handles it. Grounded on spec.md's glossary:
// "Only two are foreseen: subprocess and HTTP."
func primitiveKind(tool *core.Tool) string {
	if v, ok := tool.Config["command"]; ok && v != nil {
		return "subprocess"
	}
	if v, ok := tool.Config["url"]; ok && v != nil {
		return "http"
	}
	switch tool.ToolID {
	case "subprocess":
		return "subprocess"
	case "http_client":
		return "http"
	}
	return ""
}

func subprocessInput(params map[string]any) subprocess.Input {
	in := subprocess.Input{}
	in.Command, _ = params["command"].(string)
	in.Args = toStringSlice(params["args"])
	in.Env = toStringMap(params["env"])
	in.Cwd, _ = params["cwd"].(string)
	if v, ok := params["timeout_s"].(float64); ok {
		in.TimeoutSeconds = int(v)
	}
	in.Stdin, _ = params["stdin"].(string)
	return in
}

func httpInput(params map[string]any) httpclient.Input {
	in := httpclient.Input{}
	in.Method, _ = params["method"].(string)
	in.URL, _ = params["url"].(string)
	in.Headers = toStringMap(params["headers"])
	in.Body = params["body"]
	in.BodyParams = toMap(params["params"])
	if v, ok := params["timeout_s"].(float64); ok {
		in.TimeoutSecs = int(v)
	}
	if v, ok := params["retry_max"].(float64); ok {
		in.RetryMax = int(v)
	}
	if v, ok := params["verify_ssl"].(bool); ok {
		in.SkipSSLVerify = !v
	}
	if authMap := toMap(params["auth"]); authMap != nil {
		auth := &httpclient.Auth{}
		auth.Type = httpclient.AuthType(fmt.Sprint(authMap["type"]))
		auth.Token, _ = authMap["token"].(string)
		auth.Header, _ = authMap["header"].(string)
		auth.Username, _ = authMap["username"].(string)
		auth.Password, _ = authMap["password"].(string)
		in.Auth = auth
	}
	return in
}

func mergeEnvParam(params map[string]any, env map[string]string) {
	existing := toStringMap(params["env"])
	if existing == nil {
		existing = map[string]string{}
	}
	for k, v := range env {
		existing[k] = v
	}
	params["env"] = existing
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

func toStringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out
	default:
		return nil
	}
}

func toMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
