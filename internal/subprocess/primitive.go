// Package subprocess implements the Subprocess Primitive (C2): the
// terminal hop for any executor chain that bottoms out in a local
// process. Grounded on nexus's internal/tools/exec manager (process
// bookkeeping, buffered stdio) and internal/exec (argument safety).
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/leolilley/kiwi-mcp-sub008/internal/envtemplate"
)

// MaxTimeoutSeconds is the hard ceiling on Input.TimeoutSeconds (spec.md §4.2).
const MaxTimeoutSeconds = 3600

// mergeThreshold is the caller-supplied-env-is-already-complete heuristic
// from spec.md §4.2(a).
const mergeThreshold = 50

// Input describes a subprocess invocation.
type Input struct {
	Command        string
	Args           []string
	Env            map[string]string
	Cwd            string
	TimeoutSeconds int
	// NoCapture disables stdio capture. Capture defaults to on (spec.md
	// §4.2's capture_output defaults true), so the zero value keeps it.
	NoCapture bool
	Stdin     string
}

// Result is the primitive's result object. Primitives never throw: every
// failure mode (missing binary, permission denied, timeout) is reported
// here with Success=false.
type Result struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
	DurationMs int64  `json:"duration_ms"`
}

// Run executes a subprocess per spec.md §4.2.
func Run(ctx context.Context, in Input) Result {
	timeout := in.TimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	if timeout > MaxTimeoutSeconds {
		timeout = MaxTimeoutSeconds
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	mergedEnv := mergeEnv(in.Env)
	lookup := envtemplate.MapLookup(mergedEnv)

	command := envtemplate.Expand(in.Command, lookup)
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = envtemplate.Expand(a, lookup)
	}
	cwd := envtemplate.Expand(in.Cwd, lookup)

	cmd := exec.CommandContext(runCtx, command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = flattenEnv(mergedEnv)

	var stdout, stderr bytes.Buffer
	if !in.NoCapture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}
	if in.Stdin != "" {
		cmd.Stdin = strings.NewReader(in.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.Stderr += "\ntimed out"
		result.ReturnCode = -1
		return result
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errorsAsExitError(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
			result.Stderr += "\n" + err.Error()
		}
		result.Success = false
		return result
	}

	result.Success = true
	result.ReturnCode = 0
	return result
}

func errorsAsExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// mergeEnv implements spec.md §4.2(a): if the caller's env already looks
// like a complete environment (more than mergeThreshold keys), pass it
// through as-is; otherwise merge it over the process environment.
func mergeEnv(callerEnv map[string]string) map[string]string {
	if len(callerEnv) > mergeThreshold {
		out := make(map[string]string, len(callerEnv))
		for k, v := range callerEnv {
			out[k] = v
		}
		return out
	}

	out := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	for k, v := range callerEnv {
		out[k] = v
	}
	return out
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
