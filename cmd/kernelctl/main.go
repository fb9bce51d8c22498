// Command kernelctl is a thin CLI front-end exercising the kernel end to
// end (spec.md §1 marks the CLI front-end as an external collaborator;
// this is the minimal shim SPEC_FULL.md §10 calls for). Grounded on
// nexus's lightest subcommand entrypoints (cmd/nexus-plugin-runner/main.go):
// flag.NewFlagSet per subcommand, no cobra/urfave dependency.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/leolilley/kiwi-mcp-sub008/internal/config"
	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
	"github.com/leolilley/kiwi-mcp-sub008/internal/envresolver"
	"github.com/leolilley/kiwi-mcp-sub008/internal/executor"
	"github.com/leolilley/kiwi-mcp-sub008/internal/executorresolver"
	"github.com/leolilley/kiwi-mcp-sub008/internal/lockfile"
	"github.com/leolilley/kiwi-mcp-sub008/internal/observability"
	"github.com/leolilley/kiwi-mcp-sub008/internal/telemetry"
)

// Exit codes, spec.md §6.
const (
	exitSuccess          = 0
	exitBadInput         = 64
	exitIntegrityError   = 65
	exitCapabilityDenied = 66
	exitIOError          = 74
	exitTimeout          = 75
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitBadInput)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runTool(os.Args[2:]))
	case "lockfile":
		os.Exit(runLockfile(os.Args[2:]))
	default:
		usage()
		os.Exit(exitBadInput)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: kernelctl <run|lockfile> [options]")
}

func runTool(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	toolPath := flags.String("tool", "", "path to the leaf tool file")
	configPath := flags.String("config", "", "path to kernel config YAML")
	projectRoot := flags.String("project-root", "", "project-scope tool root")
	userRoot := flags.String("user-root", "", "user-scope tool root")
	if err := flags.Parse(args); err != nil {
		return exitBadInput
	}
	if *toolPath == "" {
		fmt.Fprintln(os.Stderr, "kernelctl run: -tool is required")
		return exitBadInput
	}

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitBadInput
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
	}

	roots := make([]string, 0, 2)
	var scopeRoots []envresolver.ScopeRoot
	if *projectRoot != "" {
		roots = append(roots, *projectRoot)
		scopeRoots = append(scopeRoots, envresolver.ScopeRoot{Scope: "project", Path: *projectRoot})
	}
	if *userRoot != "" {
		roots = append(roots, *userRoot)
		scopeRoots = append(scopeRoots, envresolver.ScopeRoot{Scope: "user", Path: *userRoot})
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	resolver := executorresolver.NewResolver(roots...)
	envRes := envresolver.NewResolver(scopeRoots...)
	locks := lockfile.NewStore(*projectRoot, *userRoot)
	tel := telemetry.NewStore(cfg.TelemetryPath, cfg.TelemetryEnabled)

	exec := executor.New(resolver, envRes, locks, tel, logger)

	ctx := context.Background()
	result, err := exec.Execute(ctx, executor.Request{ToolPath: *toolPath, Parameters: map[string]any{}})
	if err != nil {
		return exitCodeFor(err)
	}
	if result != nil && !result.Success {
		return exitIOError
	}
	return exitSuccess
}

func runLockfile(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: kernelctl lockfile prune [options]")
		return exitBadInput
	}
	switch args[0] {
	case "prune":
		flags := flag.NewFlagSet("lockfile prune", flag.ContinueOnError)
		userRoot := flags.String("user-root", "", "user-scope lockfile root")
		projectRoot := flags.String("project-root", "", "project-scope lockfile root")
		maxAgeDays := flags.Int("max-age-days", 90, "remove lockfiles older than this many days")
		if err := flags.Parse(args[1:]); err != nil {
			return exitBadInput
		}
		store := lockfile.NewStore(*projectRoot, *userRoot)
		removed, err := store.PruneStale(*maxAgeDays)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitIOError
		}
		fmt.Printf("pruned %d lockfile(s)\n", removed)
		return exitSuccess
	default:
		fmt.Fprintln(os.Stderr, "Usage: kernelctl lockfile prune [options]")
		return exitBadInput
	}
}

// exitCodeFor maps the error taxonomy (spec.md §7) onto the CLI's
// contractual exit codes (spec.md §6).
func exitCodeFor(err error) int {
	switch err.(type) {
	case *core.IntegrityError, *core.LockfileStaleError, *core.ChainInvalidError:
		return exitIntegrityError
	case *core.PermissionDeniedError:
		return exitCapabilityDenied
	case *core.TimeoutError:
		return exitTimeout
	case *core.ExecutorNotFoundError, *core.ChainTooDeepError, *core.SchemaValidationError:
		return exitBadInput
	default:
		return exitIOError
	}
}
