// Package chainvalidator validates a resolved executor chain (C10):
// version constraints on the child of each adjacent (child, parent) pair,
// a check that each child's manifest compiles as a JSON Schema (a failure
// is a warning), and a warning for a non-terminal parent with no
// executor_id (spec.md §4.10). Child and parent schemas are not compared
// with each other. Grounded on
// nexus's pluginsdk schema compilation (pkg/pluginsdk/validation.go),
// generalized from validating a single plugin config against its own
// manifest schema to validating every adjacent pair in a chain.
package chainvalidator

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

// Result is the outcome of validating a chain (spec.md §4.10).
type Result struct {
	Valid          bool
	Issues         []string
	Warnings       []string
	ValidatedPairs int
}

// VersionConstraint optionally declares what version range a parent
// requires of a child, keyed by the child's tool_id.
type VersionConstraint map[string]string

var schemaCache sync.Map

// Validate checks every adjacent (child, parent) pair in chain. Warnings
// never invalidate a chain; issues do (spec.md §4.10).
func Validate(chain core.ResolvedChain, constraints VersionConstraint) Result {
	result := Result{Valid: true}
	entries := chain.Entries
	for i := 0; i+1 < len(entries); i++ {
		child := entries[i]
		parent := entries[i+1]
		result.ValidatedPairs++

		if constraint, ok := constraints[child.ToolID]; ok {
			if err := checkVersionConstraint(child.Version, constraint); err != nil {
				result.Issues = append(result.Issues, fmt.Sprintf("%s: %v", child.ToolID, err))
			}
		}

		if len(child.Manifest) > 0 {
			if _, err := compileSchema(child.Manifest); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: manifest not a compilable schema: %v", child.ToolID, err))
			}
		}

		isLastPair := i+2 == len(entries)
		if parent.ExecutorID == nil && !isLastPair {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: parent %s has no executor_id but is not terminal", child.ToolID, parent.ToolID))
		}
	}
	if len(result.Issues) > 0 {
		result.Valid = false
	}
	return result
}

// checkVersionConstraint validates childVersion against a semver
// constraint string (e.g. ">=1.0.0, <2.0.0").
func checkVersionConstraint(childVersion, constraint string) error {
	v, err := semver.NewVersion(childVersion)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", childVersion, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy constraint %q", childVersion, constraint)
	}
	return nil
}

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("chain-entry.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateParams validates params against a tool's config_schema,
// surfacing a core.SchemaValidationError on mismatch.
func ValidateParams(toolID string, configSchema []byte, params map[string]any) error {
	if len(configSchema) == 0 {
		return nil
	}
	schema, err := compileSchema(configSchema)
	if err != nil {
		return &core.SchemaValidationError{ToolID: toolID, Err: fmt.Errorf("compile schema: %w", err)}
	}
	if err := schema.Validate(params); err != nil {
		return &core.SchemaValidationError{ToolID: toolID, Err: err}
	}
	return nil
}
