// Package metadata implements the opaque tool metadata extractor (C8):
// given a tool file, return the core.Tool record (spec.md §3, §4.8). The
// exact per-flavor extraction (YAML sidecar, frontmatter, script-header
// variables) is an external concern upstream of the core; this package
// only implements the sidecar and frontmatter flavors the core needs to
// exercise the rest of the chain, grounded on nexus's pluginsdk manifest
// decoding (pkg/pluginsdk/manifest.go) adapted from JSON manifests to
// YAML-fronted tool files.
package metadata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

// frontmatterDelim matches YAML frontmatter fenced by "---" lines at the
// top of a tool file, the same convention directive/knowledge files use
// (spec.md's Out-of-scope note treats that parsing as opaque; tool
// metadata reuses the same fence for consistency).
const frontmatterDelim = "---"

// rawFrontmatter is the on-disk shape of a tool's metadata block.
type rawFrontmatter struct {
	ToolType     string            `yaml:"tool_type"`
	ExecutorID   *string           `yaml:"executor_id"`
	Category     string            `yaml:"category"`
	Version      string            `yaml:"version"`
	ConfigSchema map[string]any    `yaml:"config_schema,omitempty"`
	Config       map[string]any    `yaml:"config,omitempty"`
	EnvConfig    *rawEnvConfig     `yaml:"env_config,omitempty"`
	Requires     []string          `yaml:"requires,omitempty"`
}

type rawEnvConfig struct {
	Interpreter rawInterpreter    `yaml:"interpreter"`
	Env         map[string]string `yaml:"env,omitempty"`
}

type rawInterpreter struct {
	Kind     string   `yaml:"kind"`
	Var      string   `yaml:"var"`
	Roots    []string `yaml:"roots,omitempty"`
	Fallback string   `yaml:"fallback,omitempty"`
}

// ParseFile reads path, extracts its frontmatter, and builds a core.Tool.
// content_hash is left empty; callers combine this with the integrity
// package to populate it, since hashing requires the file table policy
// (C1) this package doesn't own.
func ParseFile(path string) (*core.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: read %s: %w", path, err)
	}
	fm, err := extractFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("metadata: %s: %w", path, err)
	}

	var raw rawFrontmatter
	if err := yaml.Unmarshal([]byte(fm), &raw); err != nil {
		return nil, fmt.Errorf("metadata: %s: parse frontmatter: %w", path, err)
	}

	tool := &core.Tool{
		ToolID:     toolIDFromPath(path),
		Path:       path,
		ToolType:   core.ToolType(raw.ToolType),
		ExecutorID: raw.ExecutorID,
		Category:   raw.Category,
		Version:    raw.Version,
		Config:     raw.Config,
		Requires:   raw.Requires,
	}
	if raw.ConfigSchema != nil {
		schemaBytes, err := json.Marshal(raw.ConfigSchema)
		if err != nil {
			return nil, fmt.Errorf("metadata: %s: encode config_schema: %w", path, err)
		}
		tool.ConfigSchema = schemaBytes
	}
	if raw.EnvConfig != nil {
		tool.EnvConfig = &core.EnvConfig{
			Interpreter: core.InterpreterConfig{
				Kind:     core.InterpreterKind(raw.EnvConfig.Interpreter.Kind),
				Var:      raw.EnvConfig.Interpreter.Var,
				Roots:    raw.EnvConfig.Interpreter.Roots,
				Fallback: raw.EnvConfig.Interpreter.Fallback,
			},
			Env: raw.EnvConfig.Env,
		}
	}

	if err := validate(tool); err != nil {
		return nil, err
	}
	return tool, nil
}

// validate enforces invariant (a) of spec.md §3: a tool with
// executor_id = null must be of type primitive.
func validate(t *core.Tool) error {
	if t.ExecutorID == nil && t.ToolType != core.ToolTypePrimitive {
		return fmt.Errorf("metadata: tool %s has null executor_id but tool_type %q (must be primitive)", t.ToolID, t.ToolType)
	}
	return nil
}

func toolIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// extractFrontmatter returns the YAML body between the first pair of
// "---" fence lines. If the file has no fence, the entire file is
// treated as a YAML sidecar (e.g. a bare tool.yaml).
func extractFrontmatter(content string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelim {
		return content, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelim {
			return strings.Join(lines[1:i], "\n"), nil
		}
	}
	return "", fmt.Errorf("unterminated frontmatter fence")
}
