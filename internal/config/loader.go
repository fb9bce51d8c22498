// Package config implements the kernel's configuration layer: YAML with
// os.ExpandEnv templating and $include resolution, validated against a
// hand-declared JSON Schema (SPEC_FULL.md §10). Grounded on nexus's
// internal/config/loader.go $include-merge pattern, trimmed to the YAML
// flavor this kernel needs (the teacher's JSON5 sidecar support has no
// analogous need here, see DESIGN.md).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

const includeKey = "$include"

// ToolRoot pairs a scope name ("project", "user", ...) with the
// filesystem directory it resolves to, feeding both the executor
// resolver (C9) and the env resolver (C7).
type ToolRoot struct {
	Scope string `yaml:"scope"`
	Path  string `yaml:"path"`
}

// Config is the kernel's top-level configuration (SPEC_FULL.md §10).
type Config struct {
	ToolRoots        []ToolRoot  `yaml:"tool_roots"`
	DefaultLimits    core.Limits `yaml:"default_limits"`
	PricingTablePath string      `yaml:"pricing_table_path"`
	TelemetryPath    string      `yaml:"telemetry_path"`
	TelemetryEnabled bool        `yaml:"telemetry_enabled"`
	LockfileUserRoot string      `yaml:"lockfile_user_root"`
	AuthStoreDir     string      `yaml:"auth_store_dir"`
	ThreadRegistry   string      `yaml:"thread_registry_path"`
	LogLevel         string      `yaml:"log_level"`
	LogFormat        string      `yaml:"log_format"`
}

// Schema is the JSON Schema this package validates a loaded config
// against, compiled with the same library the chain validator (C10) uses
// for tool schemas (santhosh-tekuri/jsonschema/v5).
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "tool_roots": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["scope", "path"],
        "properties": {
          "scope": {"type": "string"},
          "path": {"type": "string"}
        }
      }
    },
    "default_limits": {
      "type": "object",
      "properties": {
        "turns": {"type": "integer", "minimum": 0},
        "tokens": {"type": "integer", "minimum": 0},
        "spawns": {"type": "integer", "minimum": 0},
        "duration": {"type": "number", "minimum": 0},
        "spend": {"type": "number", "minimum": 0}
      }
    },
    "pricing_table_path": {"type": "string"},
    "telemetry_path": {"type": "string"},
    "telemetry_enabled": {"type": "boolean"},
    "lockfile_user_root": {"type": "string"},
    "auth_store_dir": {"type": "string"},
    "thread_registry_path": {"type": "string"},
    "log_level": {"type": "string"},
    "log_format": {"type": "string"}
  }
}`

// Load reads path, expanding ${VAR} references via os.ExpandEnv and
// resolving any $include directives, then validates the merged document
// against Schema before decoding it into a Config.
func Load(path string) (*Config, error) {
	merged, err := loadRawRecursive(path, map[string]bool{})
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	schema, err := jsonschema.CompileString("config.schema.json", Schema)
	if err != nil {
		return nil, fmt.Errorf("config: compile schema: %w", err)
	}
	if err := schema.Validate(merged); err != nil {
		return nil, fmt.Errorf("config: %s: schema validation failed: %w", path, err)
	}

	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshal merged document: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.TelemetryPath == "" {
		cfg.TelemetryPath = "$USER_PATH/telemetry.yaml"
	}
}

// loadRawRecursive loads path into a generic map, expanding env vars and
// resolving $include directives relative to path's directory, with cycle
// detection (grounded on nexus's internal/config/loader.go).
func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("config: include cycle detected at %s", abs)
	}
	seen[abs] = true
	defer delete(seen, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	includes := extractIncludes(raw)
	merged := map[string]any{}
	baseDir := filepath.Dir(abs)
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incRaw, err := loadRawRecursive(incPath, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}
	delete(raw, includeKey)
	merged = mergeMaps(merged, raw)
	return merged, nil
}

func extractIncludes(raw map[string]any) []string {
	v, ok := raw[includeKey]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if baseVal, ok := out[k].(map[string]any); ok {
			if overlayVal, ok := v.(map[string]any); ok {
				out[k] = mergeMaps(baseVal, overlayVal)
				continue
			}
		}
		out[k] = v
	}
	return out
}
