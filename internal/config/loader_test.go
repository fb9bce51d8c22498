package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
tool_roots:
  - scope: project
    path: ./tools
telemetry_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.True(t, cfg.TelemetryEnabled)
	require.Len(t, cfg.ToolRoots, 1)
	require.Equal(t, "project", cfg.ToolRoots[0].Scope)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_KERNEL_ROOT", "/opt/kernel-tools")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
tool_roots:
  - scope: project
    path: ${TEST_KERNEL_ROOT}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/opt/kernel-tools", cfg.ToolRoots[0].Path)
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	writeFile(t, basePath, `
log_level: debug
default_limits:
  turns: 20
`)
	mainPath := filepath.Join(dir, "config.yaml")
	writeFile(t, mainPath, `
$include: base.yaml
telemetry_enabled: true
`)

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 20, cfg.DefaultLimits.Turns)
	require.True(t, cfg.TelemetryEnabled)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	writeFile(t, aPath, "$include: b.yaml\n")
	writeFile(t, bPath, "$include: a.yaml\n")

	_, err := Load(aPath)
	require.Error(t, err)
}

func TestLoadRejectsInvalidToolRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
tool_roots:
  - scope: project
`)

	_, err := Load(path)
	require.Error(t, err)
}
