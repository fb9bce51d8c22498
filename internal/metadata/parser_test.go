package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func writeTool(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFilePrimitive(t *testing.T) {
	dir := t.TempDir()
	path := writeTool(t, dir, "echo.py", "---\ntool_type: primitive\nversion: 1.0.0\ncategory: builtin\n---\nprint('hi')\n")

	tool, err := ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, "echo", tool.ToolID)
	require.Equal(t, core.ToolTypePrimitive, tool.ToolType)
	require.True(t, tool.IsPrimitive())
}

func TestParseFileRuntimeWithEnvConfig(t *testing.T) {
	dir := t.TempDir()
	content := `---
tool_type: runtime
executor_id: subprocess
version: 2.0.0
category: interpreter
env_config:
  interpreter:
    kind: venv_python
    var: RYE_PYTHON
    roots: [project, user]
    fallback: python3
---
`
	path := writeTool(t, dir, "python_runtime.py", content)

	tool, err := ParseFile(path)
	require.NoError(t, err)
	require.NotNil(t, tool.ExecutorID)
	require.Equal(t, "subprocess", *tool.ExecutorID)
	require.Equal(t, core.InterpreterVenvPython, tool.EnvConfig.Interpreter.Kind)
	require.Equal(t, "RYE_PYTHON", tool.EnvConfig.Interpreter.Var)
}

func TestParseFileRejectsNullExecutorNonPrimitive(t *testing.T) {
	dir := t.TempDir()
	path := writeTool(t, dir, "bad.py", "---\ntool_type: runtime\nversion: 1.0.0\n---\n")

	_, err := ParseFile(path)
	require.Error(t, err)
}

func TestParseFileBareYAMLSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeTool(t, dir, "tool.yaml", "tool_type: primitive\nversion: 1.0.0\ncategory: builtin\n")

	tool, err := ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, core.ToolTypePrimitive, tool.ToolType)
}
