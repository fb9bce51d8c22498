package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
	"github.com/leolilley/kiwi-mcp-sub008/internal/executorresolver"
	"github.com/leolilley/kiwi-mcp-sub008/internal/lockfile"
	"github.com/leolilley/kiwi-mcp-sub008/internal/telemetry"
)

func newTestExecutor(t *testing.T, tools map[string]*core.Tool) *Executor {
	t.Helper()
	exec := New(executorresolver.NewResolver(), nil, lockfile.NewStore(t.TempDir(), t.TempDir()), telemetry.NewStore("", false), nil)
	exec.ParseMetadata = func(path string) (*core.Tool, error) {
		tool, ok := tools[path]
		if !ok {
			return nil, &core.ExecutorNotFoundError{ExecutorID: path}
		}
		clone := *tool
		return &clone, nil
	}
	exec.HashTool = func(t *core.Tool) (string, error) {
		return "deadbeef", nil
	}
	return exec
}

func subprocessTool() *core.Tool {
	return &core.Tool{
		ToolID:   "echo-tool",
		Path:     "tools/echo.md",
		ToolType: core.ToolTypePrimitive,
		Version:  "1.0.0",
		Config: map[string]any{
			"command": "echo",
		},
	}
}

func TestExecuteDispatchesSubprocessPrimitiveDirectly(t *testing.T) {
	tool := subprocessTool()
	exec := newTestExecutor(t, map[string]*core.Tool{"tools/echo.md": tool})

	result, err := exec.Execute(context.Background(), Request{
		ToolPath: "tools/echo.md",
		Parameters: map[string]any{
			"command": "echo",
			"args":    []any{"hi"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 1, result.Chain.Depth())
	require.NotNil(t, result.Subprocess)
	require.Equal(t, 1, result.SubprocCalls)
}

func TestExecuteFreezesLockfileOnFirstRun(t *testing.T) {
	tool := subprocessTool()
	exec := newTestExecutor(t, map[string]*core.Tool{"tools/echo.md": tool})

	_, err := exec.Execute(context.Background(), Request{ToolPath: "tools/echo.md", Parameters: map[string]any{"command": "echo"}})
	require.NoError(t, err)

	lf, found, err := exec.Lockfiles.GetLockfile(tool.ToolID, tool.Version, tool.Category)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, tool.ToolID, lf.Root.ToolID)
}

func TestExecuteRejectsParamsViolatingConfigSchema(t *testing.T) {
	tool := subprocessTool()
	tool.ConfigSchema = []byte(`{"type":"object","required":["command"],"properties":{"command":{"type":"string"}}}`)
	exec := newTestExecutor(t, map[string]*core.Tool{"tools/echo.md": tool})

	_, err := exec.Execute(context.Background(), Request{
		ToolPath:   "tools/echo.md",
		Parameters: map[string]any{"args": []any{"hi"}},
	})
	require.Error(t, err)
	var schemaErr *core.SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
}

func TestExecuteFollowsExecutorChainToPrimitive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	root := t.TempDir()
	executorFile := filepath.Join(root, "http_client.md")
	require.NoError(t, os.WriteFile(executorFile, []byte("primitive"), 0o644))

	executorID := "http_client"
	leafPath := filepath.Join(root, "leaf.md")
	leaf := &core.Tool{
		ToolID:     "leaf-tool",
		Path:       leafPath,
		ToolType:   core.ToolTypeAPI,
		Version:    "1.0.0",
		ExecutorID: &executorID,
	}
	primitive := &core.Tool{
		ToolID:   "http-primitive",
		Path:     executorFile,
		ToolType: core.ToolTypePrimitive,
		Version:  "1.0.0",
		Config: map[string]any{
			"url": server.URL,
		},
	}
	exec := newTestExecutor(t, map[string]*core.Tool{
		leafPath:     leaf,
		executorFile: primitive,
	})
	exec.Resolver = executorresolver.NewResolver(root)

	result, err := exec.Execute(context.Background(), Request{
		ToolPath: leafPath,
		Parameters: map[string]any{
			"url":    server.URL,
			"method": "GET",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Chain.Depth())
	require.True(t, result.Success)
}

func TestPrimitiveKindDetectsFromConfig(t *testing.T) {
	tool := &core.Tool{Config: map[string]any{"command": "ls"}}
	require.Equal(t, "subprocess", primitiveKind(tool))

	httpTool := &core.Tool{Config: map[string]any{"url": "https://example.test"}}
	require.Equal(t, "http", primitiveKind(httpTool))

	unknown := &core.Tool{ToolID: "mystery"}
	require.Equal(t, "", primitiveKind(unknown))
}

func TestMergeEnvParamOverlaysWithoutDroppingExisting(t *testing.T) {
	params := map[string]any{"env": map[string]any{"FOO": "bar"}}
	mergeEnvParam(params, map[string]string{"BAZ": "qux"})

	merged := params["env"].(map[string]string)
	require.Equal(t, "bar", merged["FOO"])
	require.Equal(t, "qux", merged["BAZ"])
}
