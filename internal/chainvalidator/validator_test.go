package chainvalidator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func execID(s string) *string { return &s }

func TestValidateEmptyChainIsValid(t *testing.T) {
	result := Validate(core.ResolvedChain{}, nil)
	require.True(t, result.Valid)
	require.Empty(t, result.Issues)
}

func TestValidateVersionConstraintViolationIsIssue(t *testing.T) {
	chain := core.ResolvedChain{Entries: []core.ChainEntry{
		{ToolID: "my_tool", Version: "0.5.0", ExecutorID: execID("python_runtime")},
		{ToolID: "python_runtime", Version: "1.0.0", ExecutorID: execID("subprocess")},
		{ToolID: "subprocess", Version: "1.0.0"},
	}}
	result := Validate(chain, VersionConstraint{"my_tool": ">=1.0.0"})
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Issues)
}

func TestValidateSatisfiedConstraintProducesNoIssues(t *testing.T) {
	chain := core.ResolvedChain{Entries: []core.ChainEntry{
		{ToolID: "my_tool", Version: "1.2.0", ExecutorID: execID("python_runtime")},
		{ToolID: "python_runtime", Version: "1.0.0"},
	}}
	result := Validate(chain, VersionConstraint{"my_tool": ">=1.0.0, <2.0.0"})
	require.True(t, result.Valid)
	require.Equal(t, 1, result.ValidatedPairs)
}

func TestValidateTerminalEntryMissingExecutorIDIsNotWarned(t *testing.T) {
	chain := core.ResolvedChain{Entries: []core.ChainEntry{
		{ToolID: "my_tool", Version: "1.0.0", ExecutorID: execID("subprocess")},
		{ToolID: "subprocess", Version: "1.0.0"},
	}}
	result := Validate(chain, nil)
	require.True(t, result.Valid)
	require.Empty(t, result.Warnings)
}

func TestValidateNonTerminalEntryMissingExecutorIDIsWarned(t *testing.T) {
	chain := core.ResolvedChain{Entries: []core.ChainEntry{
		{ToolID: "my_tool", Version: "1.0.0", ExecutorID: execID("python_runtime")},
		{ToolID: "python_runtime", Version: "1.0.0"},
		{ToolID: "subprocess", Version: "1.0.0", ExecutorID: execID("subprocess")},
	}}
	result := Validate(chain, nil)
	require.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "python_runtime")
}

func TestValidateParamsAgainstSchema(t *testing.T) {
	schema := []byte(`{"type":"object","required":["command"],"properties":{"command":{"type":"string"}}}`)
	err := ValidateParams("echo", schema, map[string]any{"command": "echo"})
	require.NoError(t, err)

	err = ValidateParams("echo", schema, map[string]any{})
	require.Error(t, err)
}
