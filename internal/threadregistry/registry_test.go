package threadregistry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func TestCreateStartsInInitState(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "threads.yaml"))
	thread, err := reg.Create("directive-1", core.Limits{Turns: 10}, "")
	require.NoError(t, err)
	require.NotEmpty(t, thread.ThreadID)
	require.Equal(t, StatusInit, thread.Status)

	got, ok, err := reg.Get(thread.ThreadID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusInit, got.Status)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "threads.yaml"))
	thread, err := reg.Create("directive-1", core.Limits{}, "")
	require.NoError(t, err)

	require.NoError(t, reg.Transition(thread.ThreadID, StatusRunning, core.CostLedger{}))
	require.NoError(t, reg.Pause(thread.ThreadID))

	got, _, err := reg.Get(thread.ThreadID)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, got.Status)

	require.NoError(t, reg.Resume(thread.ThreadID))
	got, _, err = reg.Get(thread.ThreadID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
}

func TestPauseRejectsNonRunningThread(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "threads.yaml"))
	thread, err := reg.Create("directive-1", core.Limits{}, "")
	require.NoError(t, err)

	err = reg.Pause(thread.ThreadID)
	require.Error(t, err)
}

func TestTransitionRejectsAlreadyTerminalThread(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "threads.yaml"))
	thread, err := reg.Create("directive-1", core.Limits{}, "")
	require.NoError(t, err)

	require.NoError(t, reg.Transition(thread.ThreadID, StatusSucceeded, core.CostLedger{}))
	err = reg.Transition(thread.ThreadID, StatusFailed, core.CostLedger{})
	require.Error(t, err)
}

func TestListReturnsAllThreads(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "threads.yaml"))
	_, err := reg.Create("directive-1", core.Limits{}, "")
	require.NoError(t, err)
	_, err = reg.Create("directive-2", core.Limits{}, "")
	require.NoError(t, err)

	threads, err := reg.List()
	require.NoError(t, err)
	require.Len(t, threads, 2)
}

func TestGetUnknownThreadReturnsNotFound(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "threads.yaml"))
	_, ok, err := reg.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}
