package authstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func TestSetAndGetTokenRoundTrip(t *testing.T) {
	store := NewStore(NewFileBackend(t.TempDir()))
	err := store.SetToken("github", "", "access-1", "refresh-1", time.Hour, []string{"repo"})
	require.NoError(t, err)

	token, err := store.GetToken("github", "")
	require.NoError(t, err)
	require.Equal(t, "access-1", token)
	require.True(t, store.IsAuthenticated("github", ""))
}

func TestGetTokenRefreshesExpiredAccessToken(t *testing.T) {
	store := NewStore(NewFileBackend(t.TempDir()))
	require.NoError(t, store.SetToken("github", "", "stale", "refresh-1", -time.Minute, nil))

	store.RegisterRefresh("github", func(service, scope, refreshToken string) (Secret, time.Duration, error) {
		require.Equal(t, "refresh-1", refreshToken)
		return Secret{AccessToken: "fresh", RefreshToken: "refresh-2"}, time.Hour, nil
	})

	token, err := store.GetToken("github", "")
	require.NoError(t, err)
	require.Equal(t, "fresh", token)
}

func TestGetTokenSurfacesRefreshError(t *testing.T) {
	store := NewStore(NewFileBackend(t.TempDir()))
	require.NoError(t, store.SetToken("github", "", "stale", "refresh-1", -time.Minute, nil))
	store.RegisterRefresh("github", func(service, scope, refreshToken string) (Secret, time.Duration, error) {
		return Secret{}, 0, errors.New("provider unreachable")
	})

	_, err := store.GetToken("github", "")
	require.Error(t, err)
	var refreshErr *core.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.Equal(t, "github", refreshErr.Service)
}

func TestClearTokenRemovesEntry(t *testing.T) {
	store := NewStore(NewFileBackend(t.TempDir()))
	require.NoError(t, store.SetToken("svc", "scope-a", "tok", "", time.Hour, nil))
	require.True(t, store.IsAuthenticated("svc", "scope-a"))

	require.NoError(t, store.ClearToken("svc", "scope-a"))
	require.False(t, store.IsAuthenticated("svc", "scope-a"))
}

func TestIsAuthenticatedScopesIndependently(t *testing.T) {
	store := NewStore(NewFileBackend(t.TempDir()))
	require.NoError(t, store.SetToken("svc", "scope-a", "tok-a", "", time.Hour, nil))
	require.True(t, store.IsAuthenticated("svc", "scope-a"))
	require.False(t, store.IsAuthenticated("svc", "scope-b"))
}
