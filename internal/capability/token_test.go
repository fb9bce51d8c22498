package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	caps := PermissionsToCaps([]string{"read:filesystem", "execute:tool:bash"})
	token, err := signer.Mint(caps, "kernel", time.Now().Add(time.Hour), "dir-1", "thread-1")
	require.NoError(t, err)

	claims, err := signer.Verify(token, "kernel")
	require.NoError(t, err)
	require.ElementsMatch(t, []core.Capability{"fs.read", "tool.bash"}, claims.Caps)
}

func TestWildcardToolPermissionExpandsToConcreteCaps(t *testing.T) {
	caps := PermissionsToCaps([]string{"execute:tool:*"})
	require.ElementsMatch(t, []core.Capability{"tool.bash"}, caps)
	for _, c := range caps {
		require.NotContains(t, string(c), "*")
	}

	signer, err := GenerateSigner()
	require.NoError(t, err)
	token, err := signer.Mint(caps, "kernel", time.Now().Add(time.Hour), "dir-1", "thread-1")
	require.NoError(t, err)
	claims, err := signer.Verify(token, "kernel")
	require.NoError(t, err)
	require.True(t, HasCapability(claims, "tool.bash"))
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)
	token, err := signer.Mint(nil, "kernel", time.Now().Add(time.Hour), "dir-1", "thread-1")
	require.NoError(t, err)

	_, err = signer.Verify(token, "other")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)
	token, err := signer.Mint(nil, "kernel", time.Now().Add(-time.Hour), "dir-1", "thread-1")
	require.NoError(t, err)

	_, err = signer.Verify(token, "kernel")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAttenuateIsSetIntersection(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	parentCaps := PermissionsToCaps([]string{"read:filesystem"})
	parentToken, err := signer.Mint(parentCaps, "kernel", time.Now().Add(time.Hour), "dir-1", "thread-1")
	require.NoError(t, err)
	parentClaims, err := signer.Verify(parentToken, "kernel")
	require.NoError(t, err)

	childToken, err := signer.Attenuate(parentClaims, []string{"read:filesystem", "write:filesystem"}, "kernel", time.Now().Add(time.Hour), "thread-2")
	require.NoError(t, err)
	childClaims, err := signer.Verify(childToken, "kernel")
	require.NoError(t, err)

	require.ElementsMatch(t, []core.Capability{"fs.read"}, childClaims.Caps)
	require.False(t, HasCapability(childClaims, "fs.write"))
}
