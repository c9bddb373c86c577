package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/quotamail/internal/security/secretbox"
)

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	require.Len(t, a, 43)
	require.NotEqual(t, a, b)
}

func TestGenerateSecretBoxKey_Parses(t *testing.T) {
	k, err := GenerateSecretBoxKey()
	require.NoError(t, err)
	raw, err := secretbox.ParseKey(k)
	require.NoError(t, err)
	require.Len(t, raw, 32)
}
