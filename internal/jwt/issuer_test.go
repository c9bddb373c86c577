package jwt

import (
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssuer_RoundTrip(t *testing.T) {
	iss, err := NewIssuer("s3cret", "quotamail", "quotamail-api")
	require.NoError(t, err)

	tok, exp, err := iss.IssueAccess("user-1", time.Minute)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	sub, err := iss.Subject(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)
}

func TestIssuer_Rejects(t *testing.T) {
	iss, err := NewIssuer("s3cret", "quotamail", "")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other, _ := NewIssuer("other", "quotamail", "")
		tok, _, err := other.IssueAccess("user-1", time.Minute)
		require.NoError(t, err)
		_, err = iss.Subject(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, _ := NewIssuer("s3cret", "someone-else", "")
		tok, _, _ := other.IssueAccess("user-1", time.Minute)
		_, err := iss.Subject(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old, _ := NewIssuer("s3cret", "quotamail", "")
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		tok, _, _ := old.IssueAccess("user-1", time.Minute)
		_, err := iss.Subject(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("alg none", func(t *testing.T) {
		tk := jwtv5.NewWithClaims(jwtv5.SigningMethodNone, jwtv5.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "quotamail",
			ExpiresAt: jwtv5.NewNumericDate(time.Now().Add(time.Minute)),
		})
		raw, err := tk.SignedString(jwtv5.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Subject(raw)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing sub", func(t *testing.T) {
		tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.RegisteredClaims{
			Issuer:    "quotamail",
			ExpiresAt: jwtv5.NewNumericDate(time.Now().Add(time.Minute)),
		})
		raw, err := tk.SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = iss.Subject(raw)
		require.ErrorIs(t, err, ErrMissingSub)
	})
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := NewIssuer("  ", "", "")
	require.ErrorIs(t, err, ErrMissingSecret)

	iss, _ := NewIssuer("x", "", "")
	_, _, err = iss.IssueAccess("", 0)
	require.ErrorIs(t, err, ErrMissingSub)
}
