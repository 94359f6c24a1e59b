package channel

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, expiresAt, err := issuer.Issue("42")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	member, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", member)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	_, _, err := issuer.Issue("")
	assert.ErrorIs(t, err, ErrProviderRejected)

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewTokenIssuer("other", time.Hour).Issue("1")
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidUserToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := NewTokenIssuer("secret", -time.Minute).Issue("1")
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidUserToken)
	})

	t.Run("wrong scope", func(t *testing.T) {
		claims := UserClaims{
			Scope: "api",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidUserToken)
	})
}
