package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-side-secret"))
	require.NoError(t, err)
	return tok
}

func TestAccessClaimsFromToken_PlainRoleClaim(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(15 * time.Minute).UTC()
	token := sign(t, jwt.MapClaims{
		"sub":  "42",
		"role": "Admin",
		"exp":  exp.Unix(),
	})

	claims, err := AccessClaimsFromToken(token)
	require.NoError(t, err)

	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "Admin", claims.Role)
	assert.WithinDuration(t, exp, claims.ExpiresAt, time.Second)
}

func TestAccessClaimsFromToken_IdentityRoleClaim(t *testing.T) {
	t.Parallel()

	token := sign(t, jwt.MapClaims{
		msRoleClaim: []any{"", "User"},
	})

	claims, err := AccessClaimsFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "User", claims.Role)
	assert.True(t, claims.ExpiresAt.IsZero())
}

func TestAccessClaimsFromToken_Garbage(t *testing.T) {
	t.Parallel()

	claims, err := AccessClaimsFromToken("not-a-jwt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Nil(t, claims)
}
