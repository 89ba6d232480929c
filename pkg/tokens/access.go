package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// msRoleClaim is the role claim name ASP.NET Identity puts into issued tokens.
const msRoleClaim = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"

var ErrMalformed = errors.New("malformed access token")

type AccessClaims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// AccessClaimsFromToken decodes the claims of an access token without
// checking its signature. The client never holds the signing key; the
// backend remains the authority on validity.
func AccessClaimsFromToken(tokenStr string) (*AccessClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := &AccessClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	out.Role = firstString(claims["role"])
	if out.Role == "" {
		out.Role = firstString(claims[msRoleClaim])
	}
	return out, nil
}

func firstString(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case []any:
		for _, x := range r {
			if s, ok := x.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
