package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew refreshes slightly before the exp claim so a request does not
// race the server-side cutoff.
const expirySkew = 10 * time.Second

// tokenExpired decodes the access token's exp claim without verifying the
// signature. Opaque or claimless tokens report false; the 401 path covers them.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return now.After(claims.ExpiresAt.Time.Add(-expirySkew))
}
