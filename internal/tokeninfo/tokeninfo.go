// Package tokeninfo does a best-effort, unverified decode of the
// gateway auth token to warn as its expiry approaches. MetaApi
// provisioning tokens are opaque strings as often as they are JWTs; a
// token that does not parse as a JWT is silently ignored (spec.md S4.12
// expansion).
package tokeninfo

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WarnWindow is how close to expiry a token must be at connect time to
// produce a warning rather than an informational log line.
const WarnWindow = 5 * time.Minute

// Info is the result of inspecting a token. Valid is false when the
// token does not parse as a JWT at all, in which case Expiry is the
// zero value and callers should not log anything about it.
type Info struct {
	Valid  bool
	Expiry time.Time
}

// Inspect parses token as an unverified JWT and extracts its exp claim.
// The SDK is never the token's issuer and has no verification key, so
// signature verification is deliberately skipped; this is diagnostic
// only and never rejects a token.
func Inspect(token string) Info {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return Info{}
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return Info{}
	}
	return Info{Valid: true, Expiry: time.Unix(int64(expFloat), 0)}
}

// NearExpiry reports whether info represents a token expiring within
// WarnWindow of now.
func (i Info) NearExpiry(now time.Time) bool {
	return i.Valid && i.Expiry.After(now) && i.Expiry.Sub(now) < WarnWindow
}

// Expired reports whether info represents a token whose exp has passed.
func (i Info) Expired(now time.Time) bool {
	return i.Valid && !i.Expiry.After(now)
}
