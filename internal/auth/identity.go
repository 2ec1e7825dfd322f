package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// TokenFromRequest extracts the raw token from the Authorization header, or
// from the token query parameter since browsers cannot set headers on a
// WebSocket handshake.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return r.URL.Query().Get("token")
}

// IdentityFromRequest returns the authenticated username of r.
func (ti *TokenIssuer) IdentityFromRequest(r *http.Request) (string, error) {
	return ti.Verify(TokenFromRequest(r))
}
