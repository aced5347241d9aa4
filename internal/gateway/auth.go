package gateway

import (
	"net/http"
	"strings"
)

// authStatus checks the request credential against the configured access
// token. The Authorization header is consulted first, then the access_token
// query parameter. A credential passes when it contains the token as a
// substring, so "Bearer <token>" and bare "<token>" are both accepted.
// Returns 200, 401 (no credential) or 403 (credential without the token).
func authStatus(r *http.Request, token string) int {
	if token == "" {
		return http.StatusOK
	}
	value := r.Header.Get("Authorization")
	if value == "" {
		value = r.URL.Query().Get("access_token")
	}
	if value == "" {
		return http.StatusUnauthorized
	}
	if !strings.Contains(value, token) {
		return http.StatusForbidden
	}
	return http.StatusOK
}
