package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ez-Support/swd-ros-controllers/internal/drive"
)

type claimsKey struct{}

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates the middleware. A nil verifier disables
// authentication: every request runs as an anonymous principal holding all
// scopes.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// Enabled reports whether tokens are verified.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

var anonymous = &Claims{
	Subject: "anonymous",
	Roles:   []string{RoleOperator},
	Scopes:  []string{ScopeRead, ScopeControl, ScopeTelemetry},
}

// RequireAuth verifies the bearer token and stores the claims in the
// request context. The subject also becomes the drive actor for audit.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := anonymous
		if m.verifier != nil {
			token, err := extractBearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			claims, err = m.verifier.VerifyToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = drive.WithActor(ctx, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope rejects requests whose claims lack any of the scopes.
func (m *Middleware) RequireScope(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			if !claims.HasScopes(scopes...) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}
			next(w, r)
		}
	}
}

// Protect is RequireAuth followed by RequireScope.
func (m *Middleware) Protect(next http.HandlerFunc, scopes ...string) http.HandlerFunc {
	return m.RequireAuth(m.RequireScope(scopes...)(next))
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// extractBearerToken reads the Authorization header. Browsers cannot set
// headers on EventSource or WebSocket requests, so the access_token query
// parameter is accepted as well.
func extractBearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return "", errors.New("invalid Authorization header format")
		}
		token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if token == "" {
			return "", errors.New("empty token")
		}
		return token, nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", errors.New("missing Authorization header")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
