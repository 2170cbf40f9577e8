package handlers

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hairizuanbinnoorazman/guiagent/logger"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// ScopeKey is the context key for the authenticated scope.
	ScopeKey ContextKey = "scope"

	// AuthMethodKey is the context key for the authentication method.
	AuthMethodKey ContextKey = "auth_method"
)

// Token scopes.
const (
	ScopeReadOnly  = "read_only"
	ScopeReadWrite = "read_write"
)

// AuthMiddleware validates bearer tokens against bcrypt hashes and adds the
// granted scope to the context.
type AuthMiddleware struct {
	readWriteHash []byte
	readOnlyHash  []byte
	logger        logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware. With both hashes
// empty every request is granted read_write.
func NewAuthMiddleware(readWriteHash, readOnlyHash string, log logger.Logger) *AuthMiddleware {
	m := &AuthMiddleware{logger: log}
	if readWriteHash != "" {
		m.readWriteHash = []byte(readWriteHash)
	}
	if readOnlyHash != "" {
		m.readOnlyHash = []byte(readOnlyHash)
	}
	return m
}

// Enabled reports whether a token is required.
func (m *AuthMiddleware) Enabled() bool {
	return m.readWriteHash != nil || m.readOnlyHash != nil
}

// Handler wraps an HTTP handler with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			ctx := context.WithValue(r.Context(), ScopeKey, ScopeReadWrite)
			ctx = context.WithValue(ctx, AuthMethodKey, "none")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			m.logger.Warn(r.Context(), "missing bearer token", map[string]interface{}{
				"path": r.URL.Path,
			})
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		rawToken := []byte(strings.TrimPrefix(authHeader, "Bearer "))

		var scope string
		switch {
		case m.readWriteHash != nil && bcrypt.CompareHashAndPassword(m.readWriteHash, rawToken) == nil:
			scope = ScopeReadWrite
		case m.readOnlyHash != nil && bcrypt.CompareHashAndPassword(m.readOnlyHash, rawToken) == nil:
			scope = ScopeReadOnly
		default:
			m.logger.Warn(r.Context(), "invalid bearer token", map[string]interface{}{
				"path": r.URL.Path,
			})
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ScopeKey, scope)
		ctx = context.WithValue(ctx, AuthMethodKey, "bearer")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetScope extracts the scope from the request context. A request that did
// not pass through AuthMiddleware is read_only.
func GetScope(ctx context.Context) string {
	scope, ok := ctx.Value(ScopeKey).(string)
	if !ok {
		return ScopeReadOnly
	}
	return scope
}

// GetAuthMethod extracts the authentication method from the request context.
func GetAuthMethod(ctx context.Context) string {
	method, ok := ctx.Value(AuthMethodKey).(string)
	if !ok {
		return "none"
	}
	return method
}

// RequireWriteScope checks if the current request has write scope.
// Returns true if the scope is read_write, false otherwise (and writes a 403 response).
func RequireWriteScope(w http.ResponseWriter, r *http.Request) bool {
	if GetScope(r.Context()) != ScopeReadWrite {
		respondError(w, http.StatusForbidden, "write access required")
		return false
	}
	return true
}

// WriteScopeMiddleware enforces write scope for state-mutating HTTP methods.
// GET and HEAD requests pass through regardless of scope.
func WriteScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			if !RequireWriteScope(w, r) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
