package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hairizuanbinnoorazman/guiagent/logger"
)

func hashToken(t *testing.T, token string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}
	return string(hash)
}

func TestRequireWriteScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		scope      string
		wantOK     bool
		wantStatus int
	}{
		{
			name:   "read_write scope passes",
			scope:  ScopeReadWrite,
			wantOK: true,
		},
		{
			name:       "read_only scope returns 403",
			scope:      ScopeReadOnly,
			wantOK:     false,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no scope in context returns 403",
			scope:      "",
			wantOK:     false,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/test", nil)
			if tc.scope != "" {
				ctx := context.WithValue(req.Context(), ScopeKey, tc.scope)
				req = req.WithContext(ctx)
			}
			w := httptest.NewRecorder()

			got := RequireWriteScope(w, req)
			if got != tc.wantOK {
				t.Errorf("RequireWriteScope() = %v, want %v", got, tc.wantOK)
			}
			if !tc.wantOK && w.Code != tc.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}

func TestWriteScopeMiddleware(t *testing.T) {
	t.Parallel()

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		method     string
		scope      string
		wantStatus int
	}{
		{name: "GET with read_only passes", method: http.MethodGet, scope: ScopeReadOnly, wantStatus: http.StatusOK},
		{name: "GET with read_write passes", method: http.MethodGet, scope: ScopeReadWrite, wantStatus: http.StatusOK},
		{name: "POST with read_write passes", method: http.MethodPost, scope: ScopeReadWrite, wantStatus: http.StatusOK},
		{name: "POST with read_only blocked", method: http.MethodPost, scope: ScopeReadOnly, wantStatus: http.StatusForbidden},
		{name: "DELETE with read_only blocked", method: http.MethodDelete, scope: ScopeReadOnly, wantStatus: http.StatusForbidden},
		{name: "HEAD with read_only passes", method: http.MethodHead, scope: ScopeReadOnly, wantStatus: http.StatusOK},
		{name: "GET without auth passes", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "POST without auth blocked", method: http.MethodPost, wantStatus: http.StatusForbidden},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tc.method, "/test", nil)
			if tc.scope != "" {
				ctx := context.WithValue(req.Context(), ScopeKey, tc.scope)
				req = req.WithContext(ctx)
			}

			w := httptest.NewRecorder()
			WriteScopeMiddleware(okHandler).ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	rwHash := hashToken(t, "rw-token")
	roHash := hashToken(t, "ro-token")

	tests := []struct {
		name       string
		rwHash     string
		roHash     string
		header     string
		wantStatus int
		wantScope  string
		wantMethod string
	}{
		{name: "disabled grants read_write", wantStatus: http.StatusOK, wantScope: ScopeReadWrite, wantMethod: "none"},
		{name: "missing header", rwHash: rwHash, wantStatus: http.StatusUnauthorized},
		{name: "non bearer header", rwHash: rwHash, header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", rwHash: rwHash, roHash: roHash, header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "read_write token", rwHash: rwHash, roHash: roHash, header: "Bearer rw-token", wantStatus: http.StatusOK, wantScope: ScopeReadWrite, wantMethod: "bearer"},
		{name: "read_only token", rwHash: rwHash, roHash: roHash, header: "Bearer ro-token", wantStatus: http.StatusOK, wantScope: ScopeReadOnly, wantMethod: "bearer"},
		{name: "read_only only", roHash: roHash, header: "Bearer ro-token", wantStatus: http.StatusOK, wantScope: ScopeReadOnly, wantMethod: "bearer"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var gotScope, gotMethod string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotScope = GetScope(r.Context())
				gotMethod = GetAuthMethod(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			m := NewAuthMiddleware(tc.rwHash, tc.roHash, logger.Nop())
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			m.Handler(next).ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status code = %d, want %d", w.Code, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			if gotScope != tc.wantScope {
				t.Errorf("scope = %q, want %q", gotScope, tc.wantScope)
			}
			if gotMethod != tc.wantMethod {
				t.Errorf("auth method = %q, want %q", gotMethod, tc.wantMethod)
			}
		})
	}
}
