package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gatefs/gatefs/pkg/api/auth"
)

func newTestService(t *testing.T) *auth.JWTService {
	t.Helper()
	service, err := auth.NewJWTService(auth.JWTConfig{
		Secret:              "test-secret-key-must-be-32-chars!",
		AccessTokenDuration: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Failed to create JWT service: %v", err)
	}
	return service
}

func accessTokenFor(t *testing.T, service *auth.JWTService, user *auth.User) string {
	t.Helper()
	pair, err := service.GenerateTokenPair(user)
	if err != nil {
		t.Fatalf("Failed to generate token pair: %v", err)
	}
	return pair.AccessToken
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	service := newTestService(t)
	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/api/v1/mounts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestJWTAuth_MalformedHeader(t *testing.T) {
	service := newTestService(t)
	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	for _, header := range []string{"Basic abc", "Bearer", "token-without-scheme"} {
		req := httptest.NewRequest("GET", "/api/v1/mounts", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Header %q: expected status %d, got %d", header, http.StatusUnauthorized, w.Code)
		}
	}
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	service := newTestService(t)
	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/api/v1/mounts", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestJWTAuth_ValidToken(t *testing.T) {
	service := newTestService(t)
	token := accessTokenFor(t, service, &auth.User{Username: "alice", PasswordHash: "x"})

	var got *auth.Claims
	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/mounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got == nil {
		t.Fatal("Expected claims in context")
	}
	if got.Username != "alice" {
		t.Errorf("Expected username 'alice', got '%s'", got.Username)
	}
}

func TestJWTAuth_CaseInsensitiveScheme(t *testing.T) {
	service := newTestService(t)
	token := accessTokenFor(t, service, &auth.User{Username: "alice", PasswordHash: "x"})

	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/mounts", nil)
	req.Header.Set("Authorization", "bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestJWTAuth_RejectsRefreshToken(t *testing.T) {
	service := newTestService(t)
	pair, err := service.GenerateTokenPair(&auth.User{Username: "alice", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("Failed to generate token pair: %v", err)
	}

	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/api/v1/mounts", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequireAdmin_NoClaims(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("POST", "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequireAdmin_NonAdmin(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("POST", "/api/v1/jobs", nil)
	req = req.WithContext(WithClaims(req.Context(), &auth.Claims{Role: "user"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestRequireAdmin_Admin(t *testing.T) {
	called := false
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/jobs", nil)
	req = req.WithContext(WithClaims(req.Context(), &auth.Claims{Role: "admin"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("Expected handler to be called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}
