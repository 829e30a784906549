package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/neoraffle/internal/logging"
)

func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func generateTestToken(t *testing.T, privateKey *rsa.PrivateKey, userID, role string, expired bool) string {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func adminChain(m *AuthMiddleware, seen *string) http.Handler {
	return m.Handler(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})))
}

func TestNewAuthMiddlewareFromPEM(t *testing.T) {
	_, publicKey := generateTestKeys(t)
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	m, err := NewAuthMiddlewareFromPEM(block, logging.NewDiscard("test"))
	if err != nil {
		t.Fatalf("NewAuthMiddlewareFromPEM() error = %v", err)
	}
	if !m.publicKey.Equal(publicKey) {
		t.Error("publicKey not parsed correctly")
	}

	if _, err := NewAuthMiddlewareFromPEM([]byte("not a key"), logging.NewDiscard("test")); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestAuthMiddleware_Handler(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)
	otherKey, _ := generateTestKeys(t)
	m := NewAuthMiddleware(publicKey, logging.NewDiscard("test"))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"bad format", "Token abc", http.StatusUnauthorized, ""},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + generateTestToken(t, privateKey, "ops", RoleAdmin, true), http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + generateTestToken(t, otherKey, "ops", RoleAdmin, false), http.StatusUnauthorized, ""},
		{"not admin", "Bearer " + generateTestToken(t, privateKey, "alice", "user", false), http.StatusForbidden, ""},
		{"admin", "Bearer " + generateTestToken(t, privateKey, "ops", RoleAdmin, false), http.StatusOK, "ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			req := httptest.NewRequest(http.MethodPost, "/admin/recover", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			adminChain(m, &seen).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if seen != tt.wantUser {
				t.Errorf("user = %q, want %q", seen, tt.wantUser)
			}
		})
	}
}

func TestAuthMiddleware_SubjectFallback(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)
	m := NewAuthMiddleware(publicKey, logging.NewDiscard("test"))

	claims := &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var seen string
	req := httptest.NewRequest(http.MethodPost, "/admin/recover", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	adminChain(m, &seen).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || seen != "operator" {
		t.Errorf("status = %d user = %q", rec.Code, seen)
	}
}

func TestAuthMiddleware_RejectsHMAC(t *testing.T) {
	_, publicKey := generateTestKeys(t)
	m := NewAuthMiddleware(publicKey, logging.NewDiscard("test"))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "ops", Role: RoleAdmin}).
		SignedString([]byte("shared"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := m.validateToken(token); err == nil {
		t.Error("validateToken() accepted an HMAC token")
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	handler := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
