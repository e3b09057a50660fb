package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestAdminAuthVerify(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	auth := NewAdminAuth(string(hash))
	if !auth.Verify("secret") {
		t.Fatal("correct key should verify")
	}
	if auth.Verify("wrong") {
		t.Fatal("wrong key should not verify")
	}
	if auth.Verify("") {
		t.Fatal("empty key should not verify against a configured hash")
	}

	// Development mode: no hash configured, everything passes.
	open := NewAdminAuth("")
	if !open.Verify("") || !open.Verify("anything") {
		t.Fatal("empty hash should disable auth")
	}
}

func TestRequireAuth(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	auth := NewAdminAuth(string(hash))

	handler := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should be 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/conversations", nil)
	req.Header.Set("X-Admin-Key", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid key should pass, got %d", rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if ip := RealIP(req); ip != "10.0.0.1" {
		t.Fatalf("expected remote addr host, got %q", ip)
	}

	req.Header.Set("X-Real-IP", "2.2.2.2")
	if ip := RealIP(req); ip != "2.2.2.2" {
		t.Fatalf("expected X-Real-IP, got %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "3.3.3.3, 4.4.4.4")
	if ip := RealIP(req); ip != "3.3.3.3" {
		t.Fatalf("expected first X-Forwarded-For entry, got %q", ip)
	}
}
