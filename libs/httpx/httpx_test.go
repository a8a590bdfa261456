package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Serryudy/EAD-sub001/libs/auth"
)

func TestLocalRateLimiterBlocksAfterBurst(t *testing.T) {
	l := NewLocalRateLimiter(2, time.Minute)
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(context.Background(), "k")
		if err != nil || !ok {
			t.Fatalf("request %d should be allowed (ok=%v err=%v)", i, ok, err)
		}
	}
	if ok, _ := l.Allow(context.Background(), "k"); ok {
		t.Fatal("third request within window should be rejected")
	}
	if ok, _ := l.Allow(context.Background(), "other"); !ok {
		t.Fatal("keys must be limited independently")
	}
}

func TestLocalRateLimiterSweep(t *testing.T) {
	l := NewLocalRateLimiter(1, time.Second)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	_, _ = l.Allow(context.Background(), "a")

	now = now.Add(10 * time.Second)
	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected 1 idle visitor removed, got %d", removed)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimit(NewLocalRateLimiter(1, time.Minute), "test", nil, nil, false)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRequireAuthAndRole(t *testing.T) {
	secret := "s3cret"
	verifier := auth.NewVerifier(secret, nil)

	var seen Principal
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), RequireAuth(verifier), RequireRole(auth.RoleAdmin))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	customer, _ := auth.SignHS256("c-1", auth.RoleCustomer, time.Hour, secret)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+customer)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rec.Code)
	}

	admin, _ := auth.SignHS256("a-1", auth.RoleAdmin, time.Hour, secret)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
	if seen.UserID != "a-1" || seen.Role != auth.RoleAdmin {
		t.Fatalf("principal mismatch: %+v", seen)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://shop.example"}})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/appointments", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestTrustHeaders(t *testing.T) {
	var seen Principal
	h := TrustHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user header, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "t-1")
	req.Header.Set(RoleHeader, auth.RoleTechnician)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen.UserID != "t-1" || seen.Role != auth.RoleTechnician {
		t.Fatalf("unexpected principal %+v (code %d)", seen, rec.Code)
	}
}
