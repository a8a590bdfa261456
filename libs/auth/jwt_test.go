package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256RoundTrip(t *testing.T) {
	secret := "test-secret"
	token, err := SignHS256("user-1", RoleCustomer, time.Hour, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	claims, err := NewVerifier(secret, nil).Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != RoleCustomer {
		t.Fatalf("claims mismatch: got %+v", claims)
	}
	if _, err := NewVerifier("wrong-secret", nil).Verify(context.Background(), token); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256("user-1", RoleAdmin, -time.Minute, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := NewVerifier("s", nil).Verify(context.Background(), token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRS256ViaJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "kid-1",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		Role: RoleTechnician,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tech-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign rs256: %v", err)
	}

	v := NewVerifier("", NewJWKSClient(srv.URL, time.Minute))
	claims, err := v.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "tech-7" || claims.Role != RoleTechnician {
		t.Fatalf("claims mismatch: got %+v", claims)
	}
}
