package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Roles understood by the appointment service.
const (
	RoleCustomer   = "customer"
	RoleEmployee   = "employee"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignHS256 issues a short-lived token. Token issuance belongs to the identity
// service; this exists for tests and local tooling.
func SignHS256(subject, role string, ttl time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verifier validates HS256 tokens with a shared secret and, when a JWKS client is
// configured, RS256 tokens by key id.
type Verifier struct {
	secret []byte
	jwks   *JWKSClient
}

func NewVerifier(secret string, jwks *JWKSClient) *Verifier {
	return &Verifier{secret: []byte(secret), jwks: jwks}
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, errors.New("hs256 secret not configured")
			}
			return v.secret, nil
		case *jwt.SigningMethodRSA:
			if v.jwks == nil {
				return nil, errors.New("rs256 tokens not accepted")
			}
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			return v.jwks.Get(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	}, jwt.WithValidMethods([]string{"HS256", "RS256"}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
