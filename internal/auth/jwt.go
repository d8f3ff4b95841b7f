// Package auth issues and validates the JWTs that protect the upload API,
// and rate-limits failed login attempts by client IP.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenLifetime is how long an issued token stays valid.
const TokenLifetime = 24 * time.Hour

type contextKey string

const claimsContextKey contextKey = "authClaims"

// Claims are the JWT claims carried by issued tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies tokens with a shared HMAC secret.
type JWTService struct {
	secret []byte
	now    func() time.Time
}

// NewJWTService creates a JWTService. The secret must be non-empty; callers
// validate that through config before wiring.
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// GenerateToken creates a signed JWT for the given username.
func (s *JWTService) GenerateToken(username string) (string, error) {
	expirationTime := s.now().Add(TokenLifetime)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			Issuer:    "courseloom-ingest",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates a token string and returns its claims.
func (s *JWTService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware guards an endpoint with bearer-token auth. Validated claims are
// placed on the request context for the handler.
func (s *JWTService) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header missing", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := s.ParseToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// ClaimsFromContext returns the claims placed by Middleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}
