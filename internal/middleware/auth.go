package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const operatorKey authCtxKey = 7

type OperatorClaims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// TokenAuth signs and verifies operator bearer tokens with a shared secret.
type TokenAuth struct {
	secret []byte
}

func NewTokenAuth(secret string) *TokenAuth {
	if secret == "" {
		secret = "adtrial-dev-secret"
	}
	return &TokenAuth{secret: []byte(secret)}
}

func (a *TokenAuth) SignToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *TokenAuth) parseToken(tok string) (*OperatorClaims, error) {
	t, err := jwt.ParseWithClaims(tok, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) { return a.secret, nil })
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*OperatorClaims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// RequireOperator rejects requests without a valid operator bearer token.
func (a *TokenAuth) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		c, err := a.parseToken(tok)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func OperatorFromContext(ctx context.Context) (*OperatorClaims, bool) {
	c, ok := ctx.Value(operatorKey).(*OperatorClaims)
	return c, ok
}
