package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utdesign/procurement-engine/procurement"
)

// Claims is the token payload identifying the caller.
type Claims struct {
	Email    string           `json:"email"`
	Role     procurement.Role `json:"role"`
	Projects []int            `json:"projects"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// SignToken issues an HS256 token for actor, valid for ttl.
func SignToken(secret []byte, actor procurement.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    actor.Email,
		Role:     actor.Role,
		Projects: actor.ProjectNumbers,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies a token and returns the actor it names.
func ParseToken(secret []byte, token string) (procurement.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return procurement.Actor{}, err
	}
	if claims.Email == "" {
		return procurement.Actor{}, errors.New("token carries no email")
	}
	if !claims.Role.Valid() {
		return procurement.Actor{}, fmt.Errorf("token carries unknown role %q", claims.Role)
	}
	return procurement.Actor{
		Email:          claims.Email,
		Role:           claims.Role,
		ProjectNumbers: claims.Projects,
	}, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller in the request context.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
				return
			}
			actor, err := ParseToken(secret, raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Details: err.Error()})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

// ActorFrom returns the authenticated caller.
func ActorFrom(ctx context.Context) procurement.Actor {
	actor, _ := ctx.Value(actorKey{}).(procurement.Actor)
	return actor
}
