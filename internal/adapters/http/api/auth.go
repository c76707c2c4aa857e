package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	ctxEmployeeID contextKey = "employeeID"
	ctxRoles      contextKey = "roles"
)

// TokenVerifier checks HS256 bearer tokens issued by the identity service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier returns a verifier. An empty issuer accepts any issuer.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Claims is what the API reads from a token.
type Claims struct {
	EmployeeID string
	Roles      []string
}

// Verify parses and validates a token string. A verifier without a secret
// accepts nothing.
func (v *TokenVerifier) Verify(tokenStr string) (Claims, error) {
	if len(v.secret) == 0 {
		return Claims{}, errors.New("no signing secret configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return Claims{}, errors.New("invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Claims{}, errors.New("token has no subject")
	}
	roles := []string{}
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	return Claims{EmployeeID: sub, Roles: roles}, nil
}

// WithAuth requires a valid bearer token. When allowQuery is set a
// ?token= parameter is accepted in place of the header.
func WithAuth(v *TokenVerifier, allowQuery bool) func(http.Handler) http.Handler {
	const op = "api.auth"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearer(r)
			if tokenStr == "" && allowQuery {
				tokenStr = r.URL.Query().Get("token")
			}
			if tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody(NewKind(op, ErrUnauthorized)))
				return
			}
			claims, err := v.Verify(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody(WrapKind(op, ErrUnauthorized, err)))
				return
			}
			ctx := context.WithValue(r.Context(), ctxEmployeeID, claims.EmployeeID)
			ctx = context.WithValue(ctx, ctxRoles, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func errorBody(err error) errorResponse {
	_, body := errorStatus(err)
	return body
}

// CurrentEmployeeID returns the authenticated subject.
func CurrentEmployeeID(r *http.Request) string {
	if value, ok := r.Context().Value(ctxEmployeeID).(string); ok {
		return value
	}
	return ""
}

// CurrentRoles returns the authenticated roles.
func CurrentRoles(r *http.Request) []string {
	if value, ok := r.Context().Value(ctxRoles).([]string); ok {
		return value
	}
	return nil
}

func hasAnyRole(r *http.Request, roles ...string) bool {
	for _, have := range CurrentRoles(r) {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// RequireAnyRole rejects requests whose token carries none of roles.
func RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasAnyRole(r, roles...) {
				writeJSON(w, http.StatusForbidden, errorBody(NewKind("api.role", ErrForbidden)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
