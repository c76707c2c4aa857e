package loadsim

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// staticToken hands the agent client a fixed bearer token.
type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }

// signToken issues an HS256 token the server's verifier accepts.
func signToken(config *Config, subject string, now time.Time, roles ...string) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	if config.JWTIssuer != "" {
		claims["iss"] = config.JWTIssuer
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.JWTSecret))
}
