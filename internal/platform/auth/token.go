package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenRequest describes a token minted by IssueToken.
type TokenRequest struct {
	Subject  string
	Issuer   string
	Audience string
	Roles    []string
	TTL      time.Duration
}

// IssueToken signs an HS256 token with secret. It is meant for local use
// against a server configured with the same JWT_SECRET.
func IssueToken(secret []byte, req TokenRequest, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is required")
	}
	if req.Subject == "" {
		return "", errors.New("subject is required")
	}
	if req.TTL <= 0 {
		req.TTL = time.Hour
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			Issuer:    req.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
		},
		Roles: req.Roles,
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
