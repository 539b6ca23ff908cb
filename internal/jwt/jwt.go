// Package jwt verifies the session tokens minted by the main application.
// This service never issues tokens; it only checks signatures against the
// shared HS256 secret and extracts the caller's identity.
package jwt

import (
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// SessionClaims is the identity payload carried by a session token.
type SessionClaims struct {
	UserID         int64
	OrganizationID int64
}

type customClaims struct {
	UserID         int64 `json:"user_id,omitempty"`
	OrganizationID int64 `json:"organization_id,omitempty"`
	OrgID          int64 `json:"org_id,omitempty"`
}

// Verifier validates session tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("jwt: session secret must be at least 16 bytes")
	}
	return &Verifier{secret: secret}, nil
}

// Verify parses and validates a session token and returns the caller
// identity. The subject claim is the fallback for user_id.
func (v *Verifier) Verify(token string) (SessionClaims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return SessionClaims{}, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	var custom customClaims
	if err := parsed.Claims(v.secret, &std, &custom); err != nil {
		return SessionClaims{}, fmt.Errorf("verify token: %w", err)
	}

	if err := std.Validate(gojwt.Expected{Time: time.Now()}); err != nil {
		return SessionClaims{}, fmt.Errorf("validate claims: %w", err)
	}

	claims := SessionClaims{
		UserID:         custom.UserID,
		OrganizationID: custom.OrganizationID,
	}
	if claims.OrganizationID == 0 {
		claims.OrganizationID = custom.OrgID
	}
	if claims.UserID == 0 && std.Subject != "" {
		id, err := strconv.ParseInt(std.Subject, 10, 64)
		if err != nil {
			return SessionClaims{}, fmt.Errorf("parse subject: %w", err)
		}
		claims.UserID = id
	}
	if claims.UserID == 0 || claims.OrganizationID == 0 {
		return SessionClaims{}, fmt.Errorf("token missing identity claims")
	}
	return claims, nil
}
