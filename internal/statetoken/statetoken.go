// Package statetoken issues and verifies the anti-CSRF state parameter used
// to correlate an OAuth callback with its originating request. Tokens are
// keyed-hash signed over (user, organization, nonce, issued-at) so forged or
// tampered values are rejected before any state-store round trip.
package statetoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const nonceBytes = 16

// Claims is the self-verifying material embedded in a state token.
type Claims struct {
	UserID         int64
	OrganizationID int64
	Nonce          string
	IssuedAt       time.Time
}

// Issuer signs and verifies state tokens with a single HMAC key.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer constructs an Issuer. The key must be kept secret; ttl bounds a
// token's validity independently of the state store's own expiry.
func NewIssuer(key []byte, ttl time.Duration) (*Issuer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("statetoken: signing key must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Issuer{key: key, ttl: ttl}, nil
}

// Generate mints a signed, single-flow state token bound to the given owner.
func (i *Issuer) Generate(userID, organizationID int64) (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("statetoken: generate nonce: %w", err)
	}
	claims := Claims{
		UserID:         userID,
		OrganizationID: organizationID,
		Nonce:          base64.RawURLEncoding.EncodeToString(buf),
		IssuedAt:       time.Now().UTC(),
	}
	return i.encode(claims), nil
}

// Parse verifies the token's signature and time bound and returns its claims.
// It performs no store access and never reveals which check failed.
func (i *Issuer) Parse(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, fmt.Errorf("statetoken: malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, fmt.Errorf("statetoken: malformed payload")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("statetoken: malformed signature")
	}
	if !hmac.Equal(sig, i.sign(payload)) {
		return Claims{}, fmt.Errorf("statetoken: signature mismatch")
	}

	claims, err := decodeClaims(string(payload))
	if err != nil {
		return Claims{}, err
	}
	age := time.Since(claims.IssuedAt)
	if age < 0 || age > i.ttl {
		return Claims{}, fmt.Errorf("statetoken: token outside validity window")
	}
	return claims, nil
}

// Validate reports whether the token is authentic, unexpired, and owned by
// the given (user, organization) pair.
func (i *Issuer) Validate(token string, userID, organizationID int64) bool {
	claims, err := i.Parse(token)
	if err != nil {
		return false
	}
	return claims.UserID == userID && claims.OrganizationID == organizationID
}

func (i *Issuer) encode(claims Claims) string {
	payload := fmt.Sprintf("%d:%d:%s:%d", claims.UserID, claims.OrganizationID, claims.Nonce, claims.IssuedAt.Unix())
	sig := i.sign([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func (i *Issuer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, i.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func decodeClaims(payload string) (Claims, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 4 {
		return Claims{}, fmt.Errorf("statetoken: malformed claims")
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("statetoken: malformed user id")
	}
	orgID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("statetoken: malformed organization id")
	}
	issued, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("statetoken: malformed timestamp")
	}
	return Claims{
		UserID:         userID,
		OrganizationID: orgID,
		Nonce:          parts[2],
		IssuedAt:       time.Unix(issued, 0).UTC(),
	}, nil
}
