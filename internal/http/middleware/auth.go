package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/jwt"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/service/connect"
)

const principalKey = "principal"

// Auth validates Authorization headers and attaches the caller identity.
type Auth struct {
	Verifier *jwt.Verifier
}

// RequireSession ensures the request carries a valid bearer session token.
func (m *Auth) RequireSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	claims, err := m.Verifier.Verify(parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid session token."})
		return
	}
	c.Set(principalKey, connect.Principal{UserID: claims.UserID, OrganizationID: claims.OrganizationID})
	c.Next()
}

// GetPrincipal exposes the authenticated caller to handlers.
func GetPrincipal(c *gin.Context) (connect.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return connect.Principal{}, false
	}
	principal, ok := value.(connect.Principal)
	return principal, ok
}
