// Package handler exposes the account linking operations over HTTP. The
// callback endpoint answers browser redirects from the providers, so its
// failures become redirects to the frontend rather than JSON errors, and
// neither tokens nor raw provider errors ever appear in a response.
package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/config"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/http/middleware"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/service/connect"
)

// ConnectHandler serves the integration endpoints.
type ConnectHandler struct {
	Service *connect.Service
	Config  config.Config
	Logger  *zap.Logger
}

func NewConnectHandler(service *connect.Service, cfg config.Config, logger *zap.Logger) *ConnectHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &ConnectHandler{Service: service, Config: cfg, Logger: logger}
}

// Initiate starts an authorization flow and returns the provider URL the
// frontend should redirect the browser to.
func (h *ConnectHandler) Initiate(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}

	authURL, err := h.Service.Initiate(c.Request.Context(), principal, c.Param("platform"), requestMeta(c))
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": authURL})
}

// Callback completes the authorization flow. Providers redirect the end
// user's browser here, so both outcomes are redirects back to the frontend.
func (h *ConnectHandler) Callback(c *gin.Context) {
	platformName := c.Param("platform")
	state := c.Query("state")
	code := c.Query("code")
	providerErr := c.Query("error")

	account, err := h.Service.HandleCallback(c.Request.Context(), platformName, state, code, providerErr, requestMeta(c))
	if err != nil {
		h.redirectFailure(c, err)
		return
	}

	target, parseErr := url.Parse(h.Config.SuccessRedirectURL)
	if parseErr != nil {
		h.Logger.Error("invalid success redirect url", zap.Error(parseErr))
		c.Status(http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("platform", string(account.Platform))
	q.Set("username", account.Username)
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// Refresh forces an immediate token refresh for one linked account.
func (h *ConnectHandler) Refresh(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	accountID, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid account id."})
		return
	}

	account, err := h.Service.Refresh(c.Request.Context(), principal, accountID, requestMeta(c))
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":               strconv.FormatInt(account.ID, 10),
		"platform":         account.Platform,
		"token_expires_at": account.TokenExpiresAt,
	})
}

// Status lists the caller's active connections.
func (h *ConnectHandler) Status(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}

	statuses, err := h.Service.Status(c.Request.Context(), principal, c.Query("platform"))
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": statuses})
}

// Disconnect deactivates a linked account.
func (h *ConnectHandler) Disconnect(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	accountID, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid account id."})
		return
	}

	if err := h.Service.Disconnect(c.Request.Context(), principal, accountID); err != nil {
		h.jsonError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConnectHandler) jsonError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, social.ErrUnsupportedPlatform):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_platform", "error_description": "Unknown platform."})
	case errors.Is(err, social.ErrPlatformNotConfigured):
		c.JSON(http.StatusConflict, gin.H{"error": "platform_not_configured", "error_description": "Platform credentials are not configured."})
	case errors.Is(err, social.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found", "error_description": "Linked account not found."})
	case errors.Is(err, social.ErrNotRefreshable):
		c.JSON(http.StatusConflict, gin.H{"error": "not_refreshable", "error_description": "Account has no refresh credential."})
	case errors.Is(err, social.ErrRefreshFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "refresh_failed", "error_description": "Provider rejected the refresh. Reconnect the account."})
	case errors.Is(err, social.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid request."})
	default:
		h.Logger.Error("integration request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
	}
}

// redirectFailure sends the browser back to the frontend with a coarse
// machine-readable reason. Detailed causes stay in the audit trail.
func (h *ConnectHandler) redirectFailure(c *gin.Context, err error) {
	reason := "internal_error"
	switch {
	case errors.Is(err, social.ErrInvalidState):
		reason = "invalid_state"
	case errors.Is(err, social.ErrProviderRejected):
		reason = "provider_rejected"
	case errors.Is(err, social.ErrUnsupportedPlatform):
		reason = "unsupported_platform"
	case errors.Is(err, social.ErrPlatformNotConfigured):
		reason = "platform_not_configured"
	}

	target, parseErr := url.Parse(h.Config.FailureRedirectURL)
	if parseErr != nil {
		h.Logger.Error("invalid failure redirect url", zap.Error(parseErr))
		c.Status(http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("reason", reason)
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func requestMeta(c *gin.Context) connect.RequestMeta {
	return connect.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
