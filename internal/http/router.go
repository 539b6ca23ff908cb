package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/config"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/http/handler"
	httpmiddleware "github.com/charlykso/vibe-tribe-backend-sub004/internal/http/middleware"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/middleware"
)

// NewRouter wires Gin routes and middleware. The provider callback stays
// outside the session guard: it is reached by a browser redirect and its
// caller identity comes from the state token.
func NewRouter(cfg config.Config, connectHandler *handler.ConnectHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	integrations := r.Group("/integrations")
	{
		integrations.GET("/:platform/callback", connectHandler.Callback)

		authed := integrations.Group("")
		authed.Use(authMiddleware.RequireSession)
		{
			authed.GET("/:platform/connect", connectHandler.Initiate)
			authed.GET("/status", connectHandler.Status)
			authed.POST("/accounts/:accountId/refresh", connectHandler.Refresh)
			authed.DELETE("/accounts/:accountId", connectHandler.Disconnect)
		}
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
