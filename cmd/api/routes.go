package main

import (
	"context"
	"net/http"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/httpapi"
	"consult-platform/internal/metrics"
	"consult-platform/internal/rbac"
	"consult-platform/internal/realtime"
	"consult-platform/internal/telephony"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type application struct {
	auth       *auth.Manager
	serviceKey string
	api        httpapi.Handlers
	ws         *realtime.Handler
	twilio     telephony.TwilioStatusHandler
	metrics    *metrics.Recorder
	health     func(ctx context.Context) error
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id", auth.ServiceKeyHeader},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowCredentials = false
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, app application) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := app.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(app.metrics.Handler()))

	// Carrier webhooks (public, signature-checked when TWILIO_AUTH_TOKEN is set).
	r.POST("/webhooks/twilio/status", app.twilio.HandleStatus)

	// Trusted services: the identity provider mints tokens after verifying the
	// user, the payment service credits confirmed top-ups.
	service := r.Group("/v1", auth.RequireServiceKey(app.serviceKey))
	{
		service.POST("/auth/token", app.api.IssueToken)
		service.POST("/requesters/:id/wallet/credit", app.api.CreditWallet)
	}

	authMW := auth.RequireAccessToken(app.auth)

	// Real-time channel. The token comes from ?token= on the handshake.
	r.GET("/v1/ws", authMW, rbac.RequireIdentity(), app.ws.Serve)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireIdentity())
	{
		v1.GET("/me", app.api.Me)
		v1.GET("/me/wallet", app.api.MyWallet)
		v1.GET("/me/summary", app.api.MySummary)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:id", app.api.GetSession)
			sessions.GET("/:id/messages", app.api.ListMessages)
			sessions.GET("/:id/transaction", app.api.GetTransaction)
		}
	}
}
