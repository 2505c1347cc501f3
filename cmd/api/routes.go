package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"callcenter/internal/auth"
	"callcenter/internal/config"
	"callcenter/internal/httpapi"
	"callcenter/internal/observability"
	"callcenter/internal/telephony"
	"callcenter/pkg/logger"
)

type routeDeps struct {
	auth        *auth.Manager
	handlers    *httpapi.Handlers
	webhooks    telephony.WebhookHandler
	signature   telephony.SignatureOptions
	corrections *httpapi.LimiterRegistry
	ready       func(ctx context.Context) error
}

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func newRouter(cfg config.Config, log *slog.Logger, metrics *observability.Metrics, d routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	if len(cfg.App.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.App.CORSAllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposeHeaders:    []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := d.ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Provider webhooks: signature-checked, always acknowledged.
	twilio := r.Group("/webhooks/twilio")
	twilio.Use(telephony.SignatureMiddleware(d.signature))
	{
		twilio.POST("/status", d.webhooks.HandleStatus)
		twilio.POST("/amd", d.webhooks.HandleAMD)
	}

	httpapi.Register(r, d.handlers, httpapi.RouteOptions{
		Auth:        auth.RequireAccessToken(d.auth),
		LiveAuth:    auth.RequireAccessToken(d.auth, auth.AllowQueryToken()),
		Corrections: d.corrections,
	})
	return r
}
