package api

import (
	"github.com/gin-gonic/gin"

	"github.com/droplink-app/droplink-service/cmd/middleware"
	"github.com/droplink-app/droplink-service/internal/api/handlers"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, PATCH, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	}
}

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, auth *middleware.Auth, adminSecret string) {
	// Enable CORS for preflight requests
	r.Use(corsMiddleware())

	api := r.Group("/api")
	{
		api.GET("/health", h.HealthCheck)

		// Anyone can create a link; authenticated creators get ownership.
		api.POST("/upload", auth.Optional(), h.Upload)

		// Public link surface: landing page, paywall, checkout.
		api.GET("/links/:code", h.GetLink)
		api.GET("/links/:code/download", h.Download)
		api.POST("/links/:code/checkout", h.LinkCheckout)

		// Finalize works for anonymous buyers; the optional identity only
		// matters for the subscriber self-unlock.
		api.POST("/checkout/finalize", auth.Optional(), h.Finalize)

		// Provider callback, authenticated by signature.
		api.POST("/webhooks/stripe", h.StripeWebhook)

		// Authenticated creator surface.
		my := api.Group("/my", auth.Require())
		{
			my.GET("/links", h.MyLinks)
			my.DELETE("/links/:code", h.DeleteMyLink)
			my.GET("/stats", h.MyStats)
			my.GET("/subscription", h.GetSubscription)
			my.POST("/subscription/sync", h.SyncSubscription)
			my.POST("/subscription/checkout", h.ProCheckout)
			my.POST("/subscription/portal", h.Portal)
		}

		// Admin surface.
		admin := api.Group("/admin", middleware.RequireAdmin(adminSecret))
		{
			admin.GET("/cleanup", h.CleanupPreview)
			admin.POST("/cleanup", h.CleanupRun)
			admin.GET("/stats", h.Stats)
		}
	}
}
