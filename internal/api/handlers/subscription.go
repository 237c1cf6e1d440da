package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/droplink-app/droplink-service/internal/models"
	"github.com/droplink-app/droplink-service/internal/services"
)

// GetSubscription returns the caller's stored subscription. A user with no
// row is a free user, not an error.
func (h *Handler) GetSubscription(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	sub, err := h.store.GetSubscription(c.Request.Context(), userID)
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"subscription": gin.H{
			"plan":   models.PlanFree,
			"status": models.StatusUnknown,
		}})
		return
	}
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// SyncSubscription refetches the caller's subscription from the provider and
// folds it into the stored row. The escape hatch for a user whose webhook
// went missing.
func (h *Handler) SyncSubscription(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	sub, err := h.store.GetSubscription(c.Request.Context(), userID)
	if errors.Is(err, services.ErrNotFound) || (err == nil && sub.StripeSubscriptionID == "") {
		c.JSON(http.StatusNotFound, gin.H{"error": "no subscription to sync"})
		return
	}
	if err != nil {
		abortServiceError(c, err)
		return
	}

	synced, err := h.reconciler.Resync(c.Request.Context(), sub.StripeSubscriptionID)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": synced})
}
