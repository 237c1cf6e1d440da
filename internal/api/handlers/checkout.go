package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/droplink-app/droplink-service/internal/services"
)

// LinkCheckout starts a one-time purchase for a link. Anyone holding the
// code may pay; no authentication required.
func (h *Handler) LinkCheckout(c *gin.Context) {
	code := c.Param("code")

	link, err := h.store.GetFileLink(c.Request.Context(), code)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	if link.DeletedAt != nil || time.Now().After(link.ExpiresAt) {
		c.JSON(http.StatusGone, gin.H{"error": "link expired or deleted"})
		return
	}
	if link.Paid {
		c.JSON(http.StatusOK, gin.H{"paid": true})
		return
	}

	url, err := h.provider.NewLinkCheckout(c.Request.Context(), code)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

// ProCheckout starts a subscription checkout for the authenticated user,
// reusing their provider customer when one exists.
func (h *Handler) ProCheckout(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var stored string
	sub, err := h.store.GetSubscription(c.Request.Context(), userID)
	switch {
	case err == nil:
		if sub.Entitled() {
			c.JSON(http.StatusConflict, gin.H{"error": "subscription already active"})
			return
		}
		stored = sub.StripeCustomerID
	case errors.Is(err, services.ErrNotFound):
		// First checkout for this user.
	default:
		abortServiceError(c, err)
		return
	}

	// A stored customer id is verified upstream before reuse; a stale one is
	// replaced and persisted rather than failing the checkout.
	customerID, err := h.provider.EnsureCustomer(c.Request.Context(), userID, stored)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	if customerID != stored {
		if err := h.store.SetStripeCustomerID(c.Request.Context(), userID, customerID); err != nil {
			abortServiceError(c, err)
			return
		}
	}

	url, err := h.provider.NewProCheckout(c.Request.Context(), userID, customerID)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

// Portal opens the provider's self-service billing portal. The stored
// customer id is verified upstream first; a stale one is replaced.
func (h *Handler) Portal(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var stored string
	sub, err := h.store.GetSubscription(c.Request.Context(), userID)
	if err == nil {
		stored = sub.StripeCustomerID
	} else if !errors.Is(err, services.ErrNotFound) {
		abortServiceError(c, err)
		return
	}

	customerID, err := h.provider.EnsureCustomer(c.Request.Context(), userID, stored)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	if customerID != stored {
		if err := h.store.SetStripeCustomerID(c.Request.Context(), userID, customerID); err != nil {
			abortServiceError(c, err)
			return
		}
	}

	url, err := h.provider.NewPortalSession(c.Request.Context(), customerID)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portal_url": url})
}
