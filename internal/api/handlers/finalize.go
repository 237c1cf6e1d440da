package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type finalizeRequest struct {
	SessionID string `json:"session_id"`
}

// Finalize is the synchronous confirmation path after the checkout redirect.
// The webhook may have already applied the payment; both paths converge on
// the same single-row update.
func (h *Handler) Finalize(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Empty for anonymous buyers; the reconciler only needs it for the
	// subscriber self-unlock marker.
	callerID, _ := userIDFromContext(c)

	res, err := h.reconciler.Finalize(c.Request.Context(), req.SessionID, callerID)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
