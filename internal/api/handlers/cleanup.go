package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/droplink-app/droplink-service/internal/services"
)

func cleanupOptions(c *gin.Context) services.CleanupOptions {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return services.CleanupOptions{
		Limit:            limit,
		IncludeNotMarked: c.Query("include_not_marked") == "true",
	}
}

// CleanupPreview is the dry run: counts and a sample, no mutation.
func (h *Handler) CleanupPreview(c *gin.Context) {
	preview, err := h.sweeper.Preview(c.Request.Context(), cleanupOptions(c))
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// CleanupRun executes one bulk batch and returns the report.
func (h *Handler) CleanupRun(c *gin.Context) {
	report, err := h.sweeper.Run(c.Request.Context(), cleanupOptions(c))
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Stats is the admin-wide view across all live links.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.LinkStats(c.Request.Context())
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
