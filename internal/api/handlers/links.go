package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultPageSize = 50

// MyLinks lists the caller's live links.
func (h *Handler) MyLinks(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit <= 0 || limit > 200 {
		limit = defaultPageSize
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	links, err := h.store.ListLinksByCreator(c.Request.Context(), userID, limit, offset)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": links, "count": len(links)})
}

// MyStats aggregates the caller's links.
func (h *Handler) MyStats(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	stats, err := h.store.CreatorLinkStats(c.Request.Context(), userID)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// DeleteMyLink lets a creator retire their own link. The object goes right
// away; the row is soft-deleted and reclaimed by the bulk sweep later.
func (h *Handler) DeleteMyLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	code := c.Param("code")

	link, err := h.store.GetFileLink(c.Request.Context(), code)
	if err != nil {
		abortServiceError(c, err)
		return
	}
	if link.CreatedByUserID == "" || link.CreatedByUserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your link"})
		return
	}
	if link.DeletedAt != nil {
		c.JSON(http.StatusOK, gin.H{"deleted": true})
		return
	}

	won, err := h.store.SoftDeleteFileLink(c.Request.Context(), code, "creator_deleted")
	if err != nil {
		abortServiceError(c, err)
		return
	}
	if won && !link.StorageDeleted {
		if err := h.objects.RemoveObject(c.Request.Context(), link.FilePath); err == nil {
			_ = h.store.MarkStorageDeleted(c.Request.Context(), code)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
