package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// downloadURLTTL bounds how long a minted URL stays usable. Anyone holding
// the URL can fetch the object until it lapses.
const downloadURLTTL = 120 * time.Second

// Download is the paywall. The entitlement check runs against current state
// on every call; a 200 here is the only way to obtain a usable URL.
func (h *Handler) Download(c *gin.Context) {
	code := c.Param("code")

	link, err := h.gate.Check(c.Request.Context(), code)
	if err != nil {
		abortServiceError(c, err)
		return
	}

	url, err := h.objects.PresignedDownloadURL(c.Request.Context(), link.FilePath, downloadURLTTL)
	if err != nil {
		abortServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":         url,
		"ttl_seconds": int(downloadURLTTL.Seconds()),
	})
}

// GetLink returns public metadata for the landing page: enough to render the
// paywall, nothing that unlocks the file.
func (h *Handler) GetLink(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{
		"code":       link.Code,
		"file_bytes": link.FileBytes,
		"paid":       link.Paid,
		"expires_at": link.ExpiresAt,
	})
}
