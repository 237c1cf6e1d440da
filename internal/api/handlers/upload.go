package handlers

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/droplink-app/droplink-service/internal/models"
	"github.com/droplink-app/droplink-service/internal/services"
)

const maxUploadBytes = 200 << 20 // 200 MB

// The expiry window is chosen from a fixed menu; anything else is rejected.
var allowedExpiries = map[string]time.Duration{
	"1h":   time.Hour,
	"24h":  24 * time.Hour,
	"72h":  72 * time.Hour,
	"168h": 168 * time.Hour,
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".zip":  "application/zip",
}

func contentTypeFor(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Upload receives one file, stores it, and returns the new link. The file is
// spooled to a temp path so the policy scan sees exactly the bytes that were
// uploaded.
func (h *Handler) Upload(c *gin.Context) {
	userID, _ := userIDFromContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large: " + fileHeader.Filename})
		return
	}
	if fileHeader.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty file"})
		return
	}

	expiresIn := c.DefaultPostForm("expires_in", "24h")
	ttl, ok := allowedExpiries[expiresIn]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in must be one of 1h, 24h, 72h, 168h"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	tempPath := filepath.Join(os.TempDir(), "droplink-upload-"+uuid.New().String()+ext)
	if err := c.SaveUploadedFile(fileHeader, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}
	defer os.Remove(tempPath)

	// Scan outcome is audit-only; it never blocks the upload.
	flagged, flagReason := h.scanner.ScanFile(tempPath)

	objectKey := "links/" + uuid.New().String() + ext
	if err := h.objects.UploadFile(c.Request.Context(), tempPath, objectKey, contentTypeFor(ext)); err != nil {
		log.Printf("[Upload] store %s: %v", objectKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload to storage"})
		return
	}

	link := &models.FileLink{
		FilePath:        objectKey,
		FileBytes:       fileHeader.Size,
		ExpiresAt:       time.Now().Add(ttl),
		CreatedByUserID: userID,
		Flagged:         flagged,
		FlagReason:      flagReason,
	}
	if err := h.store.CreateFileLink(c.Request.Context(), link); err != nil {
		// Orphaned objects are reclaimed here, not left for the sweeper.
		if delErr := h.objects.RemoveObject(c.Request.Context(), objectKey); delErr != nil {
			log.Printf("[Upload] cleanup %s after failed insert: %v", objectKey, delErr)
		}
		abortServiceError(c, err)
		return
	}

	services.PublishLinkCreated(h.nats, gin.H{
		"code":       link.Code,
		"file_bytes": link.FileBytes,
		"expires_at": link.ExpiresAt.UTC().Format(time.RFC3339),
		"user_id":    userID,
	})

	c.JSON(http.StatusCreated, gin.H{"link": link})
}
