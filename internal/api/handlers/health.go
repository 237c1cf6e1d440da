package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) HealthCheck(c *gin.Context) {
	storage := "ok"
	if err := h.objects.CheckConnection(c.Request.Context()); err != nil {
		storage = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"storage": storage,
	})
}
