package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"

	"github.com/droplink-app/droplink-service/internal/services"
)

// Handler holds every dependency the HTTP surface needs. Everything arrives
// through New; handlers never reach for globals.
type Handler struct {
	store      services.Store
	objects    services.ObjectStore
	provider   services.PaymentProvider
	gate       *services.Gate
	sweeper    *services.Sweeper
	reconciler *services.Reconciler
	scanner    *services.PolicyScanner
	nats       *nats.Conn
}

func New(
	store services.Store,
	objects services.ObjectStore,
	provider services.PaymentProvider,
	gate *services.Gate,
	sweeper *services.Sweeper,
	reconciler *services.Reconciler,
	scanner *services.PolicyScanner,
	natsConn *nats.Conn,
) *Handler {
	return &Handler{
		store:      store,
		objects:    objects,
		provider:   provider,
		gate:       gate,
		sweeper:    sweeper,
		reconciler: reconciler,
		scanner:    scanner,
		nats:       natsConn,
	}
}

// userIDFromContext reads the subject set by the auth middleware.
func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// abortServiceError maps the service sentinels onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body; the detail goes to the log only.
func abortServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrGone):
		c.JSON(http.StatusGone, gin.H{"error": "link expired or deleted"})
	case errors.Is(err, services.ErrPaymentRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment required"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
