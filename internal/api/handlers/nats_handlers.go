package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

type UserDeletedEvent struct {
	UserID string `json:"user_id"`
}

// HandleUserDeleted sweeps every link a deleted account owns. The identity
// service publishes users.deleted after account removal.
func (h *Handler) HandleUserDeleted(msg *nats.Msg) {
	log.Println("[NATS] Received users.deleted")

	var payload UserDeletedEvent
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Printf("[NATS] users.deleted: invalid payload: %v", err)
		return
	}
	if payload.UserID == "" {
		log.Println("[NATS] users.deleted: missing user_id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	swept := h.sweeper.SweepUserLinks(ctx, payload.UserID)
	log.Printf("[NATS] Swept %d links for deleted user %s", swept, payload.UserID)
}

// SubscribeEvents wires the NATS consumers. Subscription failure is logged
// and non-fatal; the HTTP surface works without the bus.
func (h *Handler) SubscribeEvents(conn *nats.Conn) {
	if conn == nil || !conn.IsConnected() {
		log.Println("[NATS] not connected, skipping event subscriptions")
		return
	}
	if _, err := conn.Subscribe("users.deleted", h.HandleUserDeleted); err != nil {
		log.Printf("[NATS] failed to subscribe users.deleted: %v", err)
	}
}
