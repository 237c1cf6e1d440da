package services

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"
)

const (
	SubjectNotifyEmail  = "notify.email"
	SubjectLinksCreated = "links.created"
)

// NATSNotifier publishes email jobs to the notification queue. Delivery is
// best-effort: a publish failure is logged and swallowed so it can never
// change the outcome of the state mutation that triggered it.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: SubjectNotifyEmail}
}

func (n *NATSNotifier) Send(job EmailJob) {
	if n == nil || n.conn == nil || !n.conn.IsConnected() {
		log.Printf("[NATS] notifier unavailable, dropping %s job", job.Kind)
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("[NATS] failed to encode %s job: %v", job.Kind, err)
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		log.Printf("[NATS] failed to publish %s job: %v", job.Kind, err)
	}
}

// PublishLinkCreated announces a new link for downstream consumers (audit,
// reporting). Best-effort as well.
func PublishLinkCreated(conn *nats.Conn, payload interface{}) {
	if conn == nil || !conn.IsConnected() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[NATS] failed to encode links.created: %v", err)
		return
	}
	if err := conn.Publish(SubjectLinksCreated, data); err != nil {
		log.Printf("[NATS] failed to publish links.created: %v", err)
	}
}
