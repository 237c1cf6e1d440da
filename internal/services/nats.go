package services

import (
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectNATS initializes the NATS connection used by the notifier and the
// account-event consumers.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1), // retry forever
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Println("Connected to NATS at", url)
	return nc, nil
}
