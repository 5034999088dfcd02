// Package queue carries accepted provisioning requests from the ingest
// gateway to the orchestrator with at-least-once delivery.
package queue

import (
	"context"
	"errors"

	"github.com/smallbiznis/provisioning/pkg/telemetry/correlation"
)

var (
	ErrNotClaimed = errors.New("delivery_not_claimed")
	ErrEmptyBody  = errors.New("empty_message_body")
)

// Message is one queued provisioning request.
type Message struct {
	ID             string
	ProvisioningID string
	Body           []byte
	Metadata       correlation.Metadata
}

// Delivery is a received message. It stays invisible to other receivers
// until it is acked, nacked or its visibility timeout lapses.
type Delivery struct {
	Message
	DeliveryCount int

	lease string
	raw   string
}

// Queue is implemented by every driver.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Receive returns nil, nil when nothing is available.
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack returns the message for redelivery, or dead-letters it once the
	// delivery count reaches the configured maximum.
	Nack(ctx context.Context, d *Delivery, cause error) error
	// DeadLetter removes the message from circulation immediately.
	DeadLetter(ctx context.Context, d *Delivery, cause error) error
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 2048 {
		msg = msg[:2048]
	}
	return msg
}
