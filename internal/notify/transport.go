// Package notify delivers assignment notifications over individual channels.
package notify

import (
	"context"
	"errors"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// ErrUndeliverable marks failures that retrying cannot fix.
var ErrUndeliverable = errors.New("notification undeliverable")

// Message is one rendered notification for one recipient on one channel.
// ID is the NotificationResult id and stays stable across retries.
type Message struct {
	ID             string                     `json:"id"`
	TicketID       string                     `json:"ticket_id"`
	EventType      string                     `json:"event_type"`
	Channel        domain.NotificationChannel `json:"channel"`
	RecipientID    string                     `json:"recipient_id"`
	RecipientEmail string                     `json:"recipient_email,omitempty"`
	Subject        string                     `json:"subject"`
	Body           string                     `json:"body"`
}

// Receipt reports an accepted delivery.
type Receipt struct {
	MessageID string
	Status    domain.NotificationStatus
}

// Transport sends messages over one channel.
type Transport interface {
	Channel() domain.NotificationChannel
	Send(ctx context.Context, msg Message) (Receipt, error)
}
