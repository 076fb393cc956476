package domain

import "time"

// NotificationChannel identifies a delivery channel.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelInApp NotificationChannel = "in_app"
)

// NotificationStatus tracks a delivery through its lifecycle.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

// NotificationResult is the persisted outcome of one channel delivery.
type NotificationResult struct {
	ID           string
	TicketID     string
	EventType    string
	RecipientID  string
	Channel      NotificationChannel
	Status       NotificationStatus
	Timestamp    time.Time
	MessageID    string
	ErrorMessage string
	Attempts     int
}

// Notification is an in-app inbox entry.
type Notification struct {
	ID        string
	UserID    string
	TicketID  string
	Kind      string
	Message   string
	Read      bool
	CreatedAt time.Time
}
