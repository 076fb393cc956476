package notify

import (
	"context"
	"time"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
)

// InAppTransport writes notifications to the recipient's inbox.
type InAppTransport struct {
	repo repository.NotificationRepository
	now  func() time.Time
}

// NewInAppTransport builds the in-app channel.
func NewInAppTransport(repo repository.NotificationRepository) *InAppTransport {
	return &InAppTransport{repo: repo, now: time.Now}
}

func (t *InAppTransport) Channel() domain.NotificationChannel {
	return domain.ChannelInApp
}

func (t *InAppTransport) Send(ctx context.Context, msg Message) (Receipt, error) {
	n := &domain.Notification{
		ID:        msg.ID,
		UserID:    msg.RecipientID,
		TicketID:  msg.TicketID,
		Kind:      msg.EventType,
		Message:   msg.Body,
		CreatedAt: t.now().UTC(),
	}
	if err := t.repo.CreateInApp(ctx, n); err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: n.ID, Status: domain.NotificationDelivered}, nil
}
