package repository

import (
	"context"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// NotificationRepository persists in-app inbox entries and delivery results.
type NotificationRepository interface {
	// CreateInApp is idempotent on the notification id so retries of a
	// committed write succeed.
	CreateInApp(ctx context.Context, notification *domain.Notification) error
	// SaveResult inserts a result or replaces the row with the same id.
	SaveResult(ctx context.Context, result *domain.NotificationResult) error
	ListResults(ctx context.Context, ticketID string) ([]domain.NotificationResult, error)
}

type notificationRepository struct {
	db DBTX
}

// NewNotificationRepository builds repository.
func NewNotificationRepository(db DBTX) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateInApp(ctx context.Context, n *domain.Notification) error {
	const query = `
        INSERT INTO notifications (id, user_id, ticket_id, kind, message, read, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.TicketID,
		n.Kind,
		n.Message,
		n.Read,
		n.CreatedAt,
	)
	return err
}

func (r *notificationRepository) SaveResult(ctx context.Context, result *domain.NotificationResult) error {
	const query = `
        INSERT INTO notification_results (id, ticket_id, event_type, recipient_id, channel, status, message_id, error_message, attempts, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE
        SET status=EXCLUDED.status, message_id=EXCLUDED.message_id, error_message=EXCLUDED.error_message,
            attempts=EXCLUDED.attempts, updated_at=EXCLUDED.updated_at`
	_, err := r.db.Exec(ctx, query,
		result.ID,
		result.TicketID,
		result.EventType,
		result.RecipientID,
		string(result.Channel),
		string(result.Status),
		result.MessageID,
		result.ErrorMessage,
		result.Attempts,
		result.Timestamp,
	)
	return err
}

func (r *notificationRepository) ListResults(ctx context.Context, ticketID string) ([]domain.NotificationResult, error) {
	const query = `
        SELECT id, ticket_id, event_type, recipient_id, channel, status, message_id, error_message, attempts, updated_at
        FROM notification_results WHERE ticket_id=$1 ORDER BY updated_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.NotificationResult
	for rows.Next() {
		var (
			result          domain.NotificationResult
			channel, status  string
		)
		if err := rows.Scan(
			&result.ID,
			&result.TicketID,
			&result.EventType,
			&result.RecipientID,
			&channel,
			&status,
			&result.MessageID,
			&result.ErrorMessage,
			&result.Attempts,
			&result.Timestamp,
		); err != nil {
			return nil, err
		}
		result.Channel = domain.NotificationChannel(channel)
		result.Status = domain.NotificationStatus(status)
		results = append(results, result)
	}
	return results, rows.Err()
}
