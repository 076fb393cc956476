package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/config"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/events"
	"github.com/helpdesk-labs/ticket-assignment/internal/notify"
	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

const (
	retryBatchSize = 50
	saveTimeout    = 5 * time.Second
)

// NotificationService fans assignment events out to every recipient on every channel.
type NotificationService struct {
	repo        repository.NotificationRepository
	users       repository.UserRepository
	transports  []notify.Transport
	byChannel   map[domain.NotificationChannel]notify.Transport
	queue       notify.RetryQueue
	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NotificationDependencies bundles notification collaborators.
type NotificationDependencies struct {
	NotificationRepo repository.NotificationRepository
	UserRepo         repository.UserRepository
	Transports       []notify.Transport
	Queue            notify.RetryQueue
	Config           config.NotificationConfig
	Logger           *zap.Logger
	Metrics          *observability.Metrics
	Now              func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	n := &NotificationService{
		repo:        deps.NotificationRepo,
		users:       deps.UserRepo,
		transports:  deps.Transports,
		byChannel:   make(map[domain.NotificationChannel]notify.Transport, len(deps.Transports)),
		queue:       deps.Queue,
		maxAttempts: deps.Config.MaxAttempts,
		retryBase:   deps.Config.RetryBase(),
		now:         deps.Now,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
	if n.maxAttempts <= 0 {
		n.maxAttempts = 3
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	for _, t := range deps.Transports {
		n.byChannel[t.Channel()] = t
	}
	return n
}

// Dispatch delivers event to each recipient over every channel concurrently and
// returns one result per recipient and channel. A failing channel never holds
// up the others; retryable failures are queued and reported pending.
func (n *NotificationService) Dispatch(ctx context.Context, event events.Event) []domain.NotificationResult {
	recipients := uniqueIDs(event.Recipients)
	if len(recipients) == 0 || len(n.transports) == 0 {
		return nil
	}
	subject, body := notify.Render(event)

	results := make([]domain.NotificationResult, len(recipients)*len(n.transports))
	var wg sync.WaitGroup
	for i, recipientID := range recipients {
		email := n.lookupEmail(ctx, recipientID)
		for j, transport := range n.transports {
			msg := notify.Message{
				ID:             uuid.NewString(),
				TicketID:       event.TicketID,
				EventType:      string(event.Type),
				Channel:        transport.Channel(),
				RecipientID:    recipientID,
				RecipientEmail: email,
				Subject:        subject,
				Body:           body,
			}
			wg.Add(1)
			go func(idx int, transport notify.Transport, msg notify.Message) {
				defer wg.Done()
				results[idx] = n.deliver(ctx, transport, msg, 1)
			}(i*len(n.transports)+j, transport, msg)
		}
	}
	wg.Wait()
	return results
}

// ProcessRetries redelivers queued notifications that are due and reports how many it claimed.
func (n *NotificationService) ProcessRetries(ctx context.Context) (int, error) {
	if n.queue == nil {
		return 0, nil
	}
	items, err := n.queue.Claim(ctx, n.now(), retryBatchSize)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		transport, ok := n.byChannel[item.Message.Channel]
		if !ok {
			n.logger.Warn("dropping retry for unknown channel",
				zap.String("notification_id", item.Message.ID),
				zap.String("channel", string(item.Message.Channel)))
			continue
		}
		n.deliver(ctx, transport, item.Message, item.Attempts+1)
	}
	return len(items), nil
}

// Results lists the delivery results recorded for a ticket.
func (n *NotificationService) Results(ctx context.Context, ticketID string) ([]domain.NotificationResult, error) {
	results, err := n.repo.ListResults(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return results, nil
}

func (n *NotificationService) deliver(ctx context.Context, transport notify.Transport, msg notify.Message, attempt int) domain.NotificationResult {
	result := domain.NotificationResult{
		ID:          msg.ID,
		TicketID:    msg.TicketID,
		EventType:   msg.EventType,
		RecipientID: msg.RecipientID,
		Channel:     msg.Channel,
		Attempts:    attempt,
	}

	receipt, err := transport.Send(ctx, msg)
	result.Timestamp = n.now().UTC()
	if err == nil {
		result.Status = receipt.Status
		result.MessageID = receipt.MessageID
	} else {
		result.ErrorMessage = err.Error()
		result.Status = n.scheduleRetry(ctx, msg, attempt, err)
		n.logger.Warn("notification delivery failed",
			zap.String("notification_id", msg.ID),
			zap.String("channel", string(msg.Channel)),
			zap.String("recipient_id", msg.RecipientID),
			zap.Int("attempt", attempt),
			zap.String("status", string(result.Status)),
			zap.Error(err))
	}

	n.save(ctx, &result)
	n.metrics.RecordNotification(string(result.Channel), string(result.Status))
	return result
}

func (n *NotificationService) scheduleRetry(ctx context.Context, msg notify.Message, attempt int, cause error) domain.NotificationStatus {
	if n.queue == nil || attempt >= n.maxAttempts || errors.Is(cause, notify.ErrUndeliverable) {
		return domain.NotificationFailed
	}
	due := n.now().Add(n.retryBase << (attempt - 1))
	if err := n.queue.Enqueue(context.WithoutCancel(ctx), notify.RetryItem{Message: msg, Attempts: attempt}, due); err != nil {
		n.logger.Error("enqueue notification retry", zap.String("notification_id", msg.ID), zap.Error(err))
		return domain.NotificationFailed
	}
	return domain.NotificationPending
}

// save outlives the request so a timed out assignment still records its deliveries.
func (n *NotificationService) save(ctx context.Context, result *domain.NotificationResult) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := n.repo.SaveResult(saveCtx, result); err != nil {
		n.logger.Error("save notification result", zap.String("notification_id", result.ID), zap.Error(err))
	}
}

func (n *NotificationService) lookupEmail(ctx context.Context, userID string) string {
	if n.users == nil {
		return ""
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.logger.Debug("notification recipient lookup failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return user.Email
}

// Delivered counts results that reached their channel.
func Delivered(results []domain.NotificationResult) int {
	count := 0
	for _, r := range results {
		if r.Status == domain.NotificationSent || r.Status == domain.NotificationDelivered {
			count++
		}
	}
	return count
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
