package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// EmailTransport posts messages to a mailer webhook. Without a webhook URL it
// logs the message and reports it sent.
type EmailTransport struct {
	from       string
	webhookURL string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewEmailTransport builds the email channel.
func NewEmailTransport(from, webhookURL string, timeout time.Duration, logger *zap.Logger) *EmailTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EmailTransport{from: from, webhookURL: webhookURL, timeout: timeout, logger: logger}
}

type emailRequest struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type emailResponse struct {
	ID string `json:"id"`
}

func (t *EmailTransport) Channel() domain.NotificationChannel {
	return domain.ChannelEmail
}

func (t *EmailTransport) Send(ctx context.Context, msg Message) (Receipt, error) {
	if strings.TrimSpace(msg.RecipientEmail) == "" {
		return Receipt{}, fmt.Errorf("%w: recipient %s has no email address", ErrUndeliverable, msg.RecipientID)
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	if strings.TrimSpace(t.webhookURL) == "" {
		t.logger.Debug("sendEmailNotificationStub",
			zap.String("from", t.from),
			zap.String("to", msg.RecipientEmail),
			zap.String("ticket_id", msg.TicketID),
			zap.String("event_type", msg.EventType))
		return Receipt{MessageID: msg.ID, Status: domain.NotificationSent}, nil
	}

	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(t.webhookURL)
	agent.Timeout(timeout)
	agent.JSON(emailRequest{
		ID:      msg.ID,
		From:    t.from,
		To:      msg.RecipientEmail,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return Receipt{}, fmt.Errorf("email webhook: %w", errors.Join(errs...))
	}
	switch {
	case status >= fiber.StatusInternalServerError || status == fiber.StatusTooManyRequests:
		return Receipt{}, fmt.Errorf("email webhook: status %d", status)
	case status >= fiber.StatusBadRequest:
		return Receipt{}, fmt.Errorf("%w: email webhook status %d", ErrUndeliverable, status)
	}

	receipt := Receipt{MessageID: msg.ID, Status: domain.NotificationSent}
	var resp emailResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.ID != "" {
		receipt.MessageID = resp.ID
	}
	return receipt, nil
}
