package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

func startMailer(t *testing.T, handler fiber.Handler) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/mail", handler)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String() + "/mail"
}

func emailMessage() Message {
	return Message{
		ID:             "n-1",
		TicketID:       "T-1",
		EventType:      "ticket_assigned",
		Channel:        domain.ChannelEmail,
		RecipientID:    "dev-1",
		RecipientEmail: "dev1@example.com",
		Subject:        "Ticket T-1 assigned to you",
		Body:           "hello",
	}
}

func TestEmailTransportPostsToWebhook(t *testing.T) {
	var got emailRequest
	url := startMailer(t, func(c *fiber.Ctx) error {
		if err := c.BodyParser(&got); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": "mail-42"})
	})

	transport := NewEmailTransport("noreply@example.com", url, time.Second, zap.NewNop())
	receipt, err := transport.Send(context.Background(), emailMessage())
	require.NoError(t, err)
	assert.Equal(t, "mail-42", receipt.MessageID)
	assert.Equal(t, domain.NotificationSent, receipt.Status)
	assert.Equal(t, "dev1@example.com", got.To)
	assert.Equal(t, "noreply@example.com", got.From)
	assert.Equal(t, "n-1", got.ID)
}

func TestEmailTransportServerErrorIsRetryable(t *testing.T) {
	url := startMailer(t, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusBadGateway)
	})

	transport := NewEmailTransport("noreply@example.com", url, time.Second, zap.NewNop())
	_, err := transport.Send(context.Background(), emailMessage())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUndeliverable)
}

func TestEmailTransportRejectedIsPermanent(t *testing.T) {
	url := startMailer(t, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusUnprocessableEntity)
	})

	transport := NewEmailTransport("noreply@example.com", url, time.Second, zap.NewNop())
	_, err := transport.Send(context.Background(), emailMessage())
	assert.ErrorIs(t, err, ErrUndeliverable)
}

func TestEmailTransportWithoutAddress(t *testing.T) {
	transport := NewEmailTransport("noreply@example.com", "", time.Second, zap.NewNop())
	msg := emailMessage()
	msg.RecipientEmail = ""

	_, err := transport.Send(context.Background(), msg)
	assert.ErrorIs(t, err, ErrUndeliverable)
}

func TestEmailTransportStubWithoutWebhook(t *testing.T) {
	transport := NewEmailTransport("noreply@example.com", "", time.Second, zap.NewNop())
	receipt, err := transport.Send(context.Background(), emailMessage())
	require.NoError(t, err)
	assert.Equal(t, "n-1", receipt.MessageID)
	assert.Equal(t, domain.NotificationSent, receipt.Status)
}
