package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

func TestCreateInAppIgnoresDuplicateID(t *testing.T) {
	mock := newMock(t)
	repo := NewNotificationRepository(mock)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	n := &domain.Notification{ID: "n-1", UserID: "dev-1", TicketID: "T-1", Kind: "ticket.assigned", Message: "assigned", CreatedAt: at}

	mock.ExpectExec(`(?s)INSERT INTO notifications .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("n-1", "dev-1", "T-1", "ticket.assigned", "assigned", false, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`(?s)INSERT INTO notifications .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("n-1", "dev-1", "T-1", "ticket.assigned", "assigned", false, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, repo.CreateInApp(context.Background(), n))
	require.NoError(t, repo.CreateInApp(context.Background(), n))
}
