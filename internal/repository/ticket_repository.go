package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// UnassignCommand returns a ticket to the pool if it is still held by ExpectedAssigneeID.
type UnassignCommand struct {
	TicketID           string
	ExpectedAssigneeID string
	At                 time.Time
}

// TicketRepository encapsulates ticket persistence used by assignment.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Ticket, error)
	// Assign sets the assignee only if the ticket is OPEN and unassigned, and
	// appends record in the same transaction. record.Sequence is filled in.
	Assign(ctx context.Context, record *domain.AssignmentRecord) error
	// Unassign clears the assignee and closes the open assignment record,
	// which is returned (nil when none was open).
	Unassign(ctx context.Context, cmd UnassignCommand) (*domain.AssignmentRecord, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, title, status, assignee_id, assigned_by, assigned_at, assignment_notes, created_at, updated_at`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT ` + ticketColumns + `
        FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func (r *ticketRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Ticket, error) {
	const query = `
        SELECT ` + ticketColumns + `
        FROM tickets WHERE id = ANY($1) ORDER BY id`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, rows.Err()
}

func (r *ticketRepository) Assign(ctx context.Context, record *domain.AssignmentRecord) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		const update = `
        UPDATE tickets
        SET assignee_id=$2, assigned_by=$3, assigned_at=$4, assignment_notes=$5, status='IN_PROGRESS', updated_at=$4
        WHERE id=$1 AND assignee_id IS NULL AND status='OPEN'`
		cmd, err := tx.Exec(ctx, update,
			record.TicketID,
			record.AssigneeID,
			record.AssignerID,
			record.AssignedAt,
			record.Reason,
		)
		if err != nil {
			return fmt.Errorf("assign ticket: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return classifyAssignFailure(ctx, tx, record.TicketID)
		}

		const insert = `
        INSERT INTO assignment_records (id, ticket_id, assigner_id, assigner_role, assignee_id, assigned_at, reason, was_conflicted, overrode_conflict, self_assigned)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING seq`
		if err := tx.QueryRow(ctx, insert,
			record.ID,
			record.TicketID,
			record.AssignerID,
			string(record.AssignerRole),
			record.AssigneeID,
			record.AssignedAt,
			record.Reason,
			record.WasConflicted,
			record.OverrodeConflict,
			record.SelfAssigned,
		).Scan(&record.Sequence); err != nil {
			return fmt.Errorf("insert assignment record: %w", err)
		}
		return nil
	})
}

func classifyAssignFailure(ctx context.Context, tx pgx.Tx, ticketID string) error {
	const query = `SELECT status, assignee_id FROM tickets WHERE id=$1`
	var (
		status   string
		assignee *string
	)
	if err := tx.QueryRow(ctx, query, ticketID).Scan(&status, &assignee); err != nil {
		return notFound(err)
	}
	if assignee != nil {
		return ErrAlreadyAssigned
	}
	return ErrNotAssignable
}

func (r *ticketRepository) Unassign(ctx context.Context, cmd UnassignCommand) (*domain.AssignmentRecord, error) {
	var closed *domain.AssignmentRecord
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		const update = `
        UPDATE tickets
        SET assignee_id=NULL, assigned_by=NULL, assigned_at=NULL, status='OPEN', updated_at=$3
        WHERE id=$1 AND assignee_id=$2 AND status='IN_PROGRESS'`
		tag, err := tx.Exec(ctx, update, cmd.TicketID, cmd.ExpectedAssigneeID, cmd.At)
		if err != nil {
			return fmt.Errorf("unassign ticket: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotCurrentAssignee
		}

		const closeRecord = `
        UPDATE assignment_records SET unassigned_at=$2
        WHERE ticket_id=$1 AND unassigned_at IS NULL
        RETURNING ` + recordColumns
		closed, err = scanRecord(tx.QueryRow(ctx, closeRecord, cmd.TicketID, cmd.At))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				closed = nil
				return nil
			}
			return fmt.Errorf("close assignment record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		status string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&status,
		&ticket.AssigneeID,
		&ticket.AssignedBy,
		&ticket.AssignedAt,
		&ticket.AssignmentNotes,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ticket.Status = domain.TicketStatus(status)
	return &ticket, nil
}
