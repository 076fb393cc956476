package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// AuditRepository stores the append-only assignment and conflict trail.
type AuditRepository interface {
	ListRecords(ctx context.Context, ticketID string) ([]domain.AssignmentRecord, error)
	CreateConflict(ctx context.Context, conflict *domain.AssignmentConflict) error
	// ResolveConflict closes an open conflict and marks winnerAttemptID as the
	// only successful attempt.
	ResolveConflict(ctx context.Context, conflictID, resolvedBy, winnerAttemptID string, at time.Time) error
	GetConflict(ctx context.Context, id string) (*domain.AssignmentConflict, error)
	ListConflicts(ctx context.Context, ticketID string) ([]domain.AssignmentConflict, error)
}

type auditRepository struct {
	db DBTX
}

// NewAuditRepository builds repository.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepository{db: db}
}

const recordColumns = `id, seq, ticket_id, assigner_id, assigner_role, assignee_id, assigned_at, unassigned_at, reason, was_conflicted, overrode_conflict, self_assigned`

const conflictColumns = `id, ticket_id, detected_at, resolution_strategy, resolved_at, resolved_by`

const attemptColumns = `id, conflict_id, attempter_id, attempter_role, attempted_assignee_id, attempt_timestamp, was_successful`

func (r *auditRepository) ListRecords(ctx context.Context, ticketID string) ([]domain.AssignmentRecord, error) {
	const query = `
        SELECT ` + recordColumns + `
        FROM assignment_records WHERE ticket_id=$1 ORDER BY seq ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AssignmentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}

func (r *auditRepository) CreateConflict(ctx context.Context, conflict *domain.AssignmentConflict) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		const insertConflict = `
        INSERT INTO assignment_conflicts (` + conflictColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6)`
		if _, err := tx.Exec(ctx, insertConflict,
			conflict.ID,
			conflict.TicketID,
			conflict.DetectedAt,
			string(conflict.ResolutionStrategy),
			conflict.ResolvedAt,
			conflict.ResolvedBy,
		); err != nil {
			return fmt.Errorf("insert conflict: %w", err)
		}

		const insertAttempt = `
        INSERT INTO conflict_attempts (` + attemptColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
		for i := range conflict.Attempts {
			attempt := &conflict.Attempts[i]
			attempt.ConflictID = conflict.ID
			if _, err := tx.Exec(ctx, insertAttempt,
				attempt.ID,
				attempt.ConflictID,
				attempt.AttempterID,
				string(attempt.AttempterRole),
				attempt.AttemptedAssigneeID,
				attempt.AttemptTimestamp,
				attempt.WasSuccessful,
			); err != nil {
				return fmt.Errorf("insert conflict attempt: %w", err)
			}
		}
		return nil
	})
}

func (r *auditRepository) ResolveConflict(ctx context.Context, conflictID, resolvedBy, winnerAttemptID string, at time.Time) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		const closeConflict = `
        UPDATE assignment_conflicts SET resolved_at=$2, resolved_by=$3
        WHERE id=$1 AND resolved_at IS NULL`
		tag, err := tx.Exec(ctx, closeConflict, conflictID, at, resolvedBy)
		if err != nil {
			return fmt.Errorf("resolve conflict: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflictClosed
		}

		const markWinner = `
        UPDATE conflict_attempts SET was_successful = (id = $2)
        WHERE conflict_id=$1`
		if _, err := tx.Exec(ctx, markWinner, conflictID, winnerAttemptID); err != nil {
			return fmt.Errorf("mark conflict winner: %w", err)
		}
		return nil
	})
}

func (r *auditRepository) GetConflict(ctx context.Context, id string) (*domain.AssignmentConflict, error) {
	const query = `
        SELECT ` + conflictColumns + `
        FROM assignment_conflicts WHERE id=$1`
	conflict, err := scanConflict(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}

	attempts, err := r.listAttempts(ctx, []string{conflict.ID})
	if err != nil {
		return nil, err
	}
	conflict.Attempts = attempts[conflict.ID]
	return conflict, nil
}

func (r *auditRepository) ListConflicts(ctx context.Context, ticketID string) ([]domain.AssignmentConflict, error) {
	const query = `
        SELECT ` + conflictColumns + `
        FROM assignment_conflicts WHERE ticket_id=$1 ORDER BY detected_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}

	var (
		conflicts []domain.AssignmentConflict
		ids       []string
	)
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		conflicts = append(conflicts, *conflict)
		ids = append(ids, conflict.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return conflicts, nil
	}

	attempts, err := r.listAttempts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range conflicts {
		conflicts[i].Attempts = attempts[conflicts[i].ID]
	}
	return conflicts, nil
}

func (r *auditRepository) listAttempts(ctx context.Context, conflictIDs []string) (map[string][]domain.ConflictAttempt, error) {
	const query = `
        SELECT ` + attemptColumns + `
        FROM conflict_attempts WHERE conflict_id = ANY($1)
        ORDER BY attempt_timestamp ASC, attempter_id ASC`
	rows, err := r.db.Query(ctx, query, conflictIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.ConflictAttempt, len(conflictIDs))
	for rows.Next() {
		var (
			attempt domain.ConflictAttempt
			role    string
		)
		if err := rows.Scan(
			&attempt.ID,
			&attempt.ConflictID,
			&attempt.AttempterID,
			&role,
			&attempt.AttemptedAssigneeID,
			&attempt.AttemptTimestamp,
			&attempt.WasSuccessful,
		); err != nil {
			return nil, err
		}
		attempt.AttempterRole = domain.Role(role)
		result[attempt.ConflictID] = append(result[attempt.ConflictID], attempt)
	}
	return result, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.AssignmentRecord, error) {
	var (
		record domain.AssignmentRecord
		role   string
	)
	if err := row.Scan(
		&record.ID,
		&record.Sequence,
		&record.TicketID,
		&record.AssignerID,
		&role,
		&record.AssigneeID,
		&record.AssignedAt,
		&record.UnassignedAt,
		&record.Reason,
		&record.WasConflicted,
		&record.OverrodeConflict,
		&record.SelfAssigned,
	); err != nil {
		return nil, err
	}
	record.AssignerRole = domain.Role(role)
	return &record, nil
}

func scanConflict(row pgx.Row) (*domain.AssignmentConflict, error) {
	var (
		conflict domain.AssignmentConflict
		strategy string
	)
	if err := row.Scan(
		&conflict.ID,
		&conflict.TicketID,
		&conflict.DetectedAt,
		&strategy,
		&conflict.ResolvedAt,
		&conflict.ResolvedBy,
	); err != nil {
		return nil, err
	}
	conflict.ResolutionStrategy = domain.ResolutionStrategy(strategy)
	return &conflict, nil
}
