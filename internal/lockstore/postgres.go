package lockstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// PgxConn is the subset of pgxpool.Pool used by the Postgres store.
type PgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const lockColumns = `id, ticket_id, holder_id, holder_name, holder_role, acquired_at, expires_at, active`

type postgresStore struct {
	db PgxConn
}

// NewPostgresStore returns a Store backed by the assignment_locks table. A
// partial unique index on (ticket_id) WHERE active admits one live row per ticket.
func NewPostgresStore(db PgxConn) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Acquire(ctx context.Context, p AcquireParams) (AcquireOutcome, error) {
	lock := p.Lock
	var outcome AcquireOutcome

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		const expire = `
        UPDATE assignment_locks SET active = false
        WHERE ticket_id = $1 AND active AND expires_at <= $2`
		if _, err := tx.Exec(ctx, expire, lock.TicketID, lock.AcquiredAt); err != nil {
			return fmt.Errorf("expire stale lock: %w", err)
		}

		const refresh = `
        UPDATE assignment_locks
        SET expires_at = CASE WHEN $4::bigint > 0 THEN LEAST($3, acquired_at + $4::bigint * INTERVAL '1 millisecond') ELSE $3 END,
            holder_name = $5
        WHERE ticket_id = $1 AND holder_id = $2 AND active
        RETURNING ` + lockColumns
		refreshed, err := scanLock(tx.QueryRow(ctx, refresh,
			lock.TicketID, lock.HolderID, lock.ExpiresAt, p.MaxTotal.Milliseconds(), lock.HolderName))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("refresh lock: %w", err)
		}
		if refreshed != nil {
			outcome = AcquireOutcome{Lock: *refreshed, Acquired: true, Refreshed: true}
			return nil
		}

		const insert = `
        INSERT INTO assignment_locks (` + lockColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,true)
        ON CONFLICT (ticket_id) WHERE active DO NOTHING
        RETURNING ` + lockColumns
		inserted, err := scanLock(tx.QueryRow(ctx, insert,
			lock.ID, lock.TicketID, lock.HolderID, lock.HolderName, string(lock.HolderRole), lock.AcquiredAt, lock.ExpiresAt))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("insert lock: %w", err)
		}
		if inserted != nil {
			outcome = AcquireOutcome{Lock: *inserted, Acquired: true}
			return nil
		}

		const holder = `SELECT ` + lockColumns + ` FROM assignment_locks WHERE ticket_id = $1 AND active`
		current, err := scanLock(tx.QueryRow(ctx, holder, lock.TicketID))
		if err != nil {
			return fmt.Errorf("load lock holder: %w", err)
		}
		outcome = AcquireOutcome{Lock: *current}
		return nil
	})
	if err != nil {
		return AcquireOutcome{}, err
	}
	return outcome, nil
}

func (s *postgresStore) Get(ctx context.Context, ticketID string, now time.Time) (*domain.AssignmentLock, error) {
	const query = `SELECT ` + lockColumns + `
        FROM assignment_locks
        WHERE ticket_id = $1 AND active AND expires_at > $2`
	lock, err := scanLock(s.db.QueryRow(ctx, query, ticketID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lock: %w", err)
	}
	return lock, nil
}

func (s *postgresStore) Release(ctx context.Context, ticketID, holderID string, now time.Time) (*domain.AssignmentLock, error) {
	const query = `
        UPDATE assignment_locks SET active = false
        WHERE ticket_id = $1 AND active AND expires_at > $3 AND ($2 = '' OR holder_id = $2)
        RETURNING ` + lockColumns
	lock, err := scanLock(s.db.QueryRow(ctx, query, ticketID, holderID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("release lock: %w", err)
	}
	return lock, nil
}

func (s *postgresStore) Extend(ctx context.Context, p ExtendParams) (*domain.AssignmentLock, error) {
	const query = `
        UPDATE assignment_locks
        SET expires_at = GREATEST(expires_at, CASE WHEN $4::bigint > 0
            THEN LEAST(expires_at + $3::bigint * INTERVAL '1 millisecond', acquired_at + $4::bigint * INTERVAL '1 millisecond')
            ELSE expires_at + $3::bigint * INTERVAL '1 millisecond' END)
        WHERE ticket_id = $1 AND holder_id = $2 AND active AND expires_at > $5
        RETURNING ` + lockColumns
	lock, err := scanLock(s.db.QueryRow(ctx, query,
		p.TicketID, p.HolderID, p.By.Milliseconds(), p.MaxTotal.Milliseconds(), p.Now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("extend lock: %w", err)
	}
	return lock, nil
}

func (s *postgresStore) Reap(ctx context.Context, now time.Time) (int, error) {
	const query = `DELETE FROM assignment_locks WHERE NOT active OR expires_at <= $1`
	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("reap locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanLock(row pgx.Row) (*domain.AssignmentLock, error) {
	var (
		lock domain.AssignmentLock
		role string
	)
	if err := row.Scan(
		&lock.ID,
		&lock.TicketID,
		&lock.HolderID,
		&lock.HolderName,
		&role,
		&lock.AcquiredAt,
		&lock.ExpiresAt,
		&lock.Active,
	); err != nil {
		return nil, err
	}
	lock.HolderRole = domain.Role(role)
	return &lock, nil
}
