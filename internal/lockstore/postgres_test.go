package lockstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore"
)

var lockCols = []string{"id", "ticket_id", "holder_id", "holder_name", "holder_role", "acquired_at", "expires_at", "active"}

func newPgxMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func pgParams(now time.Time, holder string) lockstore.AcquireParams {
	return lockstore.AcquireParams{
		Lock: domain.AssignmentLock{
			ID: "lock-1", TicketID: "T-1", HolderID: holder, HolderName: "Alice",
			HolderRole: domain.RoleDeveloper, AcquiredAt: now, ExpiresAt: now.Add(5 * time.Minute),
		},
		MaxTotal: 30 * time.Minute,
	}
}

func TestPostgresStoreAcquireInserts(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC().Truncate(time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assignment_locks SET active = false`).
		WithArgs("T-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`UPDATE assignment_locks\s+SET expires_at`).
		WithArgs("T-1", "alice", now.Add(5*time.Minute), int64(1800000), "Alice").
		WillReturnRows(pgxmock.NewRows(lockCols))
	mock.ExpectQuery(`INSERT INTO assignment_locks`).
		WithArgs("lock-1", "T-1", "alice", "Alice", "developer", now, now.Add(5*time.Minute)).
		WillReturnRows(pgxmock.NewRows(lockCols).
			AddRow("lock-1", "T-1", "alice", "Alice", "developer", now, now.Add(5*time.Minute), true))
	mock.ExpectCommit()

	out, err := store.Acquire(context.Background(), pgParams(now, "alice"))
	require.NoError(t, err)
	assert.True(t, out.Acquired)
	assert.False(t, out.Refreshed)
	assert.Equal(t, "lock-1", out.Lock.ID)
	assert.Equal(t, domain.RoleDeveloper, out.Lock.HolderRole)
}

func TestPostgresStoreAcquireRefreshes(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC().Truncate(time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assignment_locks SET active = false`).
		WithArgs("T-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`UPDATE assignment_locks\s+SET expires_at`).
		WithArgs("T-1", "alice", now.Add(5*time.Minute), int64(1800000), "Alice").
		WillReturnRows(pgxmock.NewRows(lockCols).
			AddRow("lock-0", "T-1", "alice", "Alice", "developer", now.Add(-time.Minute), now.Add(5*time.Minute), true))
	mock.ExpectCommit()

	out, err := store.Acquire(context.Background(), pgParams(now, "alice"))
	require.NoError(t, err)
	assert.True(t, out.Acquired)
	assert.True(t, out.Refreshed)
	assert.Equal(t, "lock-0", out.Lock.ID)
}

func TestPostgresStoreAcquireConflict(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC().Truncate(time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assignment_locks SET active = false`).
		WithArgs("T-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`UPDATE assignment_locks\s+SET expires_at`).
		WithArgs("T-1", "alice", now.Add(5*time.Minute), int64(1800000), "Alice").
		WillReturnRows(pgxmock.NewRows(lockCols))
	mock.ExpectQuery(`INSERT INTO assignment_locks`).
		WithArgs("lock-1", "T-1", "alice", "Alice", "developer", now, now.Add(5*time.Minute)).
		WillReturnRows(pgxmock.NewRows(lockCols))
	mock.ExpectQuery(`SELECT .* FROM assignment_locks WHERE ticket_id = \$1 AND active`).
		WithArgs("T-1").
		WillReturnRows(pgxmock.NewRows(lockCols).
			AddRow("lock-9", "T-1", "bob", "Bob", "admin", now, now.Add(time.Minute), true))
	mock.ExpectCommit()

	out, err := store.Acquire(context.Background(), pgParams(now, "alice"))
	require.NoError(t, err)
	assert.False(t, out.Acquired)
	assert.Equal(t, "bob", out.Lock.HolderID)
	assert.Equal(t, domain.RoleAdmin, out.Lock.HolderRole)
}

func TestPostgresStoreAcquireRollsBack(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assignment_locks SET active = false`).
		WithArgs("T-1", now).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Acquire(context.Background(), pgParams(now, "alice"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStoreGetMissing(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM assignment_locks`).
		WithArgs("T-1", now).
		WillReturnRows(pgxmock.NewRows(lockCols))

	got, err := store.Get(context.Background(), "T-1", now)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresStoreRelease(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE assignment_locks SET active = false`).
		WithArgs("T-1", "alice", now).
		WillReturnRows(pgxmock.NewRows(lockCols).
			AddRow("lock-1", "T-1", "alice", "Alice", "developer", now, now.Add(time.Minute), false))

	released, err := store.Release(context.Background(), "T-1", "alice", now)
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.False(t, released.Active)
}

func TestPostgresStoreExtendNotHeld(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE assignment_locks\s+SET expires_at = GREATEST`).
		WithArgs("T-1", "bob", int64(60000), int64(1800000), now).
		WillReturnRows(pgxmock.NewRows(lockCols))

	got, err := store.Extend(context.Background(), lockstore.ExtendParams{
		TicketID: "T-1", HolderID: "bob", By: time.Minute, MaxTotal: 30 * time.Minute, Now: now,
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresStoreReap(t *testing.T) {
	mock := newPgxMock(t)
	store := lockstore.NewPostgresStore(mock)
	now := time.Now().UTC()

	mock.ExpectExec(`DELETE FROM assignment_locks`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.Reap(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
