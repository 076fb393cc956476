// Package lockstoretest holds behaviour checks shared by every lockstore backend.
package lockstoretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore"
)

// Factory builds an empty store for one subtest.
type Factory func(t *testing.T) lockstore.Store

const (
	duration = 5 * time.Minute
	maxTotal = 30 * time.Minute
)

var ticketSeq atomic.Int64

func ticketID() string {
	return fmt.Sprintf("ticket-%d", ticketSeq.Add(1))
}

func params(ticket, holder string, now time.Time, d time.Duration) lockstore.AcquireParams {
	return lockstore.AcquireParams{
		Lock: domain.AssignmentLock{
			ID:         fmt.Sprintf("lock-%s-%s-%d", ticket, holder, now.UnixMilli()),
			TicketID:   ticket,
			HolderID:   holder,
			HolderName: "User " + holder,
			HolderRole: domain.RoleDeveloper,
			AcquiredAt: now,
			ExpiresAt:  now.Add(d),
		},
		MaxTotal: maxTotal,
	}
}

func sameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Equal(t, want.UnixMilli(), got.UnixMilli(), "want %s got %s", want, got)
}

// Run exercises newStore against the behaviour every backend must provide.
func Run(t *testing.T, newStore Factory) {
	now := time.Now().Truncate(time.Millisecond)

	t.Run("acquire free ticket", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		out, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)
		require.True(t, out.Acquired)
		assert.False(t, out.Refreshed)
		assert.Equal(t, "alice", out.Lock.HolderID)
		assert.Equal(t, ticket, out.Lock.TicketID)
		sameInstant(t, now.Add(duration), out.Lock.ExpiresAt)

		got, err := store.Get(ctx, ticket, now)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.HolderID)
		assert.Equal(t, "User alice", got.HolderName)
		assert.Equal(t, domain.RoleDeveloper, got.HolderRole)
	})

	t.Run("second holder sees conflict", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		_, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)

		out, err := store.Acquire(ctx, params(ticket, "bob", now.Add(time.Second), duration))
		require.NoError(t, err)
		assert.False(t, out.Acquired)
		assert.Equal(t, "alice", out.Lock.HolderID)
		sameInstant(t, now.Add(duration), out.Lock.ExpiresAt)
	})

	t.Run("same holder refreshes up to max total", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		first, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)

		later := now.Add(2 * time.Minute)
		out, err := store.Acquire(ctx, params(ticket, "alice", later, duration))
		require.NoError(t, err)
		assert.True(t, out.Acquired)
		assert.True(t, out.Refreshed)
		assert.Equal(t, first.Lock.ID, out.Lock.ID)
		sameInstant(t, now, out.Lock.AcquiredAt)
		sameInstant(t, later.Add(duration), out.Lock.ExpiresAt)

		near := now.Add(maxTotal - time.Minute)
		for at := later.Add(4 * time.Minute); at.Before(near); at = at.Add(4 * time.Minute) {
			_, err := store.Acquire(ctx, params(ticket, "alice", at, duration))
			require.NoError(t, err)
		}
		out, err = store.Acquire(ctx, params(ticket, "alice", near, duration))
		require.NoError(t, err)
		assert.True(t, out.Refreshed)
		sameInstant(t, now.Add(maxTotal), out.Lock.ExpiresAt)
	})

	t.Run("expired lock is replaced", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		_, err := store.Acquire(ctx, params(ticket, "alice", now, time.Minute))
		require.NoError(t, err)

		after := now.Add(time.Minute)
		got, err := store.Get(ctx, ticket, after)
		require.NoError(t, err)
		assert.Nil(t, got, "lock is not live at its expiry instant")

		out, err := store.Acquire(ctx, params(ticket, "bob", after, duration))
		require.NoError(t, err)
		assert.True(t, out.Acquired)
		assert.False(t, out.Refreshed)
		assert.Equal(t, "bob", out.Lock.HolderID)
		sameInstant(t, after, out.Lock.AcquiredAt)
	})

	t.Run("release by holder", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		_, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)

		released, err := store.Release(ctx, ticket, "alice", now)
		require.NoError(t, err)
		require.NotNil(t, released)
		assert.Equal(t, "alice", released.HolderID)

		got, err := store.Get(ctx, ticket, now)
		require.NoError(t, err)
		assert.Nil(t, got)

		out, err := store.Acquire(ctx, params(ticket, "bob", now, duration))
		require.NoError(t, err)
		assert.True(t, out.Acquired)
	})

	t.Run("release by non holder is a no-op", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		_, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)

		released, err := store.Release(ctx, ticket, "bob", now)
		require.NoError(t, err)
		assert.Nil(t, released)

		got, err := store.Get(ctx, ticket, now)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.HolderID)
	})

	t.Run("release of missing lock", func(t *testing.T) {
		store := newStore(t)
		released, err := store.Release(context.Background(), ticketID(), "alice", now)
		require.NoError(t, err)
		assert.Nil(t, released)
	})

	t.Run("force release", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		_, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)

		released, err := store.Release(ctx, ticket, "", now)
		require.NoError(t, err)
		require.NotNil(t, released)
		assert.Equal(t, "alice", released.HolderID)

		got, err := store.Get(ctx, ticket, now)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("extend by holder is capped", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		_, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)

		extended, err := store.Extend(ctx, lockstore.ExtendParams{
			TicketID: ticket, HolderID: "alice", By: 10 * time.Minute, MaxTotal: maxTotal, Now: now,
		})
		require.NoError(t, err)
		require.NotNil(t, extended)
		sameInstant(t, now.Add(duration+10*time.Minute), extended.ExpiresAt)

		extended, err = store.Extend(ctx, lockstore.ExtendParams{
			TicketID: ticket, HolderID: "alice", By: time.Hour, MaxTotal: maxTotal, Now: now,
		})
		require.NoError(t, err)
		require.NotNil(t, extended)
		sameInstant(t, now.Add(maxTotal), extended.ExpiresAt)
	})

	t.Run("extend by non holder", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		_, err := store.Acquire(ctx, params(ticket, "alice", now, duration))
		require.NoError(t, err)

		extended, err := store.Extend(ctx, lockstore.ExtendParams{
			TicketID: ticket, HolderID: "bob", By: time.Minute, MaxTotal: maxTotal, Now: now,
		})
		require.NoError(t, err)
		assert.Nil(t, extended)

		got, err := store.Get(ctx, ticket, now)
		require.NoError(t, err)
		sameInstant(t, now.Add(duration), got.ExpiresAt)
	})

	t.Run("reap leaves live locks", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		stale, fresh := ticketID(), ticketID()

		_, err := store.Acquire(ctx, params(stale, "alice", now, time.Minute))
		require.NoError(t, err)
		_, err = store.Acquire(ctx, params(fresh, "bob", now, duration))
		require.NoError(t, err)

		_, err = store.Reap(ctx, now.Add(2*time.Minute))
		require.NoError(t, err)

		got, err := store.Get(ctx, fresh, now.Add(2*time.Minute))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "bob", got.HolderID)

		got, err = store.Get(ctx, stale, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("concurrent acquire grants one holder", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		ticket := ticketID()

		const contenders = 8
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
			errs    = make(chan error, contenders)
		)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(holder string) {
				defer wg.Done()
				out, err := store.Acquire(ctx, params(ticket, holder, now, duration))
				if err != nil {
					errs <- err
					return
				}
				if out.Acquired {
					winners.Add(1)
				}
			}(fmt.Sprintf("user-%d", i))
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), winners.Load())
	})
}
