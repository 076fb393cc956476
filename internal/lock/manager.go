// Package lock manages time-bounded assignment reservations on top of a lockstore.Store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore"
	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
	"github.com/helpdesk-labs/ticket-assignment/pkg/util/retry"
)

const (
	DefaultDuration = 5 * time.Minute
	DefaultMaxTotal = 30 * time.Minute
)

var (
	// ErrStoreUnavailable is returned once every retry against the store failed.
	ErrStoreUnavailable = errors.New("lock store unavailable")
	// ErrInvalidRequest is returned for requests missing a ticket or holder.
	ErrInvalidRequest = errors.New("invalid lock request")
)

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	DefaultDuration time.Duration
	MaxTotal        time.Duration
	Retry           retry.Policy
	Now             func() time.Time
}

// AcquireRequest asks for a lock on one ticket.
type AcquireRequest struct {
	TicketID   string
	HolderID   string
	HolderName string
	HolderRole domain.Role
	Duration   time.Duration
}

// Manager grants, refreshes, extends and releases assignment locks.
type Manager struct {
	store   lockstore.Store
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewManager wires a Manager around store.
func NewManager(store lockstore.Store, opts Options, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultDuration
	}
	if opts.MaxTotal <= 0 {
		opts.MaxTotal = DefaultMaxTotal
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.Default
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, opts: opts, logger: logger, metrics: metrics}
}

// MaxTotal returns the longest a single lock may be held.
func (m *Manager) MaxTotal() time.Duration {
	return m.opts.MaxTotal
}

// stores keep millisecond precision
func (m *Manager) now() time.Time {
	return m.opts.Now().UTC().Truncate(time.Millisecond)
}

func (m *Manager) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, m.opts.Retry, func(ctx context.Context) error {
		if attempt > 0 {
			m.metrics.RecordStoreRetry(op)
		}
		attempt++
		err := fn(ctx)
		if errors.Is(err, lockstore.ErrInvalidKey) {
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, lockstore.ErrInvalidKey) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	m.logger.Warn("lock store call failed", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Acquire reserves the ticket for the holder. A live lock held by someone else
// yields Acquired=false with the current holder; the holder's own live lock is
// refreshed in place.
func (m *Manager) Acquire(ctx context.Context, req AcquireRequest) (domain.LockResult, error) {
	if req.TicketID == "" || req.HolderID == "" {
		return domain.LockResult{}, ErrInvalidRequest
	}
	duration := req.Duration
	if duration <= 0 {
		duration = m.opts.DefaultDuration
	}
	if duration > m.opts.MaxTotal {
		duration = m.opts.MaxTotal
	}

	now := m.now()
	params := lockstore.AcquireParams{
		Lock: domain.AssignmentLock{
			ID:         uuid.NewString(),
			TicketID:   req.TicketID,
			HolderID:   req.HolderID,
			HolderName: req.HolderName,
			HolderRole: req.HolderRole,
			AcquiredAt: now,
			ExpiresAt:  now.Add(duration),
			Active:     true,
		},
		MaxTotal: m.opts.MaxTotal,
	}

	var outcome lockstore.AcquireOutcome
	err := m.call(ctx, "acquire", func(ctx context.Context) error {
		var err error
		outcome, err = m.store.Acquire(ctx, params)
		return err
	})
	if err != nil {
		m.metrics.RecordLockAcquire("error")
		return domain.LockResult{}, err
	}

	if !outcome.Acquired {
		m.metrics.RecordLockAcquire("conflict")
		holder := outcome.Lock
		return domain.LockResult{
			Acquired:      false,
			ExpiresAt:     holder.ExpiresAt,
			CurrentHolder: &holder,
			WaitTime:      holder.ExpiresAt.Sub(now),
		}, nil
	}

	if outcome.Refreshed {
		m.metrics.RecordLockAcquire("refreshed")
	} else {
		m.metrics.RecordLockAcquire("acquired")
	}
	m.logger.Debug("lock held",
		zap.String("ticket_id", req.TicketID),
		zap.String("holder_id", req.HolderID),
		zap.Bool("refreshed", outcome.Refreshed),
		zap.Time("expires_at", outcome.Lock.ExpiresAt),
	)
	return domain.LockResult{
		Acquired:   true,
		Refreshed:  outcome.Refreshed,
		LockID:     outcome.Lock.ID,
		AcquiredAt: outcome.Lock.AcquiredAt,
		ExpiresAt:  outcome.Lock.ExpiresAt,
	}, nil
}

// Release drops the lock if userID holds it. Any other caller gets false.
func (m *Manager) Release(ctx context.Context, ticketID, userID string) (bool, error) {
	if ticketID == "" || userID == "" {
		return false, ErrInvalidRequest
	}
	released, err := m.release(ctx, ticketID, userID)
	return released != nil, err
}

// ForceRelease drops whatever live lock exists and returns it.
func (m *Manager) ForceRelease(ctx context.Context, ticketID string) (*domain.AssignmentLock, error) {
	if ticketID == "" {
		return nil, ErrInvalidRequest
	}
	released, err := m.release(ctx, ticketID, "")
	if err == nil && released != nil {
		m.logger.Info("lock force released",
			zap.String("ticket_id", ticketID),
			zap.String("holder_id", released.HolderID),
		)
	}
	return released, err
}

func (m *Manager) release(ctx context.Context, ticketID, holderID string) (*domain.AssignmentLock, error) {
	now := m.now()
	var released *domain.AssignmentLock
	err := m.call(ctx, "release", func(ctx context.Context) error {
		var err error
		released, err = m.store.Release(ctx, ticketID, holderID, now)
		return err
	})
	return released, err
}

// Current returns the live lock on ticketID, or nil.
func (m *Manager) Current(ctx context.Context, ticketID string) (*domain.AssignmentLock, error) {
	now := m.now()
	var current *domain.AssignmentLock
	err := m.call(ctx, "get", func(ctx context.Context) error {
		var err error
		current, err = m.store.Get(ctx, ticketID, now)
		return err
	})
	return current, err
}

// CheckStatus reports the reservation state of a ticket without changing it.
func (m *Manager) CheckStatus(ctx context.Context, ticketID string) (domain.LockStatus, error) {
	if ticketID == "" {
		return domain.LockStatus{}, ErrInvalidRequest
	}
	current, err := m.Current(ctx, ticketID)
	if err != nil || current == nil {
		return domain.LockStatus{}, err
	}
	expires := current.ExpiresAt
	return domain.LockStatus{
		IsLocked:     true,
		LockedBy:     current.HolderID,
		LockedByName: current.HolderName,
		LockedByRole: current.HolderRole,
		ExpiresAt:    &expires,
	}, nil
}

// Extend moves the holder's expiry forward by additional. It fails when the
// caller does not hold the lock or the new expiry would pass AcquiredAt+MaxTotal.
func (m *Manager) Extend(ctx context.Context, ticketID, userID string, additional time.Duration) (bool, error) {
	if ticketID == "" || userID == "" || additional <= 0 {
		return false, ErrInvalidRequest
	}

	current, err := m.Current(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if current == nil || current.HolderID != userID {
		return false, nil
	}
	if current.ExpiresAt.Add(additional).After(current.AcquiredAt.Add(m.opts.MaxTotal)) {
		return false, nil
	}

	params := lockstore.ExtendParams{
		TicketID: ticketID,
		HolderID: userID,
		By:       additional,
		MaxTotal: m.opts.MaxTotal,
		Now:      m.now(),
	}
	var extended *domain.AssignmentLock
	err = m.call(ctx, "extend", func(ctx context.Context) error {
		var err error
		extended, err = m.store.Extend(ctx, params)
		return err
	})
	if err != nil {
		return false, err
	}
	return extended != nil, nil
}

// Reap removes expired lock rows. Expiry is enforced on read, so this only
// keeps storage tidy.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	now := m.now()
	var removed int
	err := m.call(ctx, "reap", func(ctx context.Context) error {
		var err error
		removed, err = m.store.Reap(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.metrics.RecordReaped(removed)
	return removed, nil
}
