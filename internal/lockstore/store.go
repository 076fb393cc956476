// Package lockstore persists assignment locks with atomic acquire, release and extend.
package lockstore

import (
	"context"
	"errors"
	"time"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// ErrInvalidKey is returned when a ticket id cannot be stored by a backend.
var ErrInvalidKey = errors.New("lockstore: invalid ticket id")

// AcquireParams describes a requested lock. Lock.AcquiredAt is the current
// time and Lock.ExpiresAt the requested expiry.
type AcquireParams struct {
	Lock     domain.AssignmentLock
	MaxTotal time.Duration
}

// AcquireOutcome reports the result of Acquire. Lock is the caller's lock when
// Acquired is set and the conflicting holder's lock otherwise.
type AcquireOutcome struct {
	Lock      domain.AssignmentLock
	Acquired  bool
	Refreshed bool
}

// ExtendParams describes an extension of a held lock.
type ExtendParams struct {
	TicketID string
	HolderID string
	By       time.Duration
	MaxTotal time.Duration
	Now      time.Time
}

// Store is implemented by every lock backend. Every method is atomic with
// respect to concurrent callers on the same ticket.
type Store interface {
	// Acquire grants the lock when the ticket is free or its lock expired,
	// refreshes it when the caller already holds it, and otherwise reports
	// the current holder.
	Acquire(ctx context.Context, p AcquireParams) (AcquireOutcome, error)
	// Get returns the live lock for ticketID, or nil.
	Get(ctx context.Context, ticketID string, now time.Time) (*domain.AssignmentLock, error)
	// Release removes the live lock held by holderID and returns it. An empty
	// holderID releases whatever live lock exists. Nil means nothing was released.
	Release(ctx context.Context, ticketID, holderID string, now time.Time) (*domain.AssignmentLock, error)
	// Extend pushes the expiry of a lock held by p.HolderID, never past
	// AcquiredAt+MaxTotal. Nil means the caller does not hold a live lock.
	Extend(ctx context.Context, p ExtendParams) (*domain.AssignmentLock, error)
	// Reap deletes expired and inactive locks and returns how many were removed.
	Reap(ctx context.Context, now time.Time) (int, error)
}

// refreshedExpiry caps a requested expiry at acquiredAt+maxTotal.
func refreshedExpiry(acquiredAt, requested time.Time, maxTotal time.Duration) time.Time {
	if maxTotal <= 0 {
		return requested
	}
	limit := acquiredAt.Add(maxTotal)
	if requested.After(limit) {
		return limit
	}
	return requested
}

// extendedExpiry computes the expiry after extending current by by, capped
// at acquiredAt+maxTotal and never earlier than current.
func extendedExpiry(acquiredAt, current time.Time, by, maxTotal time.Duration) time.Time {
	next := refreshedExpiry(acquiredAt, current.Add(by), maxTotal)
	if next.Before(current) {
		return current
	}
	return next
}
