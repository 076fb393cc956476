package lockstore

import (
	"context"
	"sync"
	"time"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

type memoryStore struct {
	mu    sync.Mutex
	locks map[string]domain.AssignmentLock
}

// NewMemoryStore returns a process-local Store for single-instance deployments and tests.
func NewMemoryStore() Store {
	return &memoryStore{locks: make(map[string]domain.AssignmentLock)}
}

func (s *memoryStore) Acquire(_ context.Context, p AcquireParams) (AcquireOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := p.Lock.AcquiredAt
	if current, ok := s.locks[p.Lock.TicketID]; ok && current.LiveAt(now) {
		if current.HolderID != p.Lock.HolderID {
			return AcquireOutcome{Lock: current}, nil
		}
		current.ExpiresAt = refreshedExpiry(current.AcquiredAt, p.Lock.ExpiresAt, p.MaxTotal)
		current.HolderName = p.Lock.HolderName
		s.locks[current.TicketID] = current
		return AcquireOutcome{Lock: current, Acquired: true, Refreshed: true}, nil
	}

	lock := p.Lock
	lock.Active = true
	s.locks[lock.TicketID] = lock
	return AcquireOutcome{Lock: lock, Acquired: true}, nil
}

func (s *memoryStore) Get(_ context.Context, ticketID string, now time.Time) (*domain.AssignmentLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[ticketID]
	if !ok || !current.LiveAt(now) {
		return nil, nil
	}
	return &current, nil
}

func (s *memoryStore) Release(_ context.Context, ticketID, holderID string, now time.Time) (*domain.AssignmentLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[ticketID]
	if !ok || !current.LiveAt(now) {
		return nil, nil
	}
	if holderID != "" && current.HolderID != holderID {
		return nil, nil
	}
	delete(s.locks, ticketID)
	current.Active = false
	return &current, nil
}

func (s *memoryStore) Extend(_ context.Context, p ExtendParams) (*domain.AssignmentLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[p.TicketID]
	if !ok || !current.LiveAt(p.Now) || current.HolderID != p.HolderID {
		return nil, nil
	}
	current.ExpiresAt = extendedExpiry(current.AcquiredAt, current.ExpiresAt, p.By, p.MaxTotal)
	s.locks[p.TicketID] = current
	return &current, nil
}

func (s *memoryStore) Reap(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, lock := range s.locks {
		if !lock.LiveAt(now) {
			delete(s.locks, id)
			removed++
		}
	}
	return removed, nil
}
