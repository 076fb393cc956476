package lockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

const (
	natsKeyPrefix  = "ticket."
	natsCASRetries = 5
)

var validNATSKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

// errRevisionChanged signals a lost compare-and-set race inside a retry loop.
var errRevisionChanged = errors.New("lockstore: revision changed")

type natsLock struct {
	ID         string `json:"id"`
	TicketID   string `json:"ticket_id"`
	HolderID   string `json:"holder_id"`
	HolderName string `json:"holder_name"`
	HolderRole string `json:"holder_role"`
	AcquiredAt int64  `json:"acquired_at_ms"`
	ExpiresAt  int64  `json:"expires_at_ms"`
}

func (n natsLock) toDomain() domain.AssignmentLock {
	return domain.AssignmentLock{
		ID:         n.ID,
		TicketID:   n.TicketID,
		HolderID:   n.HolderID,
		HolderName: n.HolderName,
		HolderRole: domain.Role(n.HolderRole),
		AcquiredAt: time.UnixMilli(n.AcquiredAt).UTC(),
		ExpiresAt:  time.UnixMilli(n.ExpiresAt).UTC(),
		Active:     true,
	}
}

func natsLockFrom(l domain.AssignmentLock) natsLock {
	return natsLock{
		ID:         l.ID,
		TicketID:   l.TicketID,
		HolderID:   l.HolderID,
		HolderName: l.HolderName,
		HolderRole: string(l.HolderRole),
		AcquiredAt: l.AcquiredAt.UnixMilli(),
		ExpiresAt:  l.ExpiresAt.UnixMilli(),
	}
}

type natsStore struct {
	kv jetstream.KeyValue
}

// NewNATSStore returns a Store backed by a JetStream key-value bucket.
// Writes are revision-checked so concurrent callers cannot both win.
func NewNATSStore(kv jetstream.KeyValue) Store {
	return &natsStore{kv: kv}
}

// BucketConfig returns the KV configuration for the lock bucket. Entries
// outlive any lock because a lock never lasts longer than maxTotal.
func BucketConfig(bucket string, maxTotal time.Duration) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "ticket assignment locks",
		History:     1,
		TTL:         maxTotal,
	}
}

func natsKey(ticketID string) (string, error) {
	if !validNATSKey.MatchString(ticketID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, ticketID)
	}
	return natsKeyPrefix + ticketID, nil
}

// load returns the stored lock and its revision. A missing key yields a nil lock.
func (s *natsStore) load(ctx context.Context, key string) (*natsLock, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("nats get %s: %w", key, err)
	}
	var stored natsLock
	if err := json.Unmarshal(entry.Value(), &stored); err != nil {
		return nil, 0, fmt.Errorf("decode lock %s: %w", key, err)
	}
	return &stored, entry.Revision(), nil
}

func (s *natsStore) write(ctx context.Context, key string, value natsLock, revision uint64, exists bool) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if exists {
		_, err = s.kv.Update(ctx, key, payload, revision)
	} else {
		_, err = s.kv.Create(ctx, key, payload)
	}
	if err != nil {
		if isRevisionMismatch(err) {
			return errRevisionChanged
		}
		return fmt.Errorf("nats write %s: %w", key, err)
	}
	return nil
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *natsStore) casLoop(fn func() error) error {
	var err error
	for attempt := 0; attempt < natsCASRetries; attempt++ {
		err = fn()
		if !errors.Is(err, errRevisionChanged) {
			return err
		}
	}
	return fmt.Errorf("nats cas: %w", err)
}

func live(l *natsLock, now time.Time) bool {
	return l != nil && now.UnixMilli() < l.ExpiresAt
}

func (s *natsStore) Acquire(ctx context.Context, p AcquireParams) (AcquireOutcome, error) {
	key, err := natsKey(p.Lock.TicketID)
	if err != nil {
		return AcquireOutcome{}, err
	}
	now := p.Lock.AcquiredAt

	var outcome AcquireOutcome
	err = s.casLoop(func() error {
		current, revision, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		if live(current, now) {
			if current.HolderID != p.Lock.HolderID {
				outcome = AcquireOutcome{Lock: current.toDomain()}
				return nil
			}
			next := *current
			next.HolderName = p.Lock.HolderName
			next.ExpiresAt = refreshedExpiry(current.toDomain().AcquiredAt, p.Lock.ExpiresAt, p.MaxTotal).UnixMilli()
			if err := s.write(ctx, key, next, revision, true); err != nil {
				return err
			}
			outcome = AcquireOutcome{Lock: next.toDomain(), Acquired: true, Refreshed: true}
			return nil
		}

		fresh := natsLockFrom(p.Lock)
		if err := s.write(ctx, key, fresh, revision, current != nil); err != nil {
			return err
		}
		outcome = AcquireOutcome{Lock: fresh.toDomain(), Acquired: true}
		return nil
	})
	if err != nil {
		return AcquireOutcome{}, err
	}
	return outcome, nil
}

func (s *natsStore) Get(ctx context.Context, ticketID string, now time.Time) (*domain.AssignmentLock, error) {
	key, err := natsKey(ticketID)
	if err != nil {
		return nil, err
	}
	current, _, err := s.load(ctx, key)
	if err != nil || !live(current, now) {
		return nil, err
	}
	lock := current.toDomain()
	return &lock, nil
}

func (s *natsStore) Release(ctx context.Context, ticketID, holderID string, now time.Time) (*domain.AssignmentLock, error) {
	key, err := natsKey(ticketID)
	if err != nil {
		return nil, err
	}

	var released *domain.AssignmentLock
	err = s.casLoop(func() error {
		current, revision, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		if !live(current, now) || (holderID != "" && current.HolderID != holderID) {
			return nil
		}
		if err := s.kv.Delete(ctx, key, jetstream.LastRevision(revision)); err != nil {
			if isRevisionMismatch(err) {
				return errRevisionChanged
			}
			return fmt.Errorf("nats delete %s: %w", key, err)
		}
		lock := current.toDomain()
		lock.Active = false
		released = &lock
		return nil
	})
	return released, err
}

func (s *natsStore) Extend(ctx context.Context, p ExtendParams) (*domain.AssignmentLock, error) {
	key, err := natsKey(p.TicketID)
	if err != nil {
		return nil, err
	}

	var extended *domain.AssignmentLock
	err = s.casLoop(func() error {
		current, revision, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		if !live(current, p.Now) || current.HolderID != p.HolderID {
			return nil
		}
		lock := current.toDomain()
		next := *current
		next.ExpiresAt = extendedExpiry(lock.AcquiredAt, lock.ExpiresAt, p.By, p.MaxTotal).UnixMilli()
		if next.ExpiresAt != current.ExpiresAt {
			if err := s.write(ctx, key, next, revision, true); err != nil {
				return err
			}
		}
		lock = next.toDomain()
		extended = &lock
		return nil
	})
	return extended, err
}

func (s *natsStore) Reap(ctx context.Context, now time.Time) (int, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("nats list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	removed := 0
	for _, key := range keys {
		current, revision, err := s.load(ctx, key)
		if err != nil {
			return removed, err
		}
		if current == nil || live(current, now) {
			continue
		}
		if err := s.kv.Delete(ctx, key, jetstream.LastRevision(revision)); err != nil {
			if isRevisionMismatch(err) {
				continue
			}
			return removed, fmt.Errorf("nats delete %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}
