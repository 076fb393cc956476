// Package memory provides in-process repository implementations for
// development without Postgres and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
)

type state struct {
	mu            sync.Mutex
	tickets       map[string]domain.Ticket
	users         map[string]domain.User
	records       []domain.AssignmentRecord
	seq           int64
	conflicts     map[string]domain.AssignmentConflict
	conflictOrder []string
	inbox         []domain.Notification
	results       map[string]domain.NotificationResult
	resultOrder   []string
}

// Database groups repositories sharing one in-memory state.
type Database struct {
	Tickets       repository.TicketRepository
	Users         repository.UserRepository
	Audit         repository.AuditRepository
	Notifications repository.NotificationRepository

	s *state
}

// New returns an empty Database.
func New() *Database {
	s := &state{
		tickets:   make(map[string]domain.Ticket),
		users:     make(map[string]domain.User),
		conflicts: make(map[string]domain.AssignmentConflict),
		results:   make(map[string]domain.NotificationResult),
	}
	return &Database{
		Tickets:       &tickets{s},
		Users:         &users{s},
		Audit:         &audit{s},
		Notifications: &notifications{s},
		s:             s,
	}
}

// PutTicket inserts or replaces a ticket.
func (d *Database) PutTicket(t domain.Ticket) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if t.Status == "" {
		t.Status = domain.TicketStatusOpen
	}
	d.s.tickets[t.ID] = t
}

// PutUser inserts or replaces a user.
func (d *Database) PutUser(u domain.User) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.users[u.ID] = u
}

// Inbox returns the in-app notifications for userID.
func (d *Database) Inbox(userID string) []domain.Notification {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []domain.Notification
	for _, n := range d.s.inbox {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type tickets struct{ s *state }

func (r *tickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *tickets) ListByIDs(_ context.Context, ids []string) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Ticket
	for _, id := range ids {
		if t, ok := r.s.tickets[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *tickets) Assign(_ context.Context, record *domain.AssignmentRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tickets[record.TicketID]
	switch {
	case !ok:
		return repository.ErrNotFound
	case t.AssigneeID != nil:
		return repository.ErrAlreadyAssigned
	case t.Status != domain.TicketStatusOpen:
		return repository.ErrNotAssignable
	}

	assignee, assigner, at := record.AssigneeID, record.AssignerID, record.AssignedAt
	t.AssigneeID = &assignee
	t.AssignedBy = &assigner
	t.AssignedAt = &at
	t.AssignmentNotes = record.Reason
	t.Status = domain.TicketStatusInProgress
	t.UpdatedAt = at
	r.s.tickets[t.ID] = t

	r.s.seq++
	record.Sequence = r.s.seq
	r.s.records = append(r.s.records, *record)
	return nil
}

func (r *tickets) Unassign(_ context.Context, cmd repository.UnassignCommand) (*domain.AssignmentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tickets[cmd.TicketID]
	if !ok || t.AssigneeID == nil || *t.AssigneeID != cmd.ExpectedAssigneeID || t.Status != domain.TicketStatusInProgress {
		return nil, repository.ErrNotCurrentAssignee
	}
	t.AssigneeID = nil
	t.AssignedBy = nil
	t.AssignedAt = nil
	t.Status = domain.TicketStatusOpen
	t.UpdatedAt = cmd.At
	r.s.tickets[t.ID] = t

	for i := range r.s.records {
		rec := &r.s.records[i]
		if rec.TicketID == cmd.TicketID && rec.UnassignedAt == nil {
			at := cmd.At
			rec.UnassignedAt = &at
			closed := *rec
			return &closed, nil
		}
	}
	return nil, nil
}

type users struct{ s *state }

func (r *users) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *users) ListByRoles(_ context.Context, roles ...domain.Role) ([]domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.User
	for _, u := range r.s.users {
		if !u.Active {
			continue
		}
		for _, role := range roles {
			if u.Role == role {
				out = append(out, u)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *users) ListDeveloperLoads(_ context.Context, ids []string) ([]domain.DeveloperLoad, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	counts := make(map[string]int)
	for _, t := range r.s.tickets {
		if t.AssigneeID != nil && (t.Status == domain.TicketStatusOpen || t.Status == domain.TicketStatusInProgress) {
			counts[*t.AssigneeID]++
		}
	}

	var out []domain.DeveloperLoad
	for _, u := range r.s.users {
		if u.Role != domain.RoleDeveloper || !u.Active || (len(ids) > 0 && !wanted[u.ID]) {
			continue
		}
		out = append(out, domain.DeveloperLoad{DeveloperID: u.ID, ActiveTickets: counts[u.ID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeveloperID < out[j].DeveloperID })
	return out, nil
}

type audit struct{ s *state }

func (r *audit) ListRecords(_ context.Context, ticketID string) ([]domain.AssignmentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AssignmentRecord
	for _, rec := range r.s.records {
		if rec.TicketID == ticketID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *audit) CreateConflict(_ context.Context, conflict *domain.AssignmentConflict) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range conflict.Attempts {
		conflict.Attempts[i].ConflictID = conflict.ID
	}
	stored := *conflict
	stored.Attempts = append([]domain.ConflictAttempt(nil), conflict.Attempts...)
	r.s.conflicts[conflict.ID] = stored
	r.s.conflictOrder = append(r.s.conflictOrder, conflict.ID)
	return nil
}

func (r *audit) ResolveConflict(_ context.Context, conflictID, resolvedBy, winnerAttemptID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conflicts[conflictID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.ResolvedAt != nil {
		return repository.ErrConflictClosed
	}
	by := resolvedBy
	c.ResolvedAt = &at
	c.ResolvedBy = &by
	attempts := make([]domain.ConflictAttempt, len(c.Attempts))
	for i, a := range c.Attempts {
		a.WasSuccessful = a.ID == winnerAttemptID
		attempts[i] = a
	}
	c.Attempts = attempts
	r.s.conflicts[conflictID] = c
	return nil
}

func (r *audit) GetConflict(_ context.Context, id string) (*domain.AssignmentConflict, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conflicts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.Attempts = append([]domain.ConflictAttempt(nil), c.Attempts...)
	return &c, nil
}

func (r *audit) ListConflicts(_ context.Context, ticketID string) ([]domain.AssignmentConflict, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AssignmentConflict
	for _, id := range r.s.conflictOrder {
		c := r.s.conflicts[id]
		if c.TicketID == ticketID {
			c.Attempts = append([]domain.ConflictAttempt(nil), c.Attempts...)
			out = append(out, c)
		}
	}
	return out, nil
}

type notifications struct{ s *state }

func (r *notifications) CreateInApp(_ context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.inbox {
		if existing.ID == n.ID {
			return nil
		}
	}
	r.s.inbox = append(r.s.inbox, *n)
	return nil
}

func (r *notifications) SaveResult(_ context.Context, result *domain.NotificationResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.results[result.ID]; !ok {
		r.s.resultOrder = append(r.s.resultOrder, result.ID)
	}
	r.s.results[result.ID] = *result
	return nil
}

func (r *notifications) ListResults(_ context.Context, ticketID string) ([]domain.NotificationResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.NotificationResult
	for _, id := range r.s.resultOrder {
		if res := r.s.results[id]; res.TicketID == ticketID {
			out = append(out, res)
		}
	}
	return out, nil
}
