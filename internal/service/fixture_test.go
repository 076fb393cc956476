package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/config"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/events"
	"github.com/helpdesk-labs/ticket-assignment/internal/lock"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore"
	"github.com/helpdesk-labs/ticket-assignment/internal/notify"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository/memory"
	"github.com/helpdesk-labs/ticket-assignment/pkg/util/retry"
)

var (
	admin  = AssignerContext{ID: "admin-1", Name: "Ada Admin", Role: domain.RoleAdmin}
	admin2 = AssignerContext{ID: "admin-2", Name: "Abe Admin", Role: domain.RoleAdmin}
	pm     = AssignerContext{ID: "pm-1", Name: "Pat Manager", Role: domain.RoleProjectManager}
	pm2    = AssignerContext{ID: "pm-2", Name: "Pia Manager", Role: domain.RoleProjectManager}
	dev1   = AssignerContext{ID: "dev-1", Name: "Dee Dev", Role: domain.RoleDeveloper}
	dev2   = AssignerContext{ID: "dev-2", Name: "Dan Dev", Role: domain.RoleDeveloper}
	dev3   = AssignerContext{ID: "dev-3", Name: "Dot Dev", Role: domain.RoleDeveloper}
	client = AssignerContext{ID: "client-1", Name: "Cy Client", Role: domain.RoleClient}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeEmail) Channel() domain.NotificationChannel {
	return domain.ChannelEmail
}

func (f *fakeEmail) Send(_ context.Context, msg notify.Message) (notify.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return notify.Receipt{}, f.err
	}
	f.sent = append(f.sent, msg)
	return notify.Receipt{MessageID: "mail-" + msg.ID, Status: domain.NotificationSent}, nil
}

func (f *fakeEmail) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeEmail) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.RecipientID)
	}
	return out
}

type fixtureConfig struct {
	strategy    domain.ResolutionStrategy
	store       lockstore.Store
	wrapTickets func(repository.TicketRepository) repository.TicketRepository
}

type fixtureOption func(*fixtureConfig)

func withStrategy(s domain.ResolutionStrategy) fixtureOption {
	return func(c *fixtureConfig) { c.strategy = s }
}

func withStore(store lockstore.Store) fixtureOption {
	return func(c *fixtureConfig) { c.store = store }
}

func withTickets(wrap func(repository.TicketRepository) repository.TicketRepository) fixtureOption {
	return func(c *fixtureConfig) { c.wrapTickets = wrap }
}

type fixture struct {
	db         *memory.Database
	clock      *testClock
	email      *fakeEmail
	queue      notify.RetryQueue
	dispatcher events.Dispatcher
	notifier   *NotificationService
	audit      *AuditService
	svc        *AssignmentService
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{strategy: domain.StrategyFirstComeFirstServe, store: lockstore.NewMemoryStore()}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := memory.New()
	created := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	for _, u := range []AssignerContext{admin, admin2, pm, pm2, dev1, dev2, dev3, client} {
		db.PutUser(domain.User{ID: u.ID, Name: u.Name, Email: u.ID + "@example.com", Role: u.Role, Active: true, CreatedAt: created})
	}
	db.PutUser(domain.User{ID: "dev-9", Name: "Gone Dev", Email: "dev-9@example.com", Role: domain.RoleDeveloper, Active: false, CreatedAt: created})
	for _, id := range []string{"T-1", "T-2", "T-3", "T-4", "T-5", "T-6"} {
		db.PutTicket(domain.Ticket{ID: id, Title: "ticket " + id, Status: domain.TicketStatusOpen, CreatedAt: created})
	}

	clk := &testClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	locks := lock.NewManager(cfg.store, lock.Options{
		Now:   clk.Now,
		Retry: retry.Policy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond},
	}, logger, nil)

	email := &fakeEmail{}
	queue := notify.NewMemoryQueue()
	notifier := NewNotificationService(NotificationDependencies{
		NotificationRepo: db.Notifications,
		UserRepo:         db.Users,
		Transports:       []notify.Transport{notify.NewInAppTransport(db.Notifications), email},
		Queue:            queue,
		Config:           config.NotificationConfig{MaxAttempts: 3, RetryBaseMs: 1000},
		Logger:           logger,
		Now:              clk.Now,
	})
	audit := NewAuditService(db.Audit, logger, nil)
	dispatcher := events.NewInMemoryDispatcher()

	tickets := db.Tickets
	if cfg.wrapTickets != nil {
		tickets = cfg.wrapTickets(tickets)
	}
	svc := NewAssignmentService(AssignmentDependencies{
		TicketRepo: tickets,
		UserRepo:   db.Users,
		Locks:      locks,
		Audit:      audit,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Strategy:   cfg.strategy,
		Now:        clk.Now,
		Logger:     logger,
	})

	return &fixture{
		db:         db,
		clock:      clk,
		email:      email,
		queue:      queue,
		dispatcher: dispatcher,
		notifier:   notifier,
		audit:      audit,
		svc:        svc,
	}
}

func (f *fixture) ticket(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := f.db.Tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) inboxKinds(userID string) []string {
	var kinds []string
	for _, n := range f.db.Inbox(userID) {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}
