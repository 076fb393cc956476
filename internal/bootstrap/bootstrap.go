// Package bootstrap opens the configured backends and builds the repositories
// and lock store shared by the API server and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/helpdesk-labs/ticket-assignment/internal/config"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/lock"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore"
	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
	"github.com/helpdesk-labs/ticket-assignment/internal/persistence"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository/memory"
	"github.com/helpdesk-labs/ticket-assignment/pkg/util/retry"
)

// Lock backends accepted by LOCK_BACKEND.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
	BackendMemory   = "memory"
)

// Backends holds open connections and the components built on them.
type Backends struct {
	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	NATS     *persistence.NATS

	Tickets       repository.TicketRepository
	Users         repository.UserRepository
	Audit         repository.AuditRepository
	Notifications repository.NotificationRepository

	LockStore   lockstore.Store
	LockBackend string

	// Memory is set when no Postgres DSN is configured.
	Memory *memory.Database
}

// Open connects to every configured backend. Postgres backs the repositories
// when POSTGRES_DSN is set; otherwise an in-memory directory is used and
// optionally seeded from SEED_FILE.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b.Postgres = pg

	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				b.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		pool := pg.PoolHandle()
		b.Tickets = repository.NewTicketRepository(pool)
		b.Users = repository.NewUserRepository(pool)
		b.Audit = repository.NewAuditRepository(pool)
		b.Notifications = repository.NewNotificationRepository(pool)
	} else {
		logger.Warn("using in-memory repositories")
		db := memory.New()
		if cfg.App.SeedFile != "" {
			if err := Seed(db, cfg.App.SeedFile); err != nil {
				b.Close()
				return nil, err
			}
			logger.Info("seeded in-memory directory", zap.String("file", cfg.App.SeedFile))
		}
		b.Memory = db
		b.Tickets = db.Tickets
		b.Users = db.Users
		b.Audit = db.Audit
		b.Notifications = db.Notifications
	}

	b.Redis = persistence.NewRedis(ctx, cfg.Redis, logger)

	nc, err := persistence.NewNATS(cfg.NATS, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.NATS = nc

	store, backend, err := b.lockStore(ctx, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.LockStore = store
	b.LockBackend = backend
	logger.Info("lock store ready", zap.String("backend", backend))
	return b, nil
}

func (b *Backends) lockStore(ctx context.Context, cfg *config.Config) (lockstore.Store, string, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Assignment.LockBackend))
	switch backend {
	case BackendRedis:
		if !b.Redis.Enabled() {
			return nil, "", fmt.Errorf("lock backend %q requires REDIS_ADDR", backend)
		}
		return lockstore.NewRedisStore(b.Redis.Client), backend, nil
	case BackendPostgres:
		if !b.Postgres.Enabled() {
			return nil, "", fmt.Errorf("lock backend %q requires POSTGRES_DSN", backend)
		}
		return lockstore.NewPostgresStore(b.Postgres.PoolHandle()), backend, nil
	case BackendNATS:
		if !b.NATS.Enabled() {
			return nil, "", fmt.Errorf("lock backend %q requires NATS_URL", backend)
		}
		kv, err := persistence.EnsureKeyValue(ctx, b.NATS.JS,
			lockstore.BucketConfig(cfg.NATS.LockBucket, cfg.Assignment.LockMaxTotal()))
		if err != nil {
			return nil, "", err
		}
		return lockstore.NewNATSStore(kv), backend, nil
	case BackendMemory, "":
		return lockstore.NewMemoryStore(), BackendMemory, nil
	default:
		return nil, "", fmt.Errorf("unknown lock backend %q", cfg.Assignment.LockBackend)
	}
}

// LockManager builds the lock manager over the opened store.
func (b *Backends) LockManager(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *lock.Manager {
	return lock.NewManager(b.LockStore, lock.Options{
		DefaultDuration: cfg.Assignment.LockDuration(),
		MaxTotal:        cfg.Assignment.LockMaxTotal(),
		Retry: retry.Policy{
			Attempts: cfg.Assignment.StoreRetryAttempts,
			Base:     cfg.Assignment.StoreRetryBase(),
			Max:      cfg.Assignment.StoreRetryBase() * 8,
		},
	}, logger, metrics)
}

// Close releases every open connection.
func (b *Backends) Close() {
	b.NATS.Close()
	b.Redis.Close()
	b.Postgres.Close()
}

type seedFile struct {
	Users []struct {
		ID     string      `yaml:"id"`
		Name   string      `yaml:"name"`
		Email  string      `yaml:"email"`
		Role   domain.Role `yaml:"role"`
		Active *bool       `yaml:"active"`
	} `yaml:"users"`
	Tickets []struct {
		ID     string              `yaml:"id"`
		Title  string              `yaml:"title"`
		Status domain.TicketStatus `yaml:"status"`
	} `yaml:"tickets"`
}

// Seed loads users and tickets from a YAML file into db.
func Seed(db *memory.Database, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for _, u := range seed.Users {
		if u.ID == "" || !u.Role.Valid() {
			return fmt.Errorf("seed user %q: id and a known role are required", u.ID)
		}
		active := u.Active == nil || *u.Active
		db.PutUser(domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Active: active})
	}
	for _, t := range seed.Tickets {
		if t.ID == "" {
			return fmt.Errorf("seed ticket: id is required")
		}
		status := t.Status
		if status == "" {
			status = domain.TicketStatusOpen
		}
		db.PutTicket(domain.Ticket{ID: t.ID, Title: t.Title, Status: status})
	}
	return nil
}
