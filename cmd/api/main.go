package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/helpdesk-labs/ticket-assignment/internal/api/http"
	"github.com/helpdesk-labs/ticket-assignment/internal/api/http/handlers"
	"github.com/helpdesk-labs/ticket-assignment/internal/auth"
	"github.com/helpdesk-labs/ticket-assignment/internal/bootstrap"
	"github.com/helpdesk-labs/ticket-assignment/internal/config"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/events"
	"github.com/helpdesk-labs/ticket-assignment/internal/notify"
	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
	"github.com/helpdesk-labs/ticket-assignment/internal/service"
	"github.com/helpdesk-labs/ticket-assignment/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	strategy := domain.ResolutionStrategy(cfg.Assignment.ResolutionStrategy)
	if !strategy.Valid() {
		logger.Fatal("invalid conflict resolution strategy", zap.String("strategy", cfg.Assignment.ResolutionStrategy))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open backends", zap.Error(err))
	}
	defer backends.Close()

	metrics := observability.NewMetrics()
	locks := backends.LockManager(cfg, logger, metrics)

	var queue notify.RetryQueue
	if backends.Redis.Enabled() {
		queue = notify.NewRedisQueue(backends.Redis.Client, cfg.Notification.RetryQueueKey, logger)
	} else {
		queue = notify.NewMemoryQueue()
	}
	notifier := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: backends.Notifications,
		UserRepo:         backends.Users,
		Transports: []notify.Transport{
			notify.NewInAppTransport(backends.Notifications),
			notify.NewEmailTransport(cfg.Notification.EmailFrom, cfg.Notification.WebhookURL, cfg.Notification.WebhookTimeout(), logger),
		},
		Queue:   queue,
		Config:  cfg.Notification,
		Logger:  logger,
		Metrics: metrics,
	})

	var dispatcher events.Dispatcher
	if backends.NATS.Enabled() {
		dispatcher = events.NewNATSDispatcher(backends.NATS.Conn, cfg.NATS.EventSubject, logger)
	} else {
		dispatcher = events.NewInMemoryDispatcher()
	}
	audit := service.NewAuditService(backends.Audit, logger, metrics)
	audit.RegisterHandlers(dispatcher)

	assignments := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:     backends.Tickets,
		UserRepo:       backends.Users,
		Locks:          locks,
		Audit:          audit,
		Notifier:       notifier,
		Dispatcher:     dispatcher,
		Strategy:       strategy,
		RequestTimeout: cfg.Assignment.RequestTimeout(),
		Logger:         logger,
		Metrics:        metrics,
	})

	notifyDone := worker.StartNotificationWorker(ctx, notifier, cfg.Notification.RetryPoll(), logger)
	reaperDone := worker.StartLockReaper(ctx, locks, cfg.Assignment.ReaperInterval(), logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, healthDependencies(backends)...),
		Assignments:    handlers.NewAssignmentsHandler(assignments),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, backends.Users),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	cancel()
	<-notifyDone
	<-reaperDone
}

func healthDependencies(b *bootstrap.Backends) []handlers.Dependency {
	var deps []handlers.Dependency
	if b.Postgres.Enabled() {
		deps = append(deps, handlers.Dependency{Name: "postgres", Pinger: b.Postgres})
	}
	if b.Redis.Enabled() {
		deps = append(deps, handlers.Dependency{Name: "redis", Pinger: b.Redis})
	}
	if b.NATS.Enabled() {
		deps = append(deps, handlers.Dependency{Name: "nats", Pinger: b.NATS})
	}
	return deps
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
