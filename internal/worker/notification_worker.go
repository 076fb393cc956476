// Package worker runs periodic background jobs for the assignment service.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryProcessor drains due notification retries.
type RetryProcessor interface {
	ProcessRetries(ctx context.Context) (int, error)
}

// LockReaper removes expired lock rows.
type LockReaper interface {
	Reap(ctx context.Context) (int, error)
}

// StartNotificationWorker polls for due notification retries until ctx is
// cancelled. The returned channel closes when the loop has exited.
func StartNotificationWorker(ctx context.Context, processor RetryProcessor, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	return run(ctx, "notification-retry", interval, logger, func(ctx context.Context, logger *zap.Logger) {
		n, err := processor.ProcessRetries(ctx)
		if err != nil {
			logger.Warn("process notification retries", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Debug("notification retries processed", zap.Int("count", n))
		}
	})
}

// StartLockReaper periodically removes expired locks. Expiry is enforced on
// every read, so a stopped reaper only lets storage grow.
func StartLockReaper(ctx context.Context, reaper LockReaper, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	return run(ctx, "lock-reaper", interval, logger, func(ctx context.Context, logger *zap.Logger) {
		n, err := reaper.Reap(ctx)
		if err != nil {
			logger.Warn("reap expired locks", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("expired locks reaped", zap.Int("count", n))
		}
	})
}

func run(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, tick func(context.Context, *zap.Logger)) <-chan struct{} {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("worker started", zap.String("worker", name), zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				logger.Info("worker stopped", zap.String("worker", name))
				return
			case <-ticker.C:
				tick(ctx, logger)
			}
		}
	}()
	return done
}
