package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/config"
)

// NATS wraps a NATS connection and its JetStream context.
type NATS struct {
	Conn *nats.Conn
	JS   jetstream.JetStream
}

// NewNATS connects when a URL is configured; otherwise it returns an empty handle.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		logger.Info("NATS_URL not provided; skipping nats connection")
		return &NATS{}, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("ticket-assignment"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	logger.Info("connected to nats", zap.String("url", cfg.URL))
	return &NATS{Conn: conn, JS: js}, nil
}

// Enabled reports whether a connection exists.
func (n *NATS) Enabled() bool {
	return n != nil && n.Conn != nil
}

// Close drains the connection.
func (n *NATS) Close() {
	if n.Enabled() {
		_ = n.Conn.Drain()
	}
}

// Ping verifies the connection is usable.
func (n *NATS) Ping(ctx context.Context) error {
	if !n.Enabled() {
		return errors.New("nats not configured")
	}
	if !n.Conn.IsConnected() {
		return errors.New("nats disconnected")
	}
	return n.Conn.FlushWithContext(ctx)
}

// EnsureKeyValue creates or opens a KV bucket, retrying when several
// instances race to create it.
func EnsureKeyValue(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	const maxRetries = 5

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt < maxRetries
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("ensure kv bucket %s: %w", cfg.Bucket, lastErr)
}
