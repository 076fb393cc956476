package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used to publish events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type natsDispatcher struct {
	local  Dispatcher
	conn   Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSDispatcher publishes every event to "<prefix>.<type>" on NATS and
// then runs local subscribers.
func NewNATSDispatcher(conn Publisher, prefix string, logger *zap.Logger) Dispatcher {
	return &natsDispatcher{
		local:  NewInMemoryDispatcher(),
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}
}

// Subject returns the NATS subject for an event type.
func Subject(prefix string, eventType EventType) string {
	return prefix + "." + string(eventType)
}

func (d *natsDispatcher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var errs []error
	if err := d.conn.Publish(Subject(d.prefix, event.Type), data); err != nil {
		d.logger.Warn("publish event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("publish event: %w", err))
	}
	if err := d.local.Publish(ctx, event); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *natsDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.local.Subscribe(eventType, handler)
}

var _ Publisher = (*nats.Conn)(nil)
