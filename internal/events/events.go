// Package events publishes account lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to every subject, so "account.deleted" goes out
// as "snippetkeeper.account.deleted".
const SubjectPrefix = "snippetkeeper."

// Envelope wraps every payload.
type Envelope struct {
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

type NatsPublisher struct {
	conn   conn
	logger *slog.Logger
	now    func() time.Time
}

// Connect dials url. The connection reconnects on its own; disconnects are
// logged.
func Connect(url string, logger *slog.Logger) (*NatsPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("snippet-keeper"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to %s: %w", url, err)
	}
	return newPublisher(nc, logger), nil
}

func newPublisher(c conn, logger *slog.Logger) *NatsPublisher {
	return &NatsPublisher{conn: c, logger: logger, now: time.Now}
}

// Publish marshals v into an Envelope and publishes it on subject.
func (p *NatsPublisher) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: marshalling %s: %w", subject, err)
	}
	body, err := json.Marshal(Envelope{
		EventType:  subject,
		OccurredAt: p.now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("events: marshalling envelope: %w", err)
	}

	if err := p.conn.Publish(SubjectPrefix+subject, body); err != nil {
		return fmt.Errorf("events: publishing %s: %w", subject, err)
	}
	p.logger.DebugContext(ctx, "event published", slog.String("subject", SubjectPrefix+subject))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NatsPublisher) Close(ctx context.Context) error {
	if err := p.conn.FlushWithContext(ctx); err != nil {
		p.logger.Warn("nats flush failed", slog.String("error", err.Error()))
	}
	return p.conn.Drain()
}

// Noop drops every event. Used when NATS_URL is empty.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

func (Noop) Close(context.Context) error { return nil }
