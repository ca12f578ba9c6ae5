// Package relay publishes delivered messages to NATS.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/maildemo/pkg/config"
	"github.com/fluxorio/maildemo/pkg/delivery"
)

// DefaultSubject is used when the config leaves the subject empty.
const DefaultSubject = "maildemo.received"

// DefaultFlushTimeout is used when the config leaves the flush timeout unset.
const DefaultFlushTimeout = 5 * time.Second

// HeaderMessageID carries the message id on every published NATS message.
const HeaderMessageID = "Maildemo-Message-Id"

// Relay is a delivery.Sink that publishes each message as JSON.
type Relay struct {
	nc           *nats.Conn
	subject      string
	flushTimeout time.Duration
	logger       *slog.Logger
}

// Connect dials the NATS server in cfg.
func Connect(cfg config.RelayConfig, logger *slog.Logger) (*Relay, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	flushTimeout := cfg.FlushTimeout.D()
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay", "subject", subject)

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	},
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &Relay{nc: nc, subject: subject, flushTimeout: flushTimeout, logger: logger}, nil
}

// Subject returns the subject messages are published to.
func (r *Relay) Subject() string { return r.subject }

// Deliver publishes msg and waits for the server to acknowledge the flush.
// A ctx without a deadline gets the relay's flush timeout.
func (r *Relay) Deliver(ctx context.Context, msg *delivery.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	out := nats.NewMsg(r.subject)
	out.Data = data
	if msg.ID != "" {
		out.Header.Set(HeaderMessageID, msg.ID)
	}
	if err := r.nc.PublishMsg(out); err != nil {
		return fmt.Errorf("publish to %s: %w", r.subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.flushTimeout)
		defer cancel()
	}
	if err := r.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close drains the connection.
func (r *Relay) Close() error {
	if r.nc == nil || r.nc.IsClosed() {
		return nil
	}
	return r.nc.Drain()
}
