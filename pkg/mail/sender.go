package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fluxorio/maildemo/pkg/observability/tracing"
)

// Sender hands composed messages to an SMTP server without TLS or AUTH.
// It also satisfies enmime.Sender.
type Sender struct {
	addr     string
	heloName string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSender creates a Sender for the server at addr.
func NewSender(addr, heloName string, timeout time.Duration, logger *slog.Logger) *Sender {
	if heloName == "" {
		heloName = "localhost"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{addr: addr, heloName: heloName, timeout: timeout, logger: logger}
}

// SendComposed sends m.
func (s *Sender) SendComposed(ctx context.Context, m *Composed) error {
	return s.SendContext(ctx, m.From, m.Recipients, m.Data)
}

// Send implements enmime.Sender.
func (s *Sender) Send(reversePath string, recipients []string, msg []byte) error {
	return s.SendContext(context.Background(), reversePath, recipients, msg)
}

// SendContext runs one SMTP transaction: EHLO, MAIL, RCPT..., DATA, QUIT.
func (s *Sender) SendContext(ctx context.Context, from string, recipients []string, msg []byte) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "smtp.send")
	span.SetAttributes(
		attribute.String("smtp.server", s.addr),
		attribute.String("smtp.from", from),
		attribute.Int("smtp.recipients", len(recipients)),
		attribute.Int("smtp.size", len(msg)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(s.heloName); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("mail from %s: %w", from, err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}

	s.logger.Debug("message sent", "server", s.addr, "from", from, "recipients", len(recipients))
	return nil
}
