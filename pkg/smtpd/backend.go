package smtpd

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/fluxorio/maildemo/pkg/delivery"
)

// Handler processes one received message. It runs on the executor, after
// the client has been answered.
type Handler func(ctx context.Context, env delivery.Envelope) error

// Executor runs delivery callbacks.
type Executor interface {
	Execute(fn func()) error
}

// Observer is notified of session activity.
type Observer interface {
	SessionOpened()
	MessageAccepted(size int)
	MessageRejected()
}

type nopObserver struct{}

func (nopObserver) SessionOpened()      {}
func (nopObserver) MessageAccepted(int) {}
func (nopObserver) MessageRejected()    {}

// ErrShuttingDown is returned to clients whose message arrives after the
// executor stopped accepting work.
var ErrShuttingDown = &smtp.SMTPError{
	Code:         421,
	EnhancedCode: smtp.EnhancedCode{4, 3, 2},
	Message:      "Service shutting down",
}

// Backend accepts mail from any sender to any recipient and hands each
// message to a Handler through an Executor.
type Backend struct {
	ctx      context.Context
	exec     Executor
	handler  Handler
	logger   *slog.Logger
	observer Observer
}

// NewBackend creates a Backend. ctx is passed to every handler call.
func NewBackend(ctx context.Context, exec Executor, handler Handler, logger *slog.Logger, observer Observer) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Backend{ctx: ctx, exec: exec, handler: handler, logger: logger, observer: observer}
}

// NewSession implements smtp.Backend.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	id := uuid.NewString()
	remote := ""
	if nc := c.Conn(); nc != nil {
		remote = nc.RemoteAddr().String()
	}
	b.observer.SessionOpened()
	b.logger.Debug("session opened", "session", id, "remote", remote)
	return &session{backend: b, id: id, logger: b.logger.With("session", id)}, nil
}

type session struct {
	backend *Backend
	id      string
	logger  *slog.Logger

	from       string
	recipients []string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		s.backend.observer.MessageRejected()
		return err
	}

	env := delivery.Envelope{
		SessionID:  s.id,
		From:       s.from,
		Recipients: append([]string(nil), s.recipients...),
		Data:       data,
		ReceivedAt: time.Now().UTC(),
	}
	b := s.backend
	err = b.exec.Execute(func() {
		if err := b.handler(b.ctx, env); err != nil {
			s.logger.Warn("message handler failed", "error", err)
		}
	})
	if err != nil {
		s.backend.observer.MessageRejected()
		s.logger.Warn("message rejected", "error", err)
		return ErrShuttingDown
	}

	s.backend.observer.MessageAccepted(len(data))
	s.logger.Debug("message accepted", "from", s.from, "recipients", len(env.Recipients), "size", len(data))
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

func (s *session) Logout() error {
	s.logger.Debug("session closed")
	return nil
}
