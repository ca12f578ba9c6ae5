package smtpd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/emersion/go-smtp"
	"golang.org/x/net/netutil"

	"github.com/fluxorio/maildemo/pkg/config"
)

// DrainingExecutor is an Executor the server can stop on shutdown.
type DrainingExecutor interface {
	Executor
	Shutdown()
	Done() <-chan struct{}
}

// Options carries optional Server dependencies.
type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

// Server is an SMTP server whose deliveries run on a bounded executor.
type Server struct {
	cfg    config.ServerConfig
	exec   DrainingExecutor
	srv    *smtp.Server
	logger *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
}

// NewServer creates a Server. ctx is handed to every handler call.
func NewServer(ctx context.Context, cfg config.ServerConfig, exec DrainingExecutor, handler Handler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "smtpd")

	srv := smtp.NewServer(NewBackend(ctx, exec, handler, logger, opts.Observer))
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout.D()
	srv.WriteTimeout = cfg.WriteTimeout.D()
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.ErrorLog = errorLog{logger}

	return &Server{cfg: cfg, exec: exec, srv: srv, logger: logger}
}

// Listen binds the configured address without serving.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return smtp.ErrServerClosed
	}
	if s.ln != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until the server is shut down. It calls Listen
// if needed.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		if errors.Is(err, smtp.ErrServerClosed) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	s.logger.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"domain", s.cfg.Domain,
		"max_connections", s.cfg.MaxConnections)

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, smtp.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("serve smtp: %w", err)
	}
	return nil
}

// Start listens and serves. It blocks until Shutdown.
func (s *Server) Start() error {
	return s.Serve()
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting connections, waits for open sessions, then
// drains the executor. It returns ctx.Err() if ctx ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("SMTP server shutting down")

	var errs []error
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("close smtp server: %w", err))
	}
	s.mu.Lock()
	s.closed = true
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	s.mu.Unlock()

	s.exec.Shutdown()
	select {
	case <-s.exec.Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// errorLog routes go-smtp's internal logging to slog.
type errorLog struct{ logger *slog.Logger }

func (l errorLog) Printf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l errorLog) Println(v ...interface{}) {
	l.logger.Warn(fmt.Sprint(v...))
}
