package prometheus

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Server exposes /metrics, /live and /ready over fasthttp.
type Server struct {
	addr   string
	ready  func() bool
	logger *slog.Logger
	srv    *fasthttp.Server

	mu sync.RWMutex
	ln net.Listener
}

// NewServer creates a metrics server for m on addr. ready decides the
// /ready status; nil means always ready.
func NewServer(addr string, m *Metrics, ready func() bool, logger *slog.Logger) *Server {
	if m == nil {
		panic("metrics cannot be nil")
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:   addr,
		ready:  ready,
		logger: logger,
	}

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}),
	)
	s.srv = &fasthttp.Server{
		Name:    "maildemo-metrics",
		Handler: s.route(metricsHandler),
	}
	return s
}

func (s *Server) route(metricsHandler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !ctx.IsGet() {
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		switch string(ctx.Path()) {
		case "/metrics":
			metricsHandler(ctx)
		case "/live":
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"status":"up"}`)
		case "/ready":
			ctx.SetContentType("application/json")
			if s.ready() {
				ctx.SetBodyString(`{"ready":true}`)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString(`{"ready":false}`)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

// Start listens on the configured address and serves until Stop. Blocking.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. Blocking.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("metrics server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	return s.srv.Shutdown()
}
