package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Sink receives decoded messages.
type Sink interface {
	Deliver(ctx context.Context, msg *Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg *Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Observer is notified of every sink delivery.
type Observer interface {
	Delivered(sink string, err error)
}

type nopObserver struct{}

func (nopObserver) Delivered(string, error) {}

// Printer writes each message as indented JSON.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a Printer writing to w; nil means stdout.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

func (p *Printer) Deliver(_ context.Context, msg *Message) error {
	out := *msg
	out.ReceivedAt = out.ReceivedAt.UTC()
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintf(p.w, "Received email:\n%s\n", data)
	return err
}

// NamedSink labels a sink for logs and metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// Multi delivers to every sink, in order, and joins their errors. A failing
// sink does not stop later ones.
type Multi struct {
	sinks    []NamedSink
	observer Observer
}

// NewMulti creates a fan-out sink. observer may be nil.
func NewMulti(observer Observer, sinks ...NamedSink) *Multi {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Multi{sinks: sinks, observer: observer}
}

func (m *Multi) Deliver(ctx context.Context, msg *Message) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Sink.Deliver(ctx, msg)
		m.observer.Delivered(s.Name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Pipeline decodes envelopes and hands the result to a sink.
type Pipeline struct {
	sink   Sink
	logger *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(sink Sink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{sink: sink, logger: logger}
}

// Handle decodes env and delivers it. Failures are logged and returned.
func (p *Pipeline) Handle(ctx context.Context, env Envelope) error {
	msg, err := Decode(env)
	if err != nil {
		p.logger.Error("failed to decode message", "session", env.SessionID, "error", err)
		return err
	}
	if err := p.sink.Deliver(ctx, msg); err != nil {
		p.logger.Error("delivery failed", "session", env.SessionID, "message", msg.ID, "error", err)
		return err
	}
	p.logger.Debug("message delivered", "session", env.SessionID, "message", msg.ID)
	return nil
}
