package mail

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/fluxorio/maildemo/pkg/config"
	"github.com/fluxorio/maildemo/pkg/logging"
	"github.com/fluxorio/maildemo/pkg/resource"
)

func TestComposer_DraftFromConfig(t *testing.T) {
	resolver := resource.NewResolver(fstest.MapFS{
		"mail.html": {Data: []byte("<p>hello</p>\n")},
	}, t.TempDir())
	c := NewComposer(resolver, "example.test")

	cfg := config.Default().Client
	d, err := c.DraftFromConfig(cfg)
	if err != nil {
		t.Fatalf("DraftFromConfig failed: %v", err)
	}
	if d.From != "from@mail.com" || len(d.To) != 1 || d.To[0] != "to@mail.com" {
		t.Errorf("unexpected addresses: %+v", d)
	}
	if d.HTML != "<p>hello</p>\n" {
		t.Errorf("HTML = %q", d.HTML)
	}
	if d.Text != "hello" {
		t.Errorf("Text = %q, want markup stripped", d.Text)
	}
}

func TestComposer_DraftFromConfigMissingBody(t *testing.T) {
	c := NewComposer(resource.NewResolver(fstest.MapFS{}, t.TempDir()), "")
	cfg := config.Default().Client
	cfg.BodyResource = "nope.html"

	_, err := c.DraftFromConfig(cfg)
	if !errors.Is(err, resource.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestComposer_ComposeMultipart(t *testing.T) {
	c := NewComposer(nil, "example.test")
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	m, err := c.Compose(Draft{
		From:    "Sender <from@mail.com>",
		To:      []string{"to@mail.com"},
		Subject: "Mail Subject",
		HTML:    "<b>hi</b>",
		Text:    "hi",
	})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if m.From != "from@mail.com" {
		t.Errorf("envelope from = %q", m.From)
	}
	if len(m.Recipients) != 1 || m.Recipients[0] != "to@mail.com" {
		t.Errorf("recipients = %v", m.Recipients)
	}
	if !strings.HasSuffix(m.MessageID, "@example.test") {
		t.Errorf("message id = %q", m.MessageID)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(m.Data))
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if got := env.GetHeader("Subject"); got != "Mail Subject" {
		t.Errorf("Subject = %q", got)
	}
	if !strings.Contains(env.GetHeader("From"), "from@mail.com") {
		t.Errorf("From = %q", env.GetHeader("From"))
	}
	if env.Text != "hi" {
		t.Errorf("Text = %q", env.Text)
	}
	if env.HTML != "<b>hi</b>" {
		t.Errorf("HTML = %q", env.HTML)
	}
}

func TestComposer_ComposeInvalid(t *testing.T) {
	c := NewComposer(nil, "")

	tests := []struct {
		name  string
		draft Draft
	}{
		{"bad from", Draft{From: "not an address", To: []string{"to@mail.com"}, Subject: "s", Text: "x"}},
		{"no recipients", Draft{From: "from@mail.com", Subject: "s", Text: "x"}},
		{"bad recipient", Draft{From: "from@mail.com", To: []string{"@@"}, Subject: "s", Text: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Compose(tt.draft); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := NewSender(addr, "", time.Second, logging.Discard())
	err = s.SendContext(context.Background(), "from@mail.com", []string{"to@mail.com"}, []byte("x"))
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "dial") {
		t.Errorf("unexpected error: %v", err)
	}
}

var _ enmime.Sender = (*Sender)(nil)
