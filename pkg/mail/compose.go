package mail

import (
	"bytes"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"github.com/fluxorio/maildemo/pkg/config"
	"github.com/fluxorio/maildemo/pkg/resource"
)

// Draft is a message before MIME encoding. Addresses may carry a display
// name ("Jane <jane@example.com>").
type Draft struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Composed is an encoded message ready for transport.
type Composed struct {
	MessageID  string
	From       string   // envelope sender (bare address)
	Recipients []string // envelope recipients (bare addresses)
	Data       []byte
}

// Composer turns drafts into MIME messages.
type Composer struct {
	resolver *resource.Resolver
	domain   string
	now      func() time.Time
}

// NewComposer creates a Composer. resolver loads body resources; domain is
// used for Message-ID.
func NewComposer(resolver *resource.Resolver, domain string) *Composer {
	if resolver == nil {
		resolver = resource.Default()
	}
	if domain == "" {
		domain = "localhost"
	}
	return &Composer{resolver: resolver, domain: domain, now: time.Now}
}

// DraftFromConfig builds the demo draft: the body comes from the configured
// resource and is sent as HTML with a plain-text alternative.
func (c *Composer) DraftFromConfig(cfg config.ClientConfig) (Draft, error) {
	body, err := c.resolver.ReadString(cfg.BodyResource)
	if err != nil {
		return Draft{}, fmt.Errorf("load mail body: %w", err)
	}
	text, err := html2text.FromString(body, html2text.Options{})
	if err != nil {
		return Draft{}, fmt.Errorf("render text alternative: %w", err)
	}
	return Draft{
		From:    cfg.From,
		To:      cfg.To,
		Subject: cfg.Subject,
		HTML:    body,
		Text:    strings.TrimSpace(text),
	}, nil
}

// Compose encodes d.
func (c *Composer) Compose(d Draft) (*Composed, error) {
	from, err := netmail.ParseAddress(d.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", d.From, err)
	}
	if len(d.To) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	to := make([]netmail.Address, 0, len(d.To))
	rcpts := make([]string, 0, len(d.To))
	for _, raw := range d.To {
		addr, err := netmail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", raw, err)
		}
		to = append(to, *addr)
		rcpts = append(rcpts, addr.Address)
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), c.domain)
	builder := enmime.Builder().
		From(from.Name, from.Address).
		ToAddrs(to).
		Subject(d.Subject).
		Date(c.now()).
		Header("Message-ID", "<"+messageID+">")
	if d.Text != "" {
		builder = builder.Text([]byte(d.Text))
	}
	if d.HTML != "" {
		builder = builder.HTML([]byte(d.HTML))
	}

	root, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	return &Composed{
		MessageID:  messageID,
		From:       from.Address,
		Recipients: rcpts,
		Data:       buf.Bytes(),
	}, nil
}
