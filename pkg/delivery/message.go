package delivery

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

// Envelope is a raw message as received from an SMTP session.
type Envelope struct {
	SessionID  string
	From       string
	Recipients []string
	Data       []byte
	ReceivedAt time.Time
}

// Message is a decoded mail message.
type Message struct {
	ID         string    `json:"id,omitempty"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	Content    []string  `json:"content"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
	SessionID  string    `json:"-"`
	Raw        []byte    `json:"-"`
}

// Decode parses env.Data. From, To and Subject come from the message
// headers, falling back to the envelope when a header is absent. Content
// holds the body of every leaf part in document order.
func Decode(env Envelope) (*Message, error) {
	parsed, err := enmime.ReadEnvelope(bytes.NewReader(env.Data))
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	msg := &Message{
		ID:         uuid.NewString(),
		From:       env.From,
		Subject:    parsed.GetHeader("Subject"),
		ReceivedAt: env.ReceivedAt,
		SessionID:  env.SessionID,
		Raw:        env.Data,
	}
	if from, err := parsed.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = formatAddress(from[0])
	}
	if to, err := parsed.AddressList("To"); err == nil && len(to) > 0 {
		for _, a := range to {
			msg.To = append(msg.To, formatAddress(a))
		}
	} else {
		msg.To = append(msg.To, env.Recipients...)
	}
	msg.Content = leafContents(parsed.Root)
	return msg, nil
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.String()
}

func leafContents(root *enmime.Part) []string {
	content := []string{}
	var walk func(p *enmime.Part)
	walk = func(p *enmime.Part) {
		for ; p != nil; p = p.NextSibling {
			if p.FirstChild != nil {
				walk(p.FirstChild)
				continue
			}
			if strings.HasPrefix(p.ContentType, "multipart/") {
				continue
			}
			content = append(content, string(p.Content))
		}
	}
	walk(root)
	return content
}
