package onesecmail

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
)

// Mailbox polls and issues 1secmail inboxes for the client.
type Mailbox struct {
	client  *Client
	variant *Variant
}

// NewMailbox creates a Mailbox on top of client.
func NewMailbox(client *Client) *Mailbox {
	return &Mailbox{client: client, variant: New()}
}

// Kind returns mail.KindOneSecMail.
func (m *Mailbox) Kind() mail.Kind {
	return mail.KindOneSecMail
}

// Owns reports whether addr lives on 1secmail, by tag or by domain.
func (m *Mailbox) Owns(addr mail.Address) bool {
	return addr.Provider == mail.KindOneSecMail || strings.Contains(strings.ToLower(addr.Domain), marker)
}

// Issue asks 1secmail for one random mailbox.
func (m *Mailbox) Issue(ctx context.Context) (string, error) {
	boxes, err := m.client.GenRandomMailbox(ctx, 1)
	if err != nil {
		return "", err
	}
	for _, b := range boxes {
		if strings.TrimSpace(b) != "" {
			return strings.TrimSpace(b), nil
		}
	}
	return "", &mail.UpstreamError{Service: serviceName, Message: "no mailbox issued"}
}

// List fetches the inbox listing and then every message's detail. Detail
// calls run concurrently; a failed detail keeps the summary fields.
func (m *Mailbox) List(ctx context.Context, addr mail.Address) ([]mail.Message, error) {
	summaries, err := m.client.GetMessages(ctx, addr.LocalPart, addr.Domain)
	if err != nil {
		return nil, err
	}

	messages := make([]mail.Message, len(summaries))
	var wg sync.WaitGroup
	for i, summary := range summaries {
		wg.Add(1)
		go func(i int, summary provider.Body) {
			defer wg.Done()

			body := summary
			if id := summary.String("id"); id != "" {
				detail, err := m.client.ReadMessage(ctx, addr.LocalPart, addr.Domain, id)
				if err != nil {
					slog.Debug("1secmail detail fetch failed, using summary",
						"id", id,
						"error", err,
					)
				} else {
					body = overlay(summary, detail)
				}
			}
			messages[i] = *m.toMessage(addr, body)
		}(i, summary)
	}
	wg.Wait()

	return messages, nil
}

// Detail fetches one full message.
func (m *Mailbox) Detail(ctx context.Context, addr mail.Address, providerID string) (*mail.Message, error) {
	body, err := m.client.ReadMessage(ctx, addr.LocalPart, addr.Domain, providerID)
	if err != nil {
		return nil, err
	}
	return m.toMessage(addr, body), nil
}

func (m *Mailbox) toMessage(addr mail.Address, body provider.Body) *mail.Message {
	msg := m.variant.Normalize(body)
	if msg.To == "" {
		msg.To = addr.Address
	}
	return msg
}

// overlay returns base with every non-empty value of top applied over it.
func overlay(base, top provider.Body) provider.Body {
	out := make(provider.Body, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}
