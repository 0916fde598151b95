// Package mailtm implements the mail.tm poll provider: its webhook payload
// shape and its Hydra REST API.
package mailtm

import (
	"net/http"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
)

const marker = "mailtm"

// Variant recognises and normalizes mail.tm payloads.
type Variant struct {
	now func() time.Time
}

// New creates a Variant.
func New() *Variant {
	return &Variant{now: time.Now}
}

// Kind returns mail.KindMailTm.
func (v *Variant) Kind() mail.Kind {
	return mail.KindMailTm
}

// Matches reports the mail.tm marker in the content type or user agent.
func (v *Variant) Matches(h http.Header) bool {
	return provider.HeaderContains(h, "Content-Type", marker) ||
		provider.HeaderContains(h, "User-Agent", marker)
}

// Normalize maps a mail.tm message. Senders arrive as {address, name}
// objects and recipients as lists of them; html is a list of parts.
func (v *Variant) Normalize(body provider.Body) *mail.Message {
	now := v.now()
	msg := mail.NewMessage(mail.KindMailTm, now)

	msg.From = body.Address("from", "From")
	msg.To = body.Address("to", "To")
	msg.Subject = body.String("subject", "Subject")
	msg.BodyText = body.String("text", "intro")
	msg.BodyHTML = htmlBody(body["html"])
	msg.Attachments = body.Attachments("attachments")
	msg.ProviderID = body.String("id", "msgid")
	msg.Timestamp = body.Time(now, "date", "createdAt")

	return msg
}

func htmlBody(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var out string
		for _, part := range t {
			if s, ok := part.(string); ok {
				out += s
			}
		}
		return out
	}
	return ""
}
