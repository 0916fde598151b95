// Package onesecmail implements the 1secmail poll provider: its webhook
// payload shape and its public REST API.
package onesecmail

import (
	"net/http"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
)

const marker = "1secmail"

// Variant recognises and normalizes 1secmail payloads.
type Variant struct {
	now func() time.Time
}

// New creates a Variant.
func New() *Variant {
	return &Variant{now: time.Now}
}

// Kind returns mail.KindOneSecMail.
func (v *Variant) Kind() mail.Kind {
	return mail.KindOneSecMail
}

// Matches reports the 1secmail marker in the content type or user agent.
func (v *Variant) Matches(h http.Header) bool {
	return provider.HeaderContains(h, "Content-Type", marker) ||
		provider.HeaderContains(h, "User-Agent", marker)
}

// Normalize maps a 1secmail message (webhook or readMessage response).
func (v *Variant) Normalize(body provider.Body) *mail.Message {
	now := v.now()
	msg := mail.NewMessage(mail.KindOneSecMail, now)

	msg.From = body.String("from", "From")
	msg.To = body.String("to", "To")
	msg.Subject = body.String("subject", "Subject")
	msg.BodyText = body.String("text", "textBody")
	msg.BodyHTML = body.String("html", "htmlBody")
	msg.Attachments = body.Attachments("attachments")
	msg.ProviderID = body.String("id")
	msg.Timestamp = body.Time(now, "date")

	return msg
}
