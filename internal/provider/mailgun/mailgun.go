// Package mailgun implements the push-webhook provider: Mailgun inbound
// routes that POST each received message to the relay.
package mailgun

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/parser"
	"github.com/shineum/mailhook/internal/provider"
)

// SignatureHeader marks a request as coming from Mailgun.
const SignatureHeader = "X-Mailgun-Signature"

const userAgentMarker = "mailgun"

// Variant recognises, verifies and normalizes Mailgun webhooks.
type Variant struct {
	signingKey string
	now        func() time.Time
}

// New creates a Variant. An empty signingKey disables verification.
func New(signingKey string) *Variant {
	return &Variant{signingKey: signingKey, now: time.Now}
}

// Kind returns mail.KindMailgun.
func (v *Variant) Kind() mail.Kind {
	return mail.KindMailgun
}

// Matches reports a Mailgun signature header or a Mailgun user agent.
func (v *Variant) Matches(h http.Header) bool {
	return h.Get(SignatureHeader) != "" || provider.HeaderContains(h, "User-Agent", userAgentMarker)
}

// Enabled reports whether a signing key is configured.
func (v *Variant) Enabled() bool {
	return v.signingKey != ""
}

// Verify checks the signature/timestamp/token triple. The triple is read
// from request headers first, then from top-level body fields, then from a
// nested "signature" object.
func (v *Variant) Verify(h http.Header, body provider.Body) error {
	signature, timestamp, token := signatureTriple(h, body)
	if !VerifySignature(signature, timestamp, token, v.signingKey) {
		return &provider.SignatureError{Provider: "Mailgun"}
	}
	return nil
}

// Normalize maps a Mailgun inbound payload to a canonical message.
func (v *Variant) Normalize(body provider.Body) *mail.Message {
	now := v.now()
	msg := mail.NewMessage(mail.KindMailgun, now)

	msg.From = body.String("sender", "From")
	msg.To = body.String("recipient", "To")
	msg.Subject = body.String("subject", "Subject")
	msg.BodyText = body.String("body-plain")
	msg.BodyHTML = body.String("body-html", "stripped-html")
	msg.Attachments = body.Attachments("attachments")
	msg.Headers = body.Headers("message-headers")
	msg.ProviderID = body.String("Message-Id", "message-id")
	msg.Timestamp = body.Time(now, "timestamp")

	if raw := body.String("body-mime"); raw != "" {
		fillFromMIME(msg, raw)
	}

	return msg
}

// fillFromMIME completes fields the form fields left empty using the raw
// MIME message Mailgun sends to routes ending in "mime".
func fillFromMIME(msg *mail.Message, raw string) {
	parsed, err := parser.Parse([]byte(raw))
	if err != nil {
		slog.Warn("failed to parse mailgun body-mime", "error", err)
		return
	}

	if msg.From == "" {
		msg.From = parsed.From
	}
	if msg.To == "" {
		msg.To = parsed.To
	}
	if msg.Subject == "" {
		msg.Subject = parsed.Subject
	}
	if msg.BodyText == "" {
		msg.BodyText = parsed.BodyText
	}
	if msg.BodyHTML == "" {
		msg.BodyHTML = parsed.BodyHTML
	}
	if len(msg.Attachments) == 0 {
		msg.Attachments = parsed.Attachments
	}
	if msg.ProviderID == "" {
		msg.ProviderID = parsed.ProviderID
	}
}

func signatureTriple(h http.Header, body provider.Body) (signature, timestamp, token string) {
	signature = h.Get("Signature")
	if signature == "" {
		signature = h.Get(SignatureHeader)
	}
	timestamp = h.Get("Timestamp")
	token = h.Get("Token")
	if signature != "" && timestamp != "" && token != "" {
		return signature, timestamp, token
	}

	if nested, ok := body["signature"].(map[string]any); ok {
		sig := provider.Body(nested)
		return sig.String("signature"), sig.String("timestamp"), sig.String("token")
	}

	return body.String("signature"), body.String("timestamp"), body.String("token")
}
