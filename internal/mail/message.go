// Package mail defines the provider-agnostic data model shared by the webhook
// relay and the disposable-inbox client.
package mail

import (
	"time"
)

// Kind identifies the provider a message or address belongs to.
type Kind string

const (
	KindMailgun    Kind = "mailgun"
	KindOneSecMail Kind = "1secmail"
	KindMailTm     Kind = "mailtm"
	KindFallback   Kind = "fallback"
	KindSMTP       Kind = "smtp"
)

// Message is the canonical email record every provider payload is
// normalized into. Its JSON form is the mail_data shape consumed downstream.
type Message struct {
	ID          string            `json:"id,omitempty"`
	ProviderID  string            `json:"provider_id,omitempty"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	BodyText    string            `json:"body_text"`
	BodyHTML    string            `json:"body_html"`
	Attachments []Attachment      `json:"attachments"`
	Headers     map[string]string `json:"headers,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Provider    Kind              `json:"provider"`
}

// Attachment describes a file attached to a message. Content is only
// populated when the raw bytes travelled with the message (SMTP, multipart
// webhooks); provider APIs usually hand out a URL instead.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"`
	Content     []byte `json:"-"`
}

// NewMessage returns a message with every field at its documented default:
// empty strings, an empty attachment list and the capture time.
func NewMessage(kind Kind, now time.Time) *Message {
	return &Message{
		Attachments: []Attachment{},
		Timestamp:   now.UTC(),
		Provider:    kind,
	}
}

// Body returns the HTML body when present, else the plain text body.
func (m *Message) Body() string {
	if m.BodyHTML != "" {
		return m.BodyHTML
	}
	return m.BodyText
}
