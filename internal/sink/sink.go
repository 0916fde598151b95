// Package sink defines the downstream collaborators a normalized message is
// handed to once it has been accepted.
package sink

import (
	"context"

	"github.com/shineum/mailhook/internal/mail"
)

// Sink is implemented by every downstream target. Notify is a single
// attempt; callers own any redelivery.
type Sink interface {
	// Notify hands msg over for the mailbox identified by addressKey.
	Notify(ctx context.Context, addressKey string, msg *mail.Message) error

	// Name returns the sink name used in logs and metrics.
	Name() string
}

// Payload is the {address, mail_data} envelope structured sinks emit. Its
// shape is fixed by the existing downstream consumer.
type Payload struct {
	Address  string        `json:"address"`
	MailData *mail.Message `json:"mail_data"`
}
