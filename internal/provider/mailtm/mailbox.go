package mailtm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
)

// DefaultPassword is the account password used when none is configured.
const DefaultPassword = "temppassword123"

// knownDomains are mail.tm domains recognised even on untagged addresses.
var knownDomains = []string{"mail.tm", "firemail.cc", "chickenkiller.com"}

// Mailbox polls and issues mail.tm inboxes for the client.
type Mailbox struct {
	client   *Client
	tokens   *tokenCache
	password string
	variant  *Variant
}

// NewMailbox creates a Mailbox. An empty password selects DefaultPassword.
func NewMailbox(client *Client, password string) *Mailbox {
	if password == "" {
		password = DefaultPassword
	}
	return &Mailbox{
		client:   client,
		tokens:   newTokenCache(client, password),
		password: password,
		variant:  New(),
	}
}

// Kind returns mail.KindMailTm.
func (m *Mailbox) Kind() mail.Kind {
	return mail.KindMailTm
}

// Owns reports whether addr lives on mail.tm, by tag or by domain.
func (m *Mailbox) Owns(addr mail.Address) bool {
	return addr.Provider == mail.KindMailTm || slices.Contains(knownDomains, strings.ToLower(addr.Domain))
}

// Issue builds a random address on the first advertised domain and then
// tries to register it. Registration failure is logged, not returned: the
// address is still usable as a webhook target.
func (m *Mailbox) Issue(ctx context.Context) (string, error) {
	domains, err := m.client.Domains(ctx)
	if err != nil {
		return "", err
	}
	if len(domains) == 0 {
		return "", &mail.UpstreamError{Service: serviceName, Message: "no domains available"}
	}

	address := fmt.Sprintf("%s@%s", mail.RandomLocalPart(), domains[0])
	if err := m.client.CreateAccount(ctx, address, m.password); err != nil {
		slog.Warn("mail.tm account registration failed",
			"address", address,
			"error", err,
		)
	}
	return address, nil
}

// List returns every message in the account's inbox.
func (m *Mailbox) List(ctx context.Context, addr mail.Address) ([]mail.Message, error) {
	var items []provider.Body
	err := m.withToken(ctx, addr.Address, func(token string) error {
		var err error
		items, err = m.client.Messages(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}

	messages := make([]mail.Message, 0, len(items))
	for _, item := range items {
		messages = append(messages, *m.toMessage(addr, item))
	}
	return messages, nil
}

// Detail fetches one full message.
func (m *Mailbox) Detail(ctx context.Context, addr mail.Address, providerID string) (*mail.Message, error) {
	var body provider.Body
	err := m.withToken(ctx, addr.Address, func(token string) error {
		var err error
		body, err = m.client.Message(ctx, token, providerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.toMessage(addr, body), nil
}

// withToken runs fn with a bearer token, refreshing once on 401.
func (m *Mailbox) withToken(ctx context.Context, address string, fn func(token string) error) error {
	token, err := m.tokens.Token(ctx, address)
	if err != nil {
		return err
	}

	err = fn(token)
	var upErr *mail.UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusUnauthorized {
		return err
	}

	slog.Debug("mail.tm token rejected, refreshing", "address", address)
	token, err = m.tokens.ForceRefresh(ctx, address)
	if err != nil {
		return err
	}
	return fn(token)
}

func (m *Mailbox) toMessage(addr mail.Address, body provider.Body) *mail.Message {
	msg := m.variant.Normalize(body)
	if msg.To == "" {
		msg.To = addr.Address
	}
	return msg
}
