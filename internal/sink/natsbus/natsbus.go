// Package natsbus implements a Sink that publishes every inbound message to
// a NATS subject.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/sink"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "mailhook.inbound"

// Config holds NATS connection settings.
type Config struct {
	URL     string
	Subject string
	Name    string
}

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Sink publishes {address, mail_data} as JSON.
type Sink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// Connect dials NATS and returns a Sink that owns the connection.
func Connect(cfg Config) (*Sink, error) {
	name := cfg.Name
	if name == "" {
		name = "mailhook"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s := New(conn, cfg.Subject)
	s.conn = conn
	return s, nil
}

// New creates a Sink publishing through pub.
func New(pub Publisher, subject string) *Sink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Sink{pub: pub, subject: subject}
}

// Notify publishes one message. Address and provider also travel as
// headers so consumers can filter without decoding.
func (s *Sink) Notify(ctx context.Context, addressKey string, msg *mail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(sink.Payload{Address: addressKey, MailData: msg})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	natsMsg := &nats.Msg{
		Subject: s.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	natsMsg.Header.Set("Mailhook-Address", addressKey)
	natsMsg.Header.Set("Mailhook-Provider", string(msg.Provider))

	if err := s.pub.PublishMsg(natsMsg); err != nil {
		return &mail.TransportError{Service: "nats", Err: err}
	}
	return nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "nats"
}

// Close drains the connection when the Sink owns one.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
