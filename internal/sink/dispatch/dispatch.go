// Package dispatch implements a Sink that triggers a GitHub
// repository_dispatch event for every inbound message.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
	"github.com/shineum/mailhook/internal/sink"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"

	// EventInboundMail is sent for every relayed message.
	EventInboundMail = "inbound_mail"

	// EventGenerateAddress announces a freshly generated address.
	EventGenerateAddress = "generate_address"
)

// Config holds the settings for a Dispatcher.
type Config struct {
	APIURL string
	Repo   string
	Token  string
}

// Dispatcher posts repository_dispatch events.
type Dispatcher struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// New creates a Dispatcher. A nil httpClient gets a 10 second timeout.
func New(cfg Config, httpClient *http.Client) (*Dispatcher, error) {
	if cfg.Repo == "" || !strings.Contains(cfg.Repo, "/") {
		return nil, fmt.Errorf("dispatch repo must be owner/name, got %q", cfg.Repo)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("dispatch token is required")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Dispatcher{
		endpoint:   fmt.Sprintf("%s/repos/%s/dispatches", strings.TrimRight(apiURL, "/"), cfg.Repo),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

type dispatchRequest struct {
	EventType     string `json:"event_type"`
	ClientPayload any    `json:"client_payload"`
}

// Notify sends an inbound_mail event carrying {address, mail_data}.
func (d *Dispatcher) Notify(ctx context.Context, addressKey string, msg *mail.Message) error {
	err := d.Dispatch(ctx, EventInboundMail, sink.Payload{Address: addressKey, MailData: msg})
	if err != nil {
		return err
	}
	slog.Debug("dispatched inbound mail", "address", addressKey, "provider", msg.Provider)
	return nil
}

// Dispatch sends one event with an arbitrary client payload.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload any) error {
	body, err := json.Marshal(dispatchRequest{EventType: eventType, ClientPayload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+d.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")

	return provider.FetchJSON(d.httpClient, "github", req, nil)
}

// Name returns the sink name.
func (d *Dispatcher) Name() string {
	return "dispatch"
}
