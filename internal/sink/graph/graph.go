// Package graph implements a Sink that forwards inbound messages to a fixed
// mailbox through the Microsoft Graph sendMail API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/mailhook/internal/mail"
)

// Config holds the settings for a Forwarder.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
	ForwardTo    string
}

// Forwarder relays each message from the configured sender mailbox.
type Forwarder struct {
	forwardTo  string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a Forwarder against the public Graph endpoints.
func New(cfg Config) *Forwarder {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Forwarder {
	return &Forwarder{
		forwardTo:  cfg.ForwardTo,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Notify sends msg once. A 401 refreshes the token and retries exactly
// once; every other failure is returned as-is.
func (f *Forwarder) Notify(ctx context.Context, addressKey string, msg *mail.Message) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(f.forwardTo, addressKey, msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	token, err := f.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	err = f.send(ctx, token, bodyJSON)
	var upErr *mail.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode == http.StatusUnauthorized {
		slog.Info("refreshing Graph API token after 401")
		if token, err = f.token.ForceRefresh(ctx); err != nil {
			return fmt.Errorf("token refresh failed: %w", err)
		}
		err = f.send(ctx, token, bodyJSON)
	}
	if err != nil {
		return err
	}

	slog.Debug("forwarded inbound mail via Graph", "address", addressKey)
	return nil
}

// Name returns the sink name.
func (f *Forwarder) Name() string {
	return "msgraph"
}

func (f *Forwarder) send(ctx context.Context, token string, bodyJSON []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return &mail.TransportError{Service: "msgraph", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	message := string(body)
	var graphErr graphErrorResponse
	if json.Unmarshal(body, &graphErr) == nil && graphErr.Error.Message != "" {
		message = graphErr.Error.Message
	}
	return &mail.UpstreamError{Service: "msgraph", StatusCode: resp.StatusCode, Message: message}
}
