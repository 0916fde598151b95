package mailtm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
)

// DefaultBaseURL is the public mail.tm API endpoint.
const DefaultBaseURL = "https://api.mail.tm"

const serviceName = "mail.tm"

// Client talks to the mail.tm REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL and a
// nil httpClient gets a 5 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type credentials struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

type tokenResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Domains lists the active domains accounts can be created on, in the order
// the service returns them.
func (c *Client) Domains(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/domains", "", nil, &raw); err != nil {
		return nil, err
	}

	items, err := members(raw)
	if err != nil {
		return nil, err
	}

	domains := make([]string, 0, len(items))
	for _, item := range items {
		if active, ok := item["isActive"].(bool); ok && !active {
			continue
		}
		if d := item.String("domain"); d != "" {
			domains = append(domains, d)
		}
	}
	return domains, nil
}

// CreateAccount registers address with password.
func (c *Client) CreateAccount(ctx context.Context, address, password string) error {
	return c.do(ctx, http.MethodPost, "/accounts", "", credentials{Address: address, Password: password}, nil)
}

// Token exchanges account credentials for a bearer token.
func (c *Client) Token(ctx context.Context, address, password string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token", "", credentials{Address: address, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &mail.UpstreamError{Service: serviceName, StatusCode: http.StatusOK, Message: "token response missing token"}
	}
	return resp.Token, nil
}

// Messages lists message summaries for the account the token belongs to.
func (c *Client) Messages(ctx context.Context, token string) ([]provider.Body, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/messages", token, nil, &raw); err != nil {
		return nil, err
	}
	return members(raw)
}

// Message fetches one full message by id.
func (c *Client) Message(ctx context.Context, token, id string) (provider.Body, error) {
	var out provider.Body
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), token, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return provider.FetchJSON(c.httpClient, serviceName, req, out)
}

// members unwraps a Hydra collection. Plain JSON arrays are accepted too.
func members(raw json.RawMessage) ([]provider.Body, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []provider.Body{}, nil
	}

	if raw[0] == '[' {
		var list []provider.Body
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%s: invalid collection: %w", serviceName, err)
		}
		return list, nil
	}

	var collection struct {
		Members []provider.Body `json:"hydra:member"`
	}
	if err := json.Unmarshal(raw, &collection); err != nil {
		return nil, fmt.Errorf("%s: invalid collection: %w", serviceName, err)
	}
	if collection.Members == nil {
		return []provider.Body{}, nil
	}
	return collection.Members, nil
}
