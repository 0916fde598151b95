package onesecmail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailhook/internal/provider"
)

// DefaultBaseURL is the public 1secmail API endpoint.
const DefaultBaseURL = "https://www.1secmail.com/api/v1/"

const serviceName = "1secmail"

// Client talks to the 1secmail REST API.
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
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// GenRandomMailbox asks 1secmail to issue count random addresses.
func (c *Client) GenRandomMailbox(ctx context.Context, count int) ([]string, error) {
	var out []string
	err := c.get(ctx, url.Values{
		"action": {"genRandomMailbox"},
		"count":  {strconv.Itoa(count)},
	}, &out)
	return out, err
}

// GetMessages lists message summaries for login@domain.
func (c *Client) GetMessages(ctx context.Context, login, domain string) ([]provider.Body, error) {
	var out []provider.Body
	err := c.get(ctx, url.Values{
		"action": {"getMessages"},
		"login":  {login},
		"domain": {domain},
	}, &out)
	return out, err
}

// ReadMessage fetches one full message by id.
func (c *Client) ReadMessage(ctx context.Context, login, domain, id string) (provider.Body, error) {
	var out provider.Body
	err := c.get(ctx, url.Values{
		"action": {"readMessage"},
		"login":  {login},
		"domain": {domain},
		"id":     {id},
	}, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, query url.Values, out any) error {
	u := c.baseURL
	if strings.Contains(u, "?") {
		u += "&" + query.Encode()
	} else {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return provider.FetchJSON(c.httpClient, serviceName, req, out)
}
