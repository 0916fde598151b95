package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
)

const (
	graphScope   = "https://graph.microsoft.com/.default"
	tokenService = "graph-token"
)

// tokenExpiryBuffer is taken off the reported lifetime so a token is never
// sent in its last minutes.
const tokenExpiryBuffer = 5 * time.Minute

// tokenCache holds the sink's client-credentials token.
type tokenCache struct {
	endpoint   string
	form       url.Values
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	current string
	expires time.Time
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		endpoint: tokenURL,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token while it is fresh.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.current != "" && tc.now().Before(tc.expires) {
		return tc.current, nil
	}
	return tc.acquire(ctx)
}

// ForceRefresh drops the cached token. Notify calls it after a 401.
func (tc *tokenCache) ForceRefresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.current, tc.expires = "", time.Time{}
	return tc.acquire(ctx)
}

// acquire posts the client-credentials grant. tc.mu must be held.
func (tc *tokenCache) acquire(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.endpoint, strings.NewReader(tc.form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp tokenResponse
	if err := provider.FetchJSON(tc.httpClient, tokenService, req, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &mail.UpstreamError{Service: tokenService, StatusCode: http.StatusOK, Message: "response missing access_token"}
	}

	tc.current = resp.AccessToken
	tc.expires = tc.now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenExpiryBuffer)
	return tc.current, nil
}
