package mailtm

import (
	"context"
	"sync"
	"time"
)

// tokenLifetime is how long a bearer token is reused before a new one is
// requested. mail.tm does not report an expiry.
const tokenLifetime = 10 * time.Minute

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// tokenCache keeps one bearer token per account address.
type tokenCache struct {
	mu       sync.Mutex
	tokens   map[string]cachedToken
	client   *Client
	password string
	now      func() time.Time
}

func newTokenCache(client *Client, password string) *tokenCache {
	return &tokenCache{
		tokens:   make(map[string]cachedToken),
		client:   client,
		password: password,
		now:      time.Now,
	}
}

// Token returns a cached token for address, fetching one if necessary.
func (tc *tokenCache) Token(ctx context.Context, address string) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if t, ok := tc.tokens[address]; ok && tc.now().Before(t.expiresAt) {
		return t.token, nil
	}
	return tc.refresh(ctx, address)
}

// ForceRefresh discards the cached token for address and fetches a new one.
// Used when the API rejects a token with 401.
func (tc *tokenCache) ForceRefresh(ctx context.Context, address string) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	delete(tc.tokens, address)
	return tc.refresh(ctx, address)
}

// refresh fetches a token. The caller must hold tc.mu.
func (tc *tokenCache) refresh(ctx context.Context, address string) (string, error) {
	token, err := tc.client.Token(ctx, address, tc.password)
	if err != nil {
		return "", err
	}
	tc.tokens[address] = cachedToken{token: token, expiresAt: tc.now().Add(tokenLifetime)}
	return token, nil
}
