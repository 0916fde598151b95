package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailhook/internal/ingest"
	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
	"github.com/shineum/mailhook/internal/provider/mailgun"
	"github.com/shineum/mailhook/internal/provider/mailtm"
	"github.com/shineum/mailhook/internal/provider/onesecmail"
	"github.com/shineum/mailhook/internal/ratelimit"
	"github.com/shineum/mailhook/internal/requestid"
)

type captureSink struct {
	mu   sync.Mutex
	keys []string
	msgs []*mail.Message
	err  error
}

func (s *captureSink) Notify(_ context.Context, key string, msg *mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *captureSink) Name() string { return "capture" }

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (errLimiter) Close() error { return nil }

func newTestRouter(t *testing.T, signingKey string, s *captureSink, limiter ratelimit.RateLimiter) http.Handler {
	t.Helper()
	registry := provider.NewRegistry(mailgun.New(signingKey), onesecmail.New(), mailtm.New())
	return NewRouter(Options{
		Pipeline:    ingest.New(registry, s),
		Limiter:     limiter,
		Domains:     []string{"1secmail.com", "esiix.com"},
		TTL:         time.Hour,
		CORSOrigins: []string{"https://app.example.com"},
	})
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestWebhook_JSONSignedMailgun(t *testing.T) {
	t.Parallel()

	s := &captureSink{}
	router := newTestRouter(t, "key-1", s, nil)

	const timestamp, token = "1700000000", "abc"
	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"sender":"a@x.com","recipient":"bob@temp.io","subject":"Hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(mailgun.SignatureHeader, mailgun.Sign(timestamp, token, "key-1"))
	req.Header.Set("Timestamp", timestamp)
	req.Header.Set("Token", token)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"status":   "ok",
		"message":  "Mail processed for bob",
		"provider": "mailgun",
	}, decodeResponse(t, rec))
	assert.Equal(t, []string{"bob"}, s.keys)
	assert.NotEmpty(t, rec.Header().Get(requestid.Header))
}

func TestWebhook_BadSignature(t *testing.T) {
	t.Parallel()

	s := &captureSink{}
	router := newTestRouter(t, "key-1", s, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook",
		strings.NewReader(`{"recipient":"bob@temp.io"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(mailgun.SignatureHeader, "deadbeef")
	req.Header.Set("Timestamp", "1")
	req.Header.Set("Token", "t")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid Mailgun signature", decodeResponse(t, rec)["error"])
	assert.Empty(t, s.keys)
}

func TestWebhook_URLEncodedForm(t *testing.T) {
	t.Parallel()

	s := &captureSink{}
	router := newTestRouter(t, "", s, nil)

	form := url.Values{
		"sender":     {"a@x.com"},
		"recipient":  {"carol@temp.io"},
		"subject":    {"Form"},
		"body-plain": {"hello"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.msgs, 1)
	assert.Equal(t, "carol", s.keys[0])
	assert.Equal(t, "hello", s.msgs[0].BodyText)
	assert.Equal(t, mail.KindMailgun, s.msgs[0].Provider)
}

func TestWebhook_MultipartFilesBecomeAttachments(t *testing.T) {
	t.Parallel()

	s := &captureSink{}
	router := newTestRouter(t, "", s, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("recipient", "dave@temp.io"))
	require.NoError(t, mw.WriteField("subject", "With file"))
	fw, err := mw.CreateFormFile("attachment-1", "report.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/webhook", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.msgs, 1)
	require.Len(t, s.msgs[0].Attachments, 1)
	att := s.msgs[0].Attachments[0]
	assert.Equal(t, "report.pdf", att.Filename)
	assert.Equal(t, int64(8), att.Size)
	assert.Equal(t, "application/octet-stream", att.ContentType)
}

func TestWebhook_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		sinkErr     error
		wantStatus  int
		wantError   string
		wantCalls   int
	}{
		{
			name:       "get is not allowed",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "Method not allowed",
		},
		{
			name:        "malformed json",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"recipient":`,
			wantStatus:  http.StatusBadRequest,
			wantError:   "Invalid request body",
		},
		{
			name:        "recipient without at sign",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"recipient":"noatsign"}`,
			wantStatus:  http.StatusBadRequest,
			wantError:   "Could not extract address from webhook",
		},
		{
			name:       "empty body without content type",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
			wantError:  "Could not extract address from webhook",
		},
		{
			name:        "sink failure",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"recipient":"bob@temp.io"}`,
			sinkErr:     errors.New("dispatch down"),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Failed to process mail",
			wantCalls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := &captureSink{err: tt.sinkErr}
			router := newTestRouter(t, "", s, nil)

			req := httptest.NewRequest(tt.method, "/webhook", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeResponse(t, rec)["error"])
			assert.Len(t, s.keys, tt.wantCalls)
		})
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewWithClient(client, 2, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })

	s := &captureSink{}
	router := newTestRouter(t, "", s, limiter)

	statuses := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"recipient":"bob@temp.io"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)

		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "Rate limit exceeded", decodeResponse(t, rec)["error"])
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
	assert.Len(t, s.keys, 2)
}

func TestWebhook_RateLimiterFailureAdmits(t *testing.T) {
	t.Parallel()

	s := &captureSink{}
	router := newTestRouter(t, "", s, errLimiter{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"recipient":"bob@temp.io"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.keys, 1)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, "", &captureSink{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, "ok", body["status"])
	ts, ok := body["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)
}

func TestCreate(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, "", &captureSink{}, nil)

	tests := []struct {
		name    string
		body    string
		wantTTL time.Duration
	}{
		{name: "default ttl", body: "", wantTTL: time.Hour},
		{name: "explicit ttl", body: `{"ttl":600}`, wantTTL: 10 * time.Minute},
		{name: "longest ttl", body: `{"ttl":604800}`, wantTTL: 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/create", strings.NewReader(tt.body))
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			var resp createResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			assert.True(t, strings.HasSuffix(resp.Address, "@1secmail.com"), "address %q", resp.Address)
			assert.NotEmpty(t, resp.ID)
			assert.NotEmpty(t, resp.Token)
			assert.Equal(t, tt.wantTTL, resp.ExpiresAt.Sub(resp.CreatedAt))
		})
	}
}

func TestCreate_Errors(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, "", &captureSink{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/create", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/create", strings.NewReader("{bad")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, body := range []string{`{"ttl":604801}`, `{"ttl":10000000000}`} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/create", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "ttl must be at most 604800 seconds", body)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, "", &captureSink{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/create", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginAllowed(t *testing.T) {
	t.Parallel()

	assert.True(t, originAllowed([]string{"*"}, "https://any.example"))
	assert.True(t, originAllowed([]string{"*.example.com"}, "https://app.example.com"))
	assert.False(t, originAllowed([]string{"*.example.com"}, "https://example.org"))
	assert.False(t, originAllowed(nil, "https://app.example.com"))
}

func TestRecover(t *testing.T) {
	t.Parallel()

	h := requestid.Middleware(Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeResponse(t, rec)["error"])
}

func TestRequestIDPropagated(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, "", &captureSink{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestid.Header, "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(requestid.Header))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, "", &captureSink{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(r, true))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(r, true))
	assert.Equal(t, "192.0.2.1", clientIP(r, false))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r, true))
	assert.Equal(t, "192.0.2.1", clientIP(r, false))
}

func TestWebhook_RateLimitIgnoresForwardedForByDefault(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewWithClient(client, 2, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })

	s := &captureSink{}
	router := newTestRouter(t, "", s, limiter)

	statuses := make([]int, 0, 3)
	for i := range 3 {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"recipient":"bob@temp.io"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestWebhook_RateLimitTrustsProxyWhenConfigured(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewWithClient(client, 1, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })

	registry := provider.NewRegistry(mailgun.New(""), onesecmail.New(), mailtm.New())
	router := NewRouter(Options{
		Pipeline:          ingest.New(registry, &captureSink{}),
		Limiter:           limiter,
		Domains:           []string{"1secmail.com"},
		TTL:               time.Hour,
		TrustProxyHeaders: true,
	})

	for i := range 3 {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"recipient":"bob@temp.io"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "caller %d", i+1)
	}
}
