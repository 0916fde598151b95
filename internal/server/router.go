// Package server exposes the relay over HTTP.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/mailhook/internal/ingest"
	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/ratelimit"
	"github.com/shineum/mailhook/internal/requestid"
)

// maxBodyBytes caps webhook and API request bodies at 25 MB.
const maxBodyBytes = 26214400

// Options wires the router to its collaborators.
type Options struct {
	Pipeline *ingest.Pipeline
	// Limiter guards the webhook routes. Nil admits every request.
	Limiter ratelimit.RateLimiter
	// Domains backs /v1/create; the first entry is used.
	Domains     []string
	TTL         time.Duration
	CORSOrigins []string
	// TrustProxyHeaders keys the rate limiter on X-Forwarded-For and
	// X-Real-IP instead of the peer address.
	TrustProxyHeaders bool
}

// Handler serves the webhook, health and address API routes.
type Handler struct {
	pipeline *ingest.Pipeline
	domains  []string
	ttl      time.Duration
	now      func() time.Time
}

// NewRouter constructs the HTTP handler with every route and middleware
// registered.
func NewRouter(opts Options) http.Handler {
	h := &Handler{
		pipeline: opts.Pipeline,
		domains:  opts.Domains,
		ttl:      opts.TTL,
		now:      time.Now,
	}
	return h.routes(opts)
}

func (h *Handler) routes(opts Options) http.Handler {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	cors := CORS(opts.CORSOrigins)

	mux := http.NewServeMux()

	// Inbound webhooks
	webhook := RateLimit(limiter, opts.TrustProxyHeaders)(http.HandlerFunc(h.Webhook))
	mux.Handle("/webhook", webhook)
	mux.Handle("/api/webhook", webhook)

	// Browser-facing API
	mux.Handle("/health", cors(http.HandlerFunc(h.Health)))
	mux.Handle("/v1/create", cors(http.HandlerFunc(h.Create)))

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return requestid.Middleware(AccessLog(Recover(mux)))
}

// Webhook decodes the request into an envelope and runs the ingest pipeline.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	env := ingest.Envelope{Method: r.Method, Header: r.Header}
	if r.Method == http.MethodPost {
		body, err := decodeBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		env.Body = body
	}

	res := h.pipeline.Handle(r.Context(), env)
	writeJSON(w, res.Status, res.Body)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: h.now().UTC()})
}

// maxAddressTTL bounds the ttl a caller may request.
const maxAddressTTL = 7 * 24 * time.Hour

type createRequest struct {
	// TTL is in seconds.
	TTL int64 `json:"ttl"`
}

type createResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

// Create synthesizes a disposable address on the first configured domain.
// Nothing is stored; the caller keeps the returned record.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if len(h.domains) == 0 {
		writeError(w, http.StatusInternalServerError, "No mailbox domain configured")
		return
	}

	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TTL > int64(maxAddressTTL/time.Second) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("ttl must be at most %d seconds", int64(maxAddressTTL/time.Second)))
		return
	}
	ttl := h.ttl
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}

	addr, err := mail.NewAddress(mail.RandomLocalPart()+"@"+h.domains[0], mail.KindFallback, h.now(), ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, createResponse{
		ID:        mail.RandomToken(),
		Address:   addr.Address,
		CreatedAt: addr.CreatedAt,
		ExpiresAt: addr.ExpiresAt,
		Token:     addr.Token,
	})
}
