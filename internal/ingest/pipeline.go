// Package ingest turns an inbound webhook or SMTP message into exactly one
// downstream notify call.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/metrics"
	"github.com/shineum/mailhook/internal/provider"
	"github.com/shineum/mailhook/internal/requestid"
	"github.com/shineum/mailhook/internal/sink"
)

// Envelope is a decoded webhook request.
type Envelope struct {
	Method string
	Header http.Header
	Body   provider.Body
}

// Result is the HTTP outcome of handling an Envelope. Body is JSON-encodable.
type Result struct {
	Status int
	Body   any
}

// ErrorBody is the JSON body of every non-200 Result.
type ErrorBody struct {
	Error string `json:"error"`
}

// SuccessBody is the JSON body of a 200 Result.
type SuccessBody struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Provider mail.Kind `json:"provider"`
}

// Pipeline relays normalized messages to a single sink. It keeps no state
// between requests.
type Pipeline struct {
	registry *provider.Registry
	sink     sink.Sink
}

// New creates a Pipeline.
func New(registry *provider.Registry, s sink.Sink) *Pipeline {
	return &Pipeline{registry: registry, sink: s}
}

// Handle runs detect, verify, normalize, extract and notify in that order
// and maps the first failure to its HTTP outcome. Notify is called at most
// once and never before the address key is known.
func (p *Pipeline) Handle(ctx context.Context, env Envelope) Result {
	logger := slog.With("request_id", requestid.FromContext(ctx))

	if env.Method != http.MethodPost {
		return p.record("", failure(fmt.Errorf("%w: %q", mail.ErrMethodNotAllowed, env.Method)))
	}
	if env.Body == nil {
		env.Body = provider.Body{}
	}

	variant := p.registry.Detect(env.Header)
	kind := variant.Kind()
	logger = logger.With("provider", kind)

	if v, ok := variant.(provider.Verifier); ok && v.Enabled() {
		if err := v.Verify(env.Header, env.Body); err != nil {
			logger.Warn("webhook signature rejected", "error", err)
			return p.record(kind, failure(err))
		}
	}

	msg := variant.Normalize(env.Body)

	key, err := mail.LocalPart(msg.To)
	if err != nil {
		logger.Warn("webhook without usable recipient", "to", msg.To, "error", err)
		return p.record(kind, failure(err))
	}
	logger = logger.With("address", key)

	if err := p.notify(ctx, key, msg); err != nil {
		logger.Error("downstream notify failed", "sink", p.sink.Name(), "error", err)
		return p.record(kind, errorResult(http.StatusInternalServerError, "Failed to process mail"))
	}

	logger.Info("mail processed", "sink", p.sink.Name(), "subject", msg.Subject)
	return p.record(kind, Result{
		Status: http.StatusOK,
		Body: SuccessBody{
			Status:   "ok",
			Message:  "Mail processed for " + key,
			Provider: kind,
		},
	})
}

// Relay forwards an already-parsed message, as SMTP ingest does. The
// address key comes from msg.To.
func (p *Pipeline) Relay(ctx context.Context, msg *mail.Message) error {
	key, err := mail.LocalPart(msg.To)
	if err != nil {
		return err
	}
	if err := p.notify(ctx, key, msg); err != nil {
		return fmt.Errorf("relay for %s: %w", key, err)
	}
	slog.Info("mail relayed",
		"request_id", requestid.FromContext(ctx),
		"provider", msg.Provider,
		"address", key,
		"sink", p.sink.Name(),
	)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, key string, msg *mail.Message) error {
	start := time.Now()
	err := p.sink.Notify(ctx, key, msg)
	metrics.NotifyDuration.WithLabelValues(p.sink.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.NotifyErrors.WithLabelValues(p.sink.Name()).Inc()
	}
	return err
}

func (p *Pipeline) record(kind mail.Kind, r Result) Result {
	metrics.WebhooksTotal.WithLabelValues(string(kind), strconv.Itoa(r.Status)).Inc()
	return r
}

func errorResult(status int, message string) Result {
	return Result{Status: status, Body: ErrorBody{Error: message}}
}

// failure maps a rejected request to its HTTP outcome.
func failure(err error) Result {
	var sigErr *provider.SignatureError
	switch {
	case errors.Is(err, mail.ErrMethodNotAllowed):
		return errorResult(http.StatusMethodNotAllowed, "Method not allowed")
	case errors.As(err, &sigErr):
		return errorResult(http.StatusUnauthorized, fmt.Sprintf("Invalid %s signature", sigErr.Provider))
	case errors.Is(err, mail.ErrAuthenticationFailure):
		return errorResult(http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, mail.ErrInvalidInput):
		return errorResult(http.StatusBadRequest, "Could not extract address from webhook")
	default:
		return errorResult(http.StatusInternalServerError, "Failed to process mail")
	}
}
