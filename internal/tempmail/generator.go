// Package tempmail is the disposable-inbox client: it obtains an address,
// polls the provider that issued it and keeps the session state.
package tempmail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/sink/dispatch"
)

// defaultFallbackDomain backs local addresses when no domain is configured.
const defaultFallbackDomain = "1secmail.com"

// Issuer hands out a fresh mailbox address from an external provider.
type Issuer interface {
	Kind() mail.Kind
	Issue(ctx context.Context) (string, error)
}

// Announcer publishes a client event downstream. dispatch.Dispatcher
// satisfies it.
type Announcer interface {
	Dispatch(ctx context.Context, eventType string, payload any) error
}

// Outcome records what one generation step did. A step either produced
// Address or gave up with Reason.
type Outcome struct {
	Step    mail.Kind `json:"step"`
	Address string    `json:"address,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// OK reports whether the step produced an address.
func (o Outcome) OK() bool {
	return o.Address != ""
}

// Generator walks the issuers in order and falls back to a locally
// synthesized address.
type Generator struct {
	issuers   []Issuer
	domains   []string
	ttl       time.Duration
	announcer Announcer
	now       func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithAnnouncer sends a generate_address event after each generation.
func WithAnnouncer(a Announcer) GeneratorOption {
	return func(g *Generator) { g.announcer = a }
}

// NewGenerator creates a Generator. domains[0] backs the local fallback.
func NewGenerator(issuers []Issuer, domains []string, ttl time.Duration, opts ...GeneratorOption) *Generator {
	g := &Generator{
		issuers: issuers,
		domains: domains,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a new address and the outcome of every step attempted.
// Issuer failures never surface as errors; the local step always succeeds
// unless the fallback domain itself is unusable.
func (g *Generator) Generate(ctx context.Context) (mail.Address, []Outcome, error) {
	outcomes := make([]Outcome, 0, len(g.issuers)+1)

	for _, issuer := range g.issuers {
		outcome, addr, ok := g.try(ctx, issuer)
		outcomes = append(outcomes, outcome)
		if ok {
			g.announce(ctx, addr)
			return addr, outcomes, nil
		}
	}

	domain := defaultFallbackDomain
	if len(g.domains) > 0 && g.domains[0] != "" {
		domain = g.domains[0]
	}
	addr, err := mail.NewAddress(mail.RandomLocalPart()+"@"+domain, mail.KindFallback, g.now(), g.ttl)
	if err != nil {
		outcomes = append(outcomes, Outcome{Step: mail.KindFallback, Reason: err.Error()})
		return mail.Address{}, outcomes, fmt.Errorf("local fallback on %q: %w", domain, err)
	}
	outcomes = append(outcomes, Outcome{Step: mail.KindFallback, Address: addr.Address})

	g.announce(ctx, addr)
	return addr, outcomes, nil
}

func (g *Generator) try(ctx context.Context, issuer Issuer) (Outcome, mail.Address, bool) {
	step := issuer.Kind()

	if err := ctx.Err(); err != nil {
		return Outcome{Step: step, Reason: err.Error()}, mail.Address{}, false
	}

	raw, err := issuer.Issue(ctx)
	if err != nil {
		slog.Debug("address issuer failed", "step", step, "error", err)
		return Outcome{Step: step, Reason: err.Error()}, mail.Address{}, false
	}

	addr, err := mail.NewAddress(raw, step, g.now(), g.ttl)
	if err != nil {
		slog.Debug("address issuer returned unusable address", "step", step, "address", raw, "error", err)
		return Outcome{Step: step, Reason: err.Error()}, mail.Address{}, false
	}
	return Outcome{Step: step, Address: addr.Address}, addr, true
}

// announce is best effort: a failure is logged and otherwise ignored.
func (g *Generator) announce(ctx context.Context, addr mail.Address) {
	if g.announcer == nil {
		return
	}
	payload := map[string]any{"address_data": addr}
	if err := g.announcer.Dispatch(ctx, dispatch.EventGenerateAddress, payload); err != nil {
		slog.Warn("generate_address announcement failed", "address", addr.Address, "error", err)
	}
}
