// Package provider defines the per-provider behaviours of the relay: how a
// webhook caller is recognised, how its signature is checked and how its
// payload maps onto the canonical message.
package provider

import (
	"net/http"

	"github.com/shineum/mailhook/internal/mail"
)

// Variant is implemented once per provider. Adding a provider means adding a
// Variant and registering it; nothing else branches on provider names.
type Variant interface {
	// Kind returns the provider tag stamped on normalized messages.
	Kind() mail.Kind

	// Matches reports whether the request metadata carries this provider's
	// marker (signature header, user-agent or content-type token).
	Matches(h http.Header) bool

	// Normalize maps a provider payload to a canonical message. Missing
	// fields degrade to defaults; it never fails.
	Normalize(body Body) *mail.Message
}

// Verifier is implemented by variants that can authenticate a webhook.
type Verifier interface {
	// Enabled reports whether a signing key is configured. When it is not,
	// callers skip verification entirely.
	Enabled() bool

	// Verify returns an error wrapping mail.ErrAuthenticationFailure when
	// the request was not signed by the provider.
	Verify(h http.Header, body Body) error
}

// Registry holds variants in detection priority order.
type Registry struct {
	variants []Variant
}

// NewRegistry creates a Registry. The first variant is also the fallback
// used when no marker matches.
func NewRegistry(variants ...Variant) *Registry {
	return &Registry{variants: variants}
}

// Detect returns the first variant whose marker matches h, or the first
// registered variant when nothing matches. A request carrying several
// markers resolves by registration order, not by specificity.
func (r *Registry) Detect(h http.Header) Variant {
	if len(r.variants) == 0 {
		return nil
	}
	for _, v := range r.variants {
		if v.Matches(h) {
			return v
		}
	}
	return r.variants[0]
}

// Kinds lists registered provider tags in priority order.
func (r *Registry) Kinds() []mail.Kind {
	kinds := make([]mail.Kind, 0, len(r.variants))
	for _, v := range r.variants {
		kinds = append(kinds, v.Kind())
	}
	return kinds
}

// SignatureError is returned by a Verifier when the webhook signature does
// not match.
type SignatureError struct {
	Provider string
}

func (e *SignatureError) Error() string {
	return "invalid " + e.Provider + " signature"
}

func (e *SignatureError) Unwrap() error {
	return mail.ErrAuthenticationFailure
}
