package mail

import (
	"fmt"
	netmail "net/mail"
	"strings"
	"time"
)

// DefaultTTL is how long a disposable address stays usable.
const DefaultTTL = time.Hour

// Address is a disposable mailbox identity held by the client.
type Address struct {
	Address   string    `json:"address"`
	LocalPart string    `json:"local_part"`
	Domain    string    `json:"domain"`
	Provider  Kind      `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

// NewAddress builds an Address for addr issued by kind. A non-positive ttl
// falls back to DefaultTTL.
func NewAddress(addr string, kind Kind, now time.Time, ttl time.Duration) (Address, error) {
	local, domain, err := SplitAddress(addr)
	if err != nil {
		return Address{}, err
	}
	if domain == "" {
		return Address{}, fmt.Errorf("%w: address %q has no domain", ErrInvalidInput, addr)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	return Address{
		Address:   local + "@" + domain,
		LocalPart: local,
		Domain:    domain,
		Provider:  kind,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Token:     RandomToken(),
	}, nil
}

// Expired reports whether the address is dead at now.
func (a Address) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// Remaining returns the lifetime left at now, never negative.
func (a Address) Remaining(now time.Time) time.Duration {
	if d := a.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LocalPart extracts the mailbox key from a recipient address: everything
// before the first "@". Display-name forms such as "Bob <bob@x.io>" are
// unwrapped first. A missing "@" or an empty key is ErrInvalidInput.
func LocalPart(addr string) (string, error) {
	local, _, err := SplitAddress(addr)
	return local, err
}

// SplitAddress splits addr on its first "@".
func SplitAddress(addr string) (string, string, error) {
	addr = strings.TrimSpace(addr)
	if strings.ContainsAny(addr, "<>") {
		if parsed, err := netmail.ParseAddress(addr); err == nil {
			addr = parsed.Address
		}
	}

	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return "", "", fmt.Errorf("%w: recipient %q has no @", ErrInvalidInput, addr)
	}
	if at == 0 {
		return "", "", fmt.Errorf("%w: recipient %q has an empty local part", ErrInvalidInput, addr)
	}
	return addr[:at], addr[at+1:], nil
}
