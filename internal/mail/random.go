package mail

import (
	"math/rand/v2"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// localPartLength keeps generated names the same shape as the ones the
// downstream consumer already stores.
const localPartLength = 13

// RandomLocalPart returns a random base36 mailbox name. It is not
// cryptographically secure; disposable addresses are not meant to resist
// guessing.
func RandomLocalPart() string {
	return randomBase36(localPartLength)
}

// RandomToken returns an opaque display/session identifier.
func RandomToken() string {
	return randomBase36(localPartLength)
}

func randomBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.IntN(len(base36))]
	}
	return string(b)
}
