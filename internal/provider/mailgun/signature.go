package mailgun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA-256 of timestamp+token under signingKey.
func Sign(timestamp, token, signingKey string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the hex HMAC-SHA-256 of
// timestamp+token under signingKey. The comparison is constant time.
func VerifySignature(signature, timestamp, token, signingKey string) bool {
	expected := Sign(timestamp, token, signingKey)
	return hmac.Equal([]byte(signature), []byte(expected))
}
