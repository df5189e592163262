// Package internal holds the secure token generator shared by the root
// package and the stores.
package internal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// DefaultTokenBytes is the entropy of every issued bearer secret, flow token,
// and authorization code.
const DefaultTokenBytes = 30

// RandomBytes returns n cryptographically secure random bytes. The only error
// path is entropy-source exhaustion; callers must treat it as fatal for token
// issuance.
func RandomBytes(n int) ([]byte, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// TokenBase64 returns n random bytes in unpadded base64url form, safe for
// cookies, query strings, and bearer headers.
func TokenBase64(n int) (string, error) {
	raw, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// TokenHex returns n random bytes hex-encoded.
func TokenHex(n int) (string, error) {
	raw, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
