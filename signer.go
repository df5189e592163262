package authcore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"errors"

	"github.com/blufax/authcore/internal"
)

// signer derives the opaque lookup hashes under which bearer secrets are
// persisted, and conceals the few server-side values that must be reversible.
// Both keys come from configuration, never from the database: a leaked dump
// must not yield usable bearer tokens.
type signer struct {
	hashKey []byte
	aead    cipher.AEAD
}

func newSigner(hashKey, cipherKey []byte) (*signer, error) {
	if len(hashKey) < 32 {
		return nil, errors.New("hash key must be at least 32 bytes")
	}

	s := &signer{hashKey: hashKey}
	if len(cipherKey) > 0 {
		if len(cipherKey) != 32 {
			return nil, errors.New("cipher key must be exactly 32 bytes")
		}
		block, err := aes.NewCipher(cipherKey)
		if err != nil {
			return nil, err
		}
		if s.aead, err = cipher.NewGCM(block); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TokenHash returns the HMAC-SHA512 of secret under the server hash key,
// base64url-encoded. It is the only form in which bearer secrets touch the
// store.
func (s *signer) TokenHash(secret string) string {
	mac := hmac.New(sha512.New, s.hashKey)
	_, _ = mac.Write([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// EncryptFixed seals data under the cipher key. Prefer TokenHash for anything
// that only needs comparison.
func (s *signer) EncryptFixed(data []byte) ([]byte, error) {
	if s.aead == nil {
		return nil, errors.New("cipher key not configured")
	}
	nonce, err := internal.RandomBytes(s.aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, data, nil), nil
}

// DecryptFixed reverses EncryptFixed.
func (s *signer) DecryptFixed(data []byte) ([]byte, error) {
	if s.aead == nil {
		return nil, errors.New("cipher key not configured")
	}
	if len(data) < s.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	return s.aead.Open(nil, nonce, sealed, nil)
}
