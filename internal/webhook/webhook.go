// Package webhook authenticates deploy trigger requests.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// SignatureHeader carries the HMAC of the raw request body
	SignatureHeader = "X-Hub-Signature-256"

	signaturePrefix = "sha256="
)

var (
	// ErrMissingSignature is returned when the request carries no signature
	ErrMissingSignature = errors.New("missing signature")

	// ErrInvalidSignature is returned when the signature does not match the body
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNoSecret is returned when no shared secret is configured
	ErrNoSecret = errors.New("webhook secret is not configured")
)

// Sign returns the header value for body under secret
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the HMAC-SHA256 of the raw body. It must run
// before the body is parsed.
func Verify(body []byte, header string, secret []byte) error {
	if len(secret) == 0 {
		return ErrNoSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(header), []byte(Sign(body, secret))) {
		return ErrInvalidSignature
	}
	return nil
}
