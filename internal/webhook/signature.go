// Package webhook authenticates inbound webhook requests.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of the raw request body.
	SignatureHeader = "X-Hub-Signature-256"
	// TimestampHeader is optional; when present the request must be fresh.
	TimestampHeader = "X-Mend-Timestamp"

	signaturePrefix = "sha256="

	// ReplayWindow bounds how far a signed request's timestamp may drift
	// from the server clock.
	ReplayWindow = 300 * time.Second
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("timestamp outside replay window")
)

// Verifier validates authenticity and freshness of webhook requests.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// NewVerifierAt is like NewVerifier with an injectable clock.
func NewVerifierAt(secret string, now func() time.Time) *Verifier {
	return &Verifier{secret: []byte(secret), now: now}
}

// Verify checks the signature header against the HMAC of the exact raw body
// bytes. It must run before the body is decoded; a re-serialized payload is
// not signature-equivalent. The comparison is constant-time.
func (v *Verifier) Verify(rawPayload []byte, signatureHeader, timestampHeader string) error {
	if strings.TrimSpace(signatureHeader) == "" {
		return ErrMissingSignature
	}

	if timestampHeader != "" {
		ts, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
		if err != nil {
			return ErrStaleTimestamp
		}
		drift := v.now().UTC().Sub(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > ReplayWindow {
			return ErrStaleTimestamp
		}
	}

	provided := strings.TrimPrefix(signatureHeader, signaturePrefix)
	expected := Sign(v.secret, rawPayload)

	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
