package paddle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingSignature   = errors.New("webhook signature header is missing")
	ErrMissingSecret      = errors.New("webhook endpoint secret is not configured")
	ErrMalformedSignature = errors.New("webhook signature header is malformed")
	ErrSignatureMismatch  = errors.New("webhook signature does not match payload")
)

// SignatureVerifier validates the Paddle-Signature webhook header. The
// header carries a unix timestamp and a hex HMAC-SHA256 digest in the form
// "ts=<unix>;h1=<hex>"; the digest covers the string "<ts>:<raw body>".
//
// Every failure mode is a rejection error, never a panic: a forged or
// malformed header must not be mistaken for a server fault.
type SignatureVerifier struct {
	secret string
}

// NewSignatureVerifier creates a verifier bound to the endpoint secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: secret}
}

// Verify checks the signature header against the raw request body.
func (v *SignatureVerifier) Verify(header string, body []byte) error {
	if v.secret == "" {
		return ErrMissingSecret
	}
	if header == "" {
		return ErrMissingSignature
	}

	ts, digest, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	expected, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("%w: h1 is not hex", ErrMalformedSignature)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(body)

	// hmac.Equal is constant-time and rejects length mismatches.
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrSignatureMismatch
	}

	return nil
}

// parseSignatureHeader extracts the ts and h1 fields from a
// "ts=<unix>;h1=<hex>" header. Unknown fields are ignored; missing required
// fields are a malformed header.
func parseSignatureHeader(header string) (ts, digest string, err error) {
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "h1":
			digest = value
		}
	}

	if ts == "" || digest == "" {
		return "", "", ErrMalformedSignature
	}
	return ts, digest, nil
}
