package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignaturePrefix tags hex encoded HMAC-SHA256 signatures.
const SignaturePrefix = "sha256="

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature mismatch")
)

// SignPayload returns the "sha256=<hex>" HMAC of payload under secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC of payload. The prefix is optional.
func VerifySignature(secret string, payload []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
