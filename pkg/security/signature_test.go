package security_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/security"
)

func TestSignAndVerifySignature(t *testing.T) {
	payload := []byte(`{"provider_tx_id":"tx_1"}`)
	sig := security.SignPayload("whsec", payload)

	if !strings.HasPrefix(sig, security.SignaturePrefix) {
		t.Fatalf("expected prefix on %q", sig)
	}
	if err := security.VerifySignature("whsec", payload, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := security.VerifySignature("whsec", payload, strings.TrimPrefix(sig, security.SignaturePrefix)); err != nil {
		t.Fatalf("expected bare hex signature to verify, got %v", err)
	}
}

func TestVerifySignatureFailures(t *testing.T) {
	payload := []byte("body")
	sig := security.SignPayload("whsec", payload)

	if err := security.VerifySignature("whsec", payload, ""); !errors.Is(err, security.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
	if err := security.VerifySignature("other", payload, sig); !errors.Is(err, security.ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for wrong secret, got %v", err)
	}
	if err := security.VerifySignature("whsec", []byte("tampered"), sig); !errors.Is(err, security.ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for tampered body, got %v", err)
	}
	if err := security.VerifySignature("whsec", payload, "sha256=zz"); !errors.Is(err, security.ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for non-hex header, got %v", err)
	}
}
