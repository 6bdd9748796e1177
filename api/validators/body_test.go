package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type lineItemBody struct {
	SKU      string `json:"sku" validate:"required,sku"`
	Quantity int64  `json:"quantity" validate:"min=1"`
	Currency string `json:"currency" validate:"omitempty,currency"`
}

func decodeDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, _ := typed.Details().(map[string]string)
	return details
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"SKU-1","quantity":1,"extra":true}`))
	var body lineItemBody
	if err := DecodeJSONBody(req, &body); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"bad sku!","quantity":0,"currency":"dollars"}`))
	var body lineItemBody
	details := decodeDetails(t, DecodeJSONBody(req, &body))
	if details["quantity"] != "must be at least 1" {
		t.Fatalf("unexpected quantity detail %#v", details)
	}
	if !strings.Contains(details["sku"], "letters, digits") {
		t.Fatalf("unexpected sku detail %#v", details)
	}
	if details["currency"] != "must be a three-letter currency code" {
		t.Fatalf("unexpected currency detail %#v", details)
	}
}

func TestDecodeJSONBodyToleratesPaddedSKU(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"  SKU-1 ","quantity":2,"currency":"USD"}`))
	var body lineItemBody
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestDecodeJSONBodyNamesMistypedField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"SKU-1","quantity":"two"}`))
	var body lineItemBody
	details := decodeDetails(t, DecodeJSONBody(req, &body))
	if details["quantity"] != "must be a int64" {
		t.Fatalf("unexpected details %#v", details)
	}
}

func TestDecodeJSONBodyRejectsEmptyTrailingAndOversized(t *testing.T) {
	cases := map[string]string{
		"empty":     ``,
		"trailing":  `{"sku":"SKU-1","quantity":1}{"sku":"SKU-2","quantity":1}`,
		"oversized": `{"sku":"` + strings.Repeat("A", MaxBodyBytes) + `","quantity":1}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
			var body lineItemBody
			if err := DecodeJSONBody(req, &body); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
