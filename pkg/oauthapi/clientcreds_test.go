package oauthapi

import (
	"encoding/base64"
	"testing"
)

func TestDecodeBasicAuth(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("web-app:s3cret"))
	id, secret, ok := decodeBasicAuth("Basic " + raw)
	if !ok {
		t.Fatal("expected a well-formed Basic header to decode")
	}
	if id != "web-app" || secret != "s3cret" {
		t.Fatalf("unexpected id/secret: %q/%q", id, secret)
	}
}

func TestDecodeBasicAuthRejectsMalformedInput(t *testing.T) {
	if _, _, ok := decodeBasicAuth("Basic not-base64!!!"); ok {
		t.Fatal("expected invalid base64 to be rejected")
	}

	raw := base64.StdEncoding.EncodeToString([]byte("no-colon-here"))
	if _, _, ok := decodeBasicAuth("Basic " + raw); ok {
		t.Fatal("expected a credential with no colon separator to be rejected")
	}
}

func TestDecodeBasicAuthSplitsOnlyFirstColon(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("web-app:s3cret:with:colons"))
	id, secret, ok := decodeBasicAuth("Basic " + raw)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if id != "web-app" || secret != "s3cret:with:colons" {
		t.Fatalf("expected the secret to retain embedded colons, got %q/%q", id, secret)
	}
}
