package oauth

import (
	"testing"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

func TestConsentGrantCoversNilGrant(t *testing.T) {
	var g *ConsentGrant
	if !g.Covers(nil) {
		t.Fatal("expected a nil grant to cover an empty scope request")
	}
	if g.Covers([]string{"openid"}) {
		t.Fatal("expected a nil grant to not cover any non-empty scope request")
	}
}

func TestConsentGrantCoversSubsetOnly(t *testing.T) {
	g := &ConsentGrant{
		UserID: kernel.NewUserID("u1"), ClientID: kernel.NewClientID("web-app"),
		Scopes: []string{"openid", "profile"},
	}
	if !g.Covers([]string{"openid"}) {
		t.Fatal("expected grant to cover a scope subset")
	}
	if g.Covers([]string{"openid", "email"}) {
		t.Fatal("expected grant to not cover a scope it was never granted")
	}
}

func TestConsentGrantExpiry(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	g := &ConsentGrant{Scopes: []string{"openid"}, ExpiresAt: &past}
	if g.Covers([]string{"openid"}) {
		t.Fatal("expected an expired grant to cover nothing")
	}

	future := time.Now().UTC().Add(time.Hour)
	g.ExpiresAt = &future
	if !g.Covers([]string{"openid"}) {
		t.Fatal("expected a not-yet-expired grant to still cover its scopes")
	}
}

func TestParseAndJoinScope(t *testing.T) {
	scopes := ParseScope("openid  profile   email")
	if len(scopes) != 3 || scopes[0] != "openid" || scopes[2] != "email" {
		t.Fatalf("expected repeated separators to collapse, got %v", scopes)
	}
	if joined := JoinScope(scopes); joined != "openid profile email" {
		t.Fatalf("unexpected joined scope: %q", joined)
	}
	if ParseScope("") != nil && len(ParseScope("")) != 0 {
		t.Fatal("expected an empty scope string to parse to no scopes")
	}
}
