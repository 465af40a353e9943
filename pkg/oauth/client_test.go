package oauth

import "testing"

func TestClientIsPublic(t *testing.T) {
	c := &Client{Type: ClientPublic}
	if !c.IsPublic() {
		t.Fatal("expected a public client to report IsPublic")
	}
	c.Type = ClientConfidential
	if c.IsPublic() {
		t.Fatal("expected a confidential client to not report IsPublic")
	}
}

func TestClientSupportsGrant(t *testing.T) {
	c := &Client{GrantTypes: []GrantType{GrantAuthorizationCode, GrantRefreshToken}}
	if !c.SupportsGrant(GrantAuthorizationCode) {
		t.Fatal("expected configured grant to be supported")
	}
	if c.SupportsGrant(GrantClientCredentials) {
		t.Fatal("expected unconfigured grant to be rejected")
	}
}

func TestClientHasRedirectURIExactMatchOnly(t *testing.T) {
	c := &Client{RedirectURIs: []string{"https://app.example.com/callback"}}
	if !c.HasRedirectURI("https://app.example.com/callback") {
		t.Fatal("expected exact redirect uri to match")
	}
	if c.HasRedirectURI("https://app.example.com/callback/") {
		t.Fatal("expected a trailing-slash variant to be rejected, no normalization is tolerated")
	}
	if c.HasRedirectURI("https://app.example.com/callback?x=1") {
		t.Fatal("expected a query-augmented variant to be rejected")
	}
}

func TestClientAllowsScope(t *testing.T) {
	c := &Client{AllowedScopes: []string{"openid", "profile"}}
	if !c.AllowsScope("openid") {
		t.Fatal("expected configured scope to be allowed")
	}
	if c.AllowsScope("email") {
		t.Fatal("expected unconfigured scope to be rejected")
	}
}
