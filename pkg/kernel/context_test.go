package kernel

import "testing"

func TestAuthContextIsValid(t *testing.T) {
	ac := &AuthContext{}
	if ac.IsValid() {
		t.Fatal("expected a zero-value context to be invalid")
	}
	ac.ClientID = NewClientID("web-app")
	if !ac.IsValid() {
		t.Fatal("expected a context with a client id to be valid")
	}
}

func TestAuthContextIsUserSubject(t *testing.T) {
	ac := &AuthContext{}
	if ac.IsUserSubject() {
		t.Fatal("expected a client_credentials-shaped context to not be a user subject")
	}
	uid := NewUserID("u1")
	ac.UserID = &uid
	if !ac.IsUserSubject() {
		t.Fatal("expected a context carrying a user id to be a user subject")
	}
}

func TestHasScopeExactMatch(t *testing.T) {
	ac := &AuthContext{Scopes: []string{"profile", "openid"}}
	if !ac.HasScope("profile") {
		t.Fatal("expected exact scope match")
	}
	if ac.HasScope("email") {
		t.Fatal("expected no match for an unheld scope")
	}
}

func TestHasScopeWildcard(t *testing.T) {
	ac := &AuthContext{Scopes: []string{"*"}}
	if !ac.HasScope("anything") {
		t.Fatal("expected bare '*' to match any scope")
	}
}

func TestHasScopeResourceWildcard(t *testing.T) {
	ac := &AuthContext{Scopes: []string{"users:*"}}
	if !ac.HasScope("users:read") || !ac.HasScope("users:write") {
		t.Fatal("expected 'users:*' to match any users: scope")
	}
	if ac.HasScope("clients:read") {
		t.Fatal("expected 'users:*' to not match a different resource")
	}
	if ac.HasScope("users") {
		t.Fatal("expected 'users:*' to require the colon separator, not just the prefix")
	}
}

func TestHasAnyScopeAndHasAllScopes(t *testing.T) {
	ac := &AuthContext{Scopes: []string{"openid", "profile"}}
	if !ac.HasAnyScope("email", "profile") {
		t.Fatal("expected HasAnyScope to report true when at least one scope matches")
	}
	if ac.HasAnyScope("email", "address") {
		t.Fatal("expected HasAnyScope to report false when none match")
	}
	if !ac.HasAllScopes("openid", "profile") {
		t.Fatal("expected HasAllScopes to report true when every scope matches")
	}
	if ac.HasAllScopes("openid", "email") {
		t.Fatal("expected HasAllScopes to report false when any scope is missing")
	}
}

func TestHasPermissionAndHasAllPermissions(t *testing.T) {
	ac := &AuthContext{Permissions: []string{"users:read", "roles:*"}}
	if !ac.HasPermission("users:read") {
		t.Fatal("expected exact permission match")
	}
	if !ac.HasPermission("roles:assign") {
		t.Fatal("expected 'roles:*' to match roles:assign")
	}
	if ac.HasPermission("users:write") {
		t.Fatal("expected no match for an unheld permission")
	}
	if !ac.HasAllPermissions("users:read", "roles:assign") {
		t.Fatal("expected HasAllPermissions to report true when every permission matches")
	}
	if ac.HasAllPermissions("users:read", "users:write") {
		t.Fatal("expected HasAllPermissions to report false when any permission is missing")
	}
}
