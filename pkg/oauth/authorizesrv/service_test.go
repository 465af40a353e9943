package authorizesrv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/Abraxas-365/manifesto/pkg/oauth/clientsrv"
)

type fakeClientRepository struct {
	clients map[kernel.ClientID]*oauth.Client
}

func (f *fakeClientRepository) Save(_ context.Context, c *oauth.Client) error {
	f.clients[c.ClientID] = c
	return nil
}
func (f *fakeClientRepository) FindByID(_ context.Context, id string) (*oauth.Client, error) {
	return nil, oauth.ErrInvalidClient("not found")
}
func (f *fakeClientRepository) FindByClientID(_ context.Context, id kernel.ClientID) (*oauth.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return nil, oauth.ErrInvalidClient("not found")
	}
	return c, nil
}
func (f *fakeClientRepository) List(_ context.Context, _ kernel.PaginationOptions, _ oauth.ClientFilter) (kernel.Paginated[*oauth.Client], error) {
	return kernel.Paginated[*oauth.Client]{}, nil
}
func (f *fakeClientRepository) Delete(_ context.Context, _ string) error { return nil }

type fakeSessionRepository struct {
	sessions map[string]*account.UserSession
}

func (f *fakeSessionRepository) Save(_ context.Context, s *account.UserSession) error {
	f.sessions[s.ID] = s
	return nil
}
func (f *fakeSessionRepository) FindByID(_ context.Context, id string) (*account.UserSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return s, nil
}
func (f *fakeSessionRepository) Touch(_ context.Context, _ string, _ time.Time) error { return nil }
func (f *fakeSessionRepository) Delete(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}
func (f *fakeSessionRepository) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeConsentRepository struct {
	grants map[string]*oauth.ConsentGrant
}

func key(u kernel.UserID, c kernel.ClientID) string { return u.String() + "|" + c.String() }

func (f *fakeConsentRepository) Find(_ context.Context, u kernel.UserID, c kernel.ClientID) (*oauth.ConsentGrant, error) {
	g, ok := f.grants[key(u, c)]
	if !ok {
		return nil, nil
	}
	return g, nil
}
func (f *fakeConsentRepository) Upsert(_ context.Context, g *oauth.ConsentGrant) error {
	f.grants[key(g.UserID, g.ClientID)] = g
	return nil
}
func (f *fakeConsentRepository) Delete(_ context.Context, u kernel.UserID, c kernel.ClientID) error {
	delete(f.grants, key(u, c))
	return nil
}

type fakeCodeRepository struct {
	codes map[string]*oauth.AuthorizationCode
}

func (f *fakeCodeRepository) Save(_ context.Context, c *oauth.AuthorizationCode) error {
	f.codes[c.Code] = c
	return nil
}
func (f *fakeCodeRepository) FindByCode(_ context.Context, code string) (*oauth.AuthorizationCode, error) {
	c, ok := f.codes[code]
	if !ok {
		return nil, oauth.ErrInvalidGrant("not found")
	}
	return c, nil
}
func (f *fakeCodeRepository) ConsumeAtomically(_ context.Context, code string) (*oauth.AuthorizationCode, error) {
	c, ok := f.codes[code]
	if !ok {
		return nil, oauth.ErrInvalidGrant("not found")
	}
	now := time.Now().UTC()
	c.ConsumedAt = &now
	return c, nil
}
func (f *fakeCodeRepository) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func newTestService() (*Service, *fakeClientRepository, *fakeSessionRepository, *fakeConsentRepository, *fakeCodeRepository) {
	clients := &fakeClientRepository{clients: map[kernel.ClientID]*oauth.Client{}}
	sessions := &fakeSessionRepository{sessions: map[string]*account.UserSession{}}
	consents := &fakeConsentRepository{grants: map[string]*oauth.ConsentGrant{}}
	codes := &fakeCodeRepository{codes: map[string]*oauth.AuthorizationCode{}}
	svc := New(clientsrv.New(clients), sessions, consents, codes)
	return svc, clients, sessions, consents, codes
}

func testClient() *oauth.Client {
	return &oauth.Client{
		ID:                      "c1",
		ClientID:                kernel.NewClientID("spa"),
		Type:                    oauth.ClientPublic,
		RedirectURIs:            []string{"https://app.example.com/cb"},
		AllowedScopes:           []string{"openid", "profile"},
		GrantTypes:              []oauth.GrantType{oauth.GrantAuthorizationCode},
		ResponseTypes:           []oauth.ResponseType{oauth.ResponseTypeCode},
		TokenEndpointAuthMethod: oauth.AuthMethodNone,
		RequirePKCE:             true,
		IsActive:                true,
	}
}

func baseRequest(client *oauth.Client) Request {
	return Request{
		ClientID:            client.ClientID,
		RedirectURI:         "https://app.example.com/cb",
		ResponseType:        "code",
		Scope:               "openid profile",
		State:               "xyz",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
	}
}

func TestAuthorizeRequiresLoginWithoutSession(t *testing.T) {
	svc, clients, _, _, _ := newTestService()
	client := testClient()
	clients.clients[client.ClientID] = client

	decision := svc.Authorize(context.Background(), baseRequest(client))
	if decision.Kind != DecisionLoginRequired {
		t.Fatalf("expected DecisionLoginRequired, got %+v", decision)
	}
}

func TestAuthorizeRequiresConsentWhenClientRequiresIt(t *testing.T) {
	svc, clients, sessions, _, _ := newTestService()
	client := testClient()
	client.RequireConsent = true
	clients.clients[client.ClientID] = client

	sessions.sessions["sess-1"] = &account.UserSession{
		ID: "sess-1", UserID: kernel.NewUserID("user-1"), ExpiresAt: time.Now().Add(time.Hour),
	}

	req := baseRequest(client)
	req.SessionID = "sess-1"
	decision := svc.Authorize(context.Background(), req)
	if decision.Kind != DecisionConsentRequired {
		t.Fatalf("expected DecisionConsentRequired, got %+v", decision)
	}
}

func TestAuthorizeIssuesCodeWhenConsentAlreadyGranted(t *testing.T) {
	svc, clients, sessions, consents, codes := newTestService()
	client := testClient()
	client.RequireConsent = true
	clients.clients[client.ClientID] = client

	userID := kernel.NewUserID("user-1")
	sessions.sessions["sess-1"] = &account.UserSession{ID: "sess-1", UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
	consents.grants[key(userID, client.ClientID)] = &oauth.ConsentGrant{
		UserID: userID, ClientID: client.ClientID, Scopes: []string{"openid", "profile"},
	}

	req := baseRequest(client)
	req.SessionID = "sess-1"
	decision := svc.Authorize(context.Background(), req)
	if decision.Kind != DecisionRedirect {
		t.Fatalf("expected DecisionRedirect, got %+v", decision)
	}
	if len(codes.codes) != 1 {
		t.Fatalf("expected exactly one authorization code to be minted, got %d", len(codes.codes))
	}
}

func TestAuthorizeRejectsBadRedirectURIAsJSON(t *testing.T) {
	svc, clients, _, _, _ := newTestService()
	client := testClient()
	clients.clients[client.ClientID] = client

	req := baseRequest(client)
	req.RedirectURI = "https://evil.example.com/cb"
	decision := svc.Authorize(context.Background(), req)
	if decision.Kind != DecisionError || !decision.JSONError {
		t.Fatalf("expected a JSON error for an unregistered redirect_uri, got %+v", decision)
	}
}

func TestAuthorizeRejectsMissingPKCEAsRedirectError(t *testing.T) {
	svc, clients, sessions, _, _ := newTestService()
	client := testClient()
	clients.clients[client.ClientID] = client
	sessions.sessions["sess-1"] = &account.UserSession{ID: "sess-1", UserID: kernel.NewUserID("user-1"), ExpiresAt: time.Now().Add(time.Hour)}

	req := baseRequest(client)
	req.SessionID = "sess-1"
	req.CodeChallenge = ""
	decision := svc.Authorize(context.Background(), req)
	if decision.Kind != DecisionError || decision.JSONError {
		t.Fatalf("expected a redirect-carrying error for missing PKCE, got %+v", decision)
	}
	if decision.ErrorRedirectURL == "" {
		t.Fatal("expected ErrorRedirectURL to be populated")
	}
}
