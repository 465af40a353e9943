package tokensrv

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/crypto"
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
func (f *fakeClientRepository) FindByID(_ context.Context, _ string) (*oauth.Client, error) {
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
	delete(f.codes, code)
	return c, nil
}
func (f *fakeCodeRepository) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeAccessTokenRepository struct {
	byJTI map[string]*oauth.AccessTokenRecord
}

func (f *fakeAccessTokenRepository) Save(_ context.Context, t *oauth.AccessTokenRecord) error {
	f.byJTI[t.JTI] = t
	return nil
}
func (f *fakeAccessTokenRepository) FindByJTI(_ context.Context, jti string) (*oauth.AccessTokenRecord, error) {
	t, ok := f.byJTI[jti]
	if !ok {
		return nil, oauth.ErrInvalidGrant("not found")
	}
	return t, nil
}
func (f *fakeAccessTokenRepository) FindActiveByUserClient(_ context.Context, _ *kernel.UserID, _ kernel.ClientID) ([]*oauth.AccessTokenRecord, error) {
	var out []*oauth.AccessTokenRecord
	for _, t := range f.byJTI {
		out = append(out, t)
	}
	return out, nil
}
func (f *fakeAccessTokenRepository) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeRefreshTokenRepository struct {
	byJTI      map[string]*oauth.RefreshTokenRecord
	byPrevious map[string]string
}

func (f *fakeRefreshTokenRepository) Save(_ context.Context, t *oauth.RefreshTokenRecord) error {
	f.byJTI[t.JTI] = t
	if t.PreviousTokenID != nil {
		f.byPrevious[*t.PreviousTokenID] = t.JTI
	}
	return nil
}
func (f *fakeRefreshTokenRepository) FindByJTI(_ context.Context, jti string) (*oauth.RefreshTokenRecord, error) {
	t, ok := f.byJTI[jti]
	if !ok {
		return nil, oauth.ErrInvalidGrant("not found")
	}
	return t, nil
}
func (f *fakeRefreshTokenRepository) FindByPreviousTokenID(_ context.Context, previousJTI string) (*oauth.RefreshTokenRecord, error) {
	jti, ok := f.byPrevious[previousJTI]
	if !ok {
		return nil, nil
	}
	return f.byJTI[jti], nil
}
func (f *fakeRefreshTokenRepository) Rotate(_ context.Context, oldJTI string, next *oauth.RefreshTokenRecord) error {
	if old, ok := f.byJTI[oldJTI]; ok {
		old.IsRevoked = true
	}
	f.byJTI[next.JTI] = next
	if next.PreviousTokenID != nil {
		f.byPrevious[*next.PreviousTokenID] = next.JTI
	}
	return nil
}
func (f *fakeRefreshTokenRepository) Revoke(_ context.Context, jti string) error {
	if t, ok := f.byJTI[jti]; ok {
		t.IsRevoked = true
	}
	return nil
}
func (f *fakeRefreshTokenRepository) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeBlacklistRepository struct {
	entries map[string]oauth.BlacklistEntry
}

func (f *fakeBlacklistRepository) Add(_ context.Context, e oauth.BlacklistEntry) error {
	f.entries[e.JTI] = e
	return nil
}
func (f *fakeBlacklistRepository) BulkAdd(_ context.Context, entries []oauth.BlacklistEntry) error {
	for _, e := range entries {
		f.entries[e.JTI] = e
	}
	return nil
}
func (f *fakeBlacklistRepository) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	_, ok := f.entries[jti]
	return ok, nil
}
func (f *fakeBlacklistRepository) PurgeExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeUserRepository struct {
	byID map[kernel.UserID]*account.User
}

func (f *fakeUserRepository) Save(_ context.Context, u *account.User) error {
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUserRepository) FindByID(_ context.Context, id kernel.UserID) (*account.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, account.ErrInvalidCredentials()
	}
	return u, nil
}
func (f *fakeUserRepository) FindByUsername(_ context.Context, username string) (*account.User, error) {
	for _, u := range f.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, account.ErrInvalidCredentials()
}
func (f *fakeUserRepository) FindByEmail(_ context.Context, email string) (*account.User, error) {
	for _, u := range f.byID {
		if u.Email != nil && *u.Email == email {
			return u, nil
		}
	}
	return nil, account.ErrInvalidCredentials()
}
func (f *fakeUserRepository) List(_ context.Context, _ kernel.PaginationOptions, _ account.UserFilter) (kernel.Paginated[*account.User], error) {
	return kernel.Paginated[*account.User]{}, nil
}
func (f *fakeUserRepository) Delete(_ context.Context, id kernel.UserID) error {
	delete(f.byID, id)
	return nil
}

func generateTestKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	kp, err := crypto.LoadRSAKeyPair(pem.EncodeToMemory(block))
	if err != nil {
		t.Fatalf("load rsa key pair: %v", err)
	}
	return kp
}

type testFixture struct {
	svc           *Service
	clients       *fakeClientRepository
	codes         *fakeCodeRepository
	accessTokens  *fakeAccessTokenRepository
	refreshTokens *fakeRefreshTokenRepository
	blacklist     *fakeBlacklistRepository
	users         *fakeUserRepository
}

func newFixture(t *testing.T) *testFixture {
	kp := generateTestKeyPair(t)
	signer := crypto.NewSigner(kp)
	claims := oauth.NewClaimsBuilder(signer, "https://auth.example.com", "https://auth.example.com")

	f := &testFixture{
		clients:       &fakeClientRepository{clients: map[kernel.ClientID]*oauth.Client{}},
		codes:         &fakeCodeRepository{codes: map[string]*oauth.AuthorizationCode{}},
		accessTokens:  &fakeAccessTokenRepository{byJTI: map[string]*oauth.AccessTokenRecord{}},
		refreshTokens: &fakeRefreshTokenRepository{byJTI: map[string]*oauth.RefreshTokenRecord{}, byPrevious: map[string]string{}},
		blacklist:     &fakeBlacklistRepository{entries: map[string]oauth.BlacklistEntry{}},
		users:         &fakeUserRepository{byID: map[kernel.UserID]*account.User{}},
	}
	f.svc = New(
		clientsrv.New(f.clients),
		f.codes,
		f.accessTokens,
		f.refreshTokens,
		f.blacklist,
		claims,
		f.users,
		nil,
	)
	return f
}

func testConfidentialClient() *oauth.Client {
	hash, _ := crypto.HashPassword("s3cr3t", crypto.MinBcryptCost)
	return &oauth.Client{
		ID:                      "c1",
		ClientID:                kernel.NewClientID("web-app"),
		ClientSecretHash:        hash,
		Type:                    oauth.ClientConfidential,
		RedirectURIs:            []string{"https://app.example.com/cb"},
		AllowedScopes:           []string{"openid", "profile", "offline_access"},
		GrantTypes:              []oauth.GrantType{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken, oauth.GrantClientCredentials},
		TokenEndpointAuthMethod: oauth.AuthMethodBasic,
		AllowOfflineAccess:      true,
		IsActive:                true,
		AccessTokenTTL:          15 * time.Minute,
		RefreshTokenTTL:         30 * 24 * time.Hour,
	}
}

func TestExchangeAuthorizationCodeSuccess(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1tEI7KVMWOVJRCfcc"

	f.codes.codes["code-1"] = &oauth.AuthorizationCode{
		Code: "code-1", UserID: kernel.NewUserID("user-1"), ClientID: client.ClientID,
		RedirectURI: "https://app.example.com/cb", Scope: "openid profile offline_access",
		CodeChallenge: challenge, CodeChallengeMethod: oauth.CodeChallengeMethodS256,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	f.users.byID[kernel.NewUserID("user-1")] = &account.User{ID: kernel.NewUserID("user-1"), Username: "alice", IsActive: true}

	resp, oerr := f.svc.Token(context.Background(), GrantRequest{
		GrantType: string(oauth.GrantAuthorizationCode),
		ClientCreds: clientsrv.ClientCredentials{
			Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
		},
		Code: "code-1", RedirectURI: "https://app.example.com/cb", CodeVerifier: verifier,
	})
	if oerr != nil {
		t.Fatalf("exchange code: %+v", oerr)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected an access token")
	}
	if resp.RefreshToken == "" {
		t.Fatal("expected a refresh token for offline_access scope")
	}
	if resp.IDToken == "" {
		t.Fatal("expected an id token for openid scope")
	}
}

func TestExchangeAuthorizationCodeRejectsBadPKCE(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	f.codes.codes["code-1"] = &oauth.AuthorizationCode{
		Code: "code-1", UserID: kernel.NewUserID("user-1"), ClientID: client.ClientID,
		RedirectURI: "https://app.example.com/cb", Scope: "openid",
		CodeChallenge: "E9Melhoa2OwvFrEMTJguCHaoeK1tEI7KVMWOVJRCfcc", CodeChallengeMethod: oauth.CodeChallengeMethodS256,
		ExpiresAt: time.Now().Add(time.Minute),
	}

	_, oerr := f.svc.Token(context.Background(), GrantRequest{
		GrantType: string(oauth.GrantAuthorizationCode),
		ClientCreds: clientsrv.ClientCredentials{
			Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
		},
		Code: "code-1", RedirectURI: "https://app.example.com/cb", CodeVerifier: "wrong-verifier",
	})
	if oerr == nil {
		t.Fatal("expected rejection for a mismatched code_verifier")
	}
}

func TestExchangeAuthorizationCodeRejectsReuse(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1tEI7KVMWOVJRCfcc"
	f.codes.codes["code-1"] = &oauth.AuthorizationCode{
		Code: "code-1", UserID: kernel.NewUserID("user-1"), ClientID: client.ClientID,
		RedirectURI: "https://app.example.com/cb", Scope: "openid",
		CodeChallenge: challenge, CodeChallengeMethod: oauth.CodeChallengeMethodS256,
		ExpiresAt: time.Now().Add(time.Minute),
	}

	req := GrantRequest{
		GrantType: string(oauth.GrantAuthorizationCode),
		ClientCreds: clientsrv.ClientCredentials{
			Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
		},
		Code: "code-1", RedirectURI: "https://app.example.com/cb", CodeVerifier: verifier,
	}
	if _, oerr := f.svc.Token(context.Background(), req); oerr != nil {
		t.Fatalf("first exchange should succeed: %+v", oerr)
	}
	if _, oerr := f.svc.Token(context.Background(), req); oerr == nil {
		t.Fatal("expected the second exchange of the same code to fail")
	}
}

func TestRefreshGrantRotatesToken(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	jti, token, err := f.svc.buildRefreshToken(client, nil, "openid profile")
	if err != nil {
		t.Fatalf("build refresh token: %v", err)
	}
	f.refreshTokens.byJTI[jti] = &oauth.RefreshTokenRecord{
		JTI: jti, TokenHash: oauth.GetTokenHash(token), ClientID: client.ClientID,
		Scope: "openid profile", ExpiresAt: time.Now().Add(time.Hour),
	}

	resp, oerr := f.svc.Token(context.Background(), GrantRequest{
		GrantType: string(oauth.GrantRefreshToken),
		ClientCreds: clientsrv.ClientCredentials{
			Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
		},
		RefreshToken: token,
	})
	if oerr != nil {
		t.Fatalf("refresh grant: %+v", oerr)
	}
	if resp.RefreshToken == token {
		t.Fatal("expected refresh token rotation to produce a new token value")
	}
	if !f.refreshTokens.byJTI[jti].IsRevoked {
		t.Fatal("expected the old refresh token to be revoked after rotation")
	}
}

func TestRefreshGrantRejectsReplayAfterRotation(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	jti, token, err := f.svc.buildRefreshToken(client, nil, "openid")
	if err != nil {
		t.Fatalf("build refresh token: %v", err)
	}
	f.refreshTokens.byJTI[jti] = &oauth.RefreshTokenRecord{
		JTI: jti, TokenHash: oauth.GetTokenHash(token), ClientID: client.ClientID,
		Scope: "openid", ExpiresAt: time.Now().Add(time.Hour),
	}

	req := GrantRequest{
		GrantType: string(oauth.GrantRefreshToken),
		ClientCreds: clientsrv.ClientCredentials{
			Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
		},
		RefreshToken: token,
	}
	if _, oerr := f.svc.Token(context.Background(), req); oerr != nil {
		t.Fatalf("first refresh should succeed: %+v", oerr)
	}

	// The rotated-away token is blacklisted, so replaying it must fail.
	if _, oerr := f.svc.Token(context.Background(), req); oerr == nil {
		t.Fatal("expected replay of a rotated-away refresh token to fail")
	}
}

func TestRefreshGrantNarrowsScopeWhenRequestedIsSubset(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	jti, token, err := f.svc.buildRefreshToken(client, nil, "openid profile offline_access")
	if err != nil {
		t.Fatalf("build refresh token: %v", err)
	}
	f.refreshTokens.byJTI[jti] = &oauth.RefreshTokenRecord{
		JTI: jti, TokenHash: oauth.GetTokenHash(token), ClientID: client.ClientID,
		Scope: "openid profile offline_access", ExpiresAt: time.Now().Add(time.Hour),
	}

	resp, oerr := f.svc.Token(context.Background(), GrantRequest{
		GrantType: string(oauth.GrantRefreshToken),
		ClientCreds: clientsrv.ClientCredentials{
			Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
		},
		RefreshToken: token, Scope: "openid",
	})
	if oerr != nil {
		t.Fatalf("refresh grant: %+v", oerr)
	}
	if resp.Scope != "openid" {
		t.Fatalf("expected the narrowed scope to be honored, got %q", resp.Scope)
	}
}

func TestRefreshGrantRejectsScopeEscalation(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	jti, token, err := f.svc.buildRefreshToken(client, nil, "openid")
	if err != nil {
		t.Fatalf("build refresh token: %v", err)
	}
	f.refreshTokens.byJTI[jti] = &oauth.RefreshTokenRecord{
		JTI: jti, TokenHash: oauth.GetTokenHash(token), ClientID: client.ClientID,
		Scope: "openid", ExpiresAt: time.Now().Add(time.Hour),
	}

	_, oerr := f.svc.Token(context.Background(), GrantRequest{
		GrantType: string(oauth.GrantRefreshToken),
		ClientCreds: clientsrv.ClientCredentials{
			Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
		},
		RefreshToken: token, Scope: "openid profile",
	})
	if oerr == nil {
		t.Fatal("expected a requested scope beyond the originally granted scope to be rejected")
	}
}

func TestClientCredentialsGrantRejectsPublicClient(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	client.Type = oauth.ClientPublic
	client.ClientSecretHash = ""
	client.TokenEndpointAuthMethod = oauth.AuthMethodNone
	f.clients.clients[client.ClientID] = client

	_, oerr := f.svc.Token(context.Background(), GrantRequest{
		GrantType:   string(oauth.GrantClientCredentials),
		ClientCreds: clientsrv.ClientCredentials{Source: clientsrv.SourceNone, ClientID: client.ClientID},
	})
	if oerr == nil {
		t.Fatal("expected client_credentials to be rejected for a public client")
	}
}

func TestIntrospectInactiveForUnknownToken(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	resp, oerr := f.svc.Introspect(context.Background(), clientsrv.ClientCredentials{
		Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
	}, "not-a-real-token")
	if oerr != nil {
		t.Fatalf("introspect: %+v", oerr)
	}
	if resp.Active {
		t.Fatal("expected an unparseable token to introspect as inactive")
	}
}

func TestRevokeIsIdempotentForUnknownToken(t *testing.T) {
	f := newFixture(t)
	client := testConfidentialClient()
	f.clients.clients[client.ClientID] = client

	oerr := f.svc.Revoke(context.Background(), clientsrv.ClientCredentials{
		Source: clientsrv.SourceBasic, ClientID: client.ClientID, ClientSecret: "s3cr3t",
	}, "not-a-real-token")
	if oerr != nil {
		t.Fatalf("expected revoke to always return success per RFC 7009, got %+v", oerr)
	}
}
