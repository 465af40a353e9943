// Package tokensrv implements the token lifecycle: grant dispatch at
// POST /token, introspection, and revocation.
package tokensrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/crypto"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/Abraxas-365/manifesto/pkg/oauth/clientsrv"
	"github.com/Abraxas-365/manifesto/pkg/rbac/rbacsrv"
)

// jtiLength is the byte length of the random value used as the jti of every
// minted access, refresh and ID token.
const jtiLength = 32

// Response is the POST /token success envelope.
type Response struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	IDToken      string
	Scope        string
}

// GrantRequest is the pre-parsed POST /token body plus pre-extracted client
// credentials. Form decoding is the HTTP-plumbing collaborator's job.
type GrantRequest struct {
	GrantType    string
	ClientCreds  clientsrv.ClientCredentials
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// IntrospectionResponse is the RFC 7662 response envelope. Only Active is
// populated when Active is false.
type IntrospectionResponse struct {
	Active      bool
	ClientID    string
	Username    string
	Scope       string
	TokenType   string
	Exp         int64
	Iat         int64
	Sub         string
	JTI         string
	Permissions []string
}

// Service implements the token engine.
type Service struct {
	clients       *clientsrv.Service
	codes         oauth.AuthorizationCodeRepository
	accessTokens  oauth.AccessTokenRepository
	refreshTokens oauth.RefreshTokenRepository
	blacklist     oauth.BlacklistRepository
	claims        *oauth.ClaimsBuilder
	users         account.UserRepository
	permissions   *rbacsrv.Service
}

func New(
	clients *clientsrv.Service,
	codes oauth.AuthorizationCodeRepository,
	accessTokens oauth.AccessTokenRepository,
	refreshTokens oauth.RefreshTokenRepository,
	blacklist oauth.BlacklistRepository,
	claims *oauth.ClaimsBuilder,
	users account.UserRepository,
	permissions *rbacsrv.Service,
) *Service {
	return &Service{
		clients: clients, codes: codes, accessTokens: accessTokens,
		refreshTokens: refreshTokens, blacklist: blacklist, claims: claims,
		users: users, permissions: permissions,
	}
}

// Token dispatches on GrantType.
func (s *Service) Token(ctx context.Context, req GrantRequest) (*Response, *oauth.OAuthError) {
	switch oauth.GrantType(req.GrantType) {
	case oauth.GrantAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, req)
	case oauth.GrantRefreshToken:
		return s.refreshGrant(ctx, req)
	case oauth.GrantClientCredentials:
		return s.clientCredentialsGrant(ctx, req)
	default:
		return nil, oauth.ErrUnsupportedGrantType("grant_type must be one of authorization_code, refresh_token, client_credentials")
	}
}

func (s *Service) exchangeAuthorizationCode(ctx context.Context, req GrantRequest) (*Response, *oauth.OAuthError) {
	client, err := s.clients.AuthenticateClient(ctx, req.ClientCreds)
	if err != nil {
		return nil, asOAuthError(err, oauth.ErrInvalidClient)
	}
	if verr := s.clients.ValidateGrantType(client, oauth.GrantAuthorizationCode); verr != nil {
		return nil, asOAuthError(verr, oauth.ErrUnauthorizedClient)
	}

	ac, cerr := s.codes.ConsumeAtomically(ctx, req.Code)
	if cerr != nil {
		return nil, oauth.ErrInvalidGrant("authorization code is invalid, expired, or already used")
	}
	if ac.IsExpired() {
		return nil, oauth.ErrInvalidGrant("authorization code has expired")
	}
	if ac.ClientID != client.ClientID {
		return nil, oauth.ErrInvalidGrant("authorization code was not issued to this client")
	}
	if ac.RedirectURI != req.RedirectURI {
		return nil, oauth.ErrInvalidGrant("redirect_uri does not match the one used to obtain the code")
	}
	if !crypto.VerifyPKCE(req.CodeVerifier, ac.CodeChallenge) {
		return nil, oauth.ErrInvalidGrant("code_verifier does not match code_challenge")
	}

	scopes := oauth.ParseScope(ac.Scope)
	userID := ac.UserID

	username, permNames := s.userClaims(ctx, &userID)

	accessToken, _, err := s.mintAccessToken(ctx, client, &userID, username, scopes, permNames)
	if err != nil {
		return nil, oauth.ErrServerError("failed to mint access token")
	}

	resp := &Response{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(effectiveAccessTTL(client).Seconds()),
		Scope:       oauth.JoinScope(scopes),
	}

	if containsScope(scopes, "offline_access") && client.AllowOfflineAccess {
		refreshToken, rerr := s.mintRefreshToken(ctx, client, &userID, scopes, nil)
		if rerr != nil {
			return nil, oauth.ErrServerError("failed to mint refresh token")
		}
		resp.RefreshToken = refreshToken
	}

	if containsScope(scopes, "openid") {
		idToken, ierr := s.mintIDToken(ctx, client, userID, ac.Nonce, username)
		if ierr != nil {
			return nil, oauth.ErrServerError("failed to mint id token")
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

func (s *Service) refreshGrant(ctx context.Context, req GrantRequest) (*Response, *oauth.OAuthError) {
	client, err := s.clients.AuthenticateClient(ctx, req.ClientCreds)
	if err != nil {
		return nil, asOAuthError(err, oauth.ErrInvalidClient)
	}
	if verr := s.clients.ValidateGrantType(client, oauth.GrantRefreshToken); verr != nil {
		return nil, asOAuthError(verr, oauth.ErrUnauthorizedClient)
	}

	parsed, perr := s.claims.VerifyRefreshToken(req.RefreshToken)
	if perr != nil {
		return nil, oauth.ErrInvalidGrant("refresh token is invalid or expired")
	}

	record, rerr := s.refreshTokens.FindByJTI(ctx, parsed.ID)
	if rerr != nil {
		return nil, oauth.ErrInvalidGrant("refresh token is unknown")
	}

	blacklisted, _ := s.blacklist.IsBlacklisted(ctx, record.JTI)
	if blacklisted || record.IsRevoked {
		s.revokeDescendant(ctx, record.JTI)
		return nil, oauth.ErrInvalidGrant("refresh token has already been used")
	}
	if record.IsExpired() {
		return nil, oauth.ErrInvalidGrant("refresh token has expired")
	}
	if record.ClientID != client.ClientID {
		return nil, oauth.ErrInvalidGrant("refresh token was not issued to this client")
	}

	grantedScopes := oauth.ParseScope(record.Scope)
	requested := oauth.ParseScope(req.Scope)
	scopes := grantedScopes
	if len(requested) > 0 {
		for _, r := range requested {
			if !containsScope(grantedScopes, r) {
				return nil, oauth.ErrInvalidScope("requested scope exceeds the scope originally granted")
			}
		}
		scopes = requested
	}

	username, permNames := s.userClaims(ctx, record.UserID)

	accessToken, _, aerr := s.mintAccessToken(ctx, client, record.UserID, username, scopes, permNames)
	if aerr != nil {
		return nil, oauth.ErrServerError("failed to mint access token")
	}

	newJTI, newToken, rtErr := s.buildRefreshToken(client, record.UserID, oauth.JoinScope(scopes))
	if rtErr != nil {
		return nil, oauth.ErrServerError("failed to mint refresh token")
	}
	previousID := record.JTI
	next := &oauth.RefreshTokenRecord{
		JTI:             newJTI,
		TokenHash:       oauth.GetTokenHash(newToken),
		UserID:          record.UserID,
		ClientID:        client.ClientID,
		Scope:           oauth.JoinScope(scopes),
		ExpiresAt:       time.Now().UTC().Add(effectiveRefreshTTL(client)),
		PreviousTokenID: &previousID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.refreshTokens.Rotate(ctx, record.JTI, next); err != nil {
		return nil, oauth.ErrServerError("failed to rotate refresh token")
	}
	if err := s.blacklist.Add(ctx, oauth.BlacklistEntry{JTI: record.JTI, TokenType: oauth.TokenTypeRefresh, ExpiresAt: record.ExpiresAt}); err != nil {
		return nil, oauth.ErrServerError("failed to blacklist rotated refresh token")
	}

	return &Response{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(effectiveAccessTTL(client).Seconds()),
		RefreshToken: newToken,
		Scope:        oauth.JoinScope(scopes),
	}, nil
}

// revokeDescendant handles replay of an already-rotated refresh token: the
// live end of the chain (the token rotation produced from oldJTI) is also
// revoked and blacklisted, treating the replay as token-family compromise.
func (s *Service) revokeDescendant(ctx context.Context, oldJTI string) {
	descendant, err := s.refreshTokens.FindByPreviousTokenID(ctx, oldJTI)
	if err != nil || descendant == nil || descendant.IsRevoked {
		return
	}
	_ = s.refreshTokens.Revoke(ctx, descendant.JTI)
	_ = s.blacklist.Add(ctx, oauth.BlacklistEntry{JTI: descendant.JTI, TokenType: oauth.TokenTypeRefresh, ExpiresAt: descendant.ExpiresAt})
}

func (s *Service) clientCredentialsGrant(ctx context.Context, req GrantRequest) (*Response, *oauth.OAuthError) {
	client, err := s.clients.AuthenticateClient(ctx, req.ClientCreds)
	if err != nil {
		return nil, asOAuthError(err, oauth.ErrInvalidClient)
	}
	if client.IsPublic() {
		return nil, oauth.ErrUnauthorizedClient("client_credentials requires a confidential client")
	}
	if verr := s.clients.ValidateGrantType(client, oauth.GrantClientCredentials); verr != nil {
		return nil, asOAuthError(verr, oauth.ErrUnauthorizedClient)
	}

	scopes, serr := s.clients.ValidateScopes(client, oauth.ParseScope(req.Scope))
	if serr != nil {
		return nil, asOAuthError(serr, oauth.ErrInvalidScope)
	}

	accessToken, _, merr := s.mintAccessToken(ctx, client, nil, "", scopes, nil)
	if merr != nil {
		return nil, oauth.ErrServerError("failed to mint access token")
	}

	return &Response{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(effectiveAccessTTL(client).Seconds()),
		Scope:       oauth.JoinScope(scopes),
	}, nil
}

// Introspect implements RFC 7662. The returned error is non-nil only when
// the resource-server client itself failed to authenticate; any problem
// with the presented token instead yields {Active:false} with a nil error,
// so callers never leak why a token is inactive.
func (s *Service) Introspect(ctx context.Context, rsCreds clientsrv.ClientCredentials, token string) (*IntrospectionResponse, *oauth.OAuthError) {
	if _, err := s.clients.AuthenticateClient(ctx, rsCreds); err != nil {
		return nil, asOAuthError(err, oauth.ErrInvalidClient)
	}

	if access, err := s.claims.VerifyAccessToken(token); err == nil {
		return s.introspectAccess(ctx, access), nil
	}
	if refresh, err := s.claims.VerifyRefreshToken(token); err == nil {
		return s.introspectRefresh(ctx, refresh), nil
	}
	return &IntrospectionResponse{Active: false}, nil
}

func (s *Service) introspectAccess(ctx context.Context, claims *oauth.AccessClaims) *IntrospectionResponse {
	inactive := &IntrospectionResponse{Active: false}

	blacklisted, _ := s.blacklist.IsBlacklisted(ctx, claims.ID)
	if blacklisted {
		return inactive
	}
	record, err := s.accessTokens.FindByJTI(ctx, claims.ID)
	if err != nil || record.IsExpired() {
		return inactive
	}
	if !s.subjectActive(ctx, record.UserID) {
		return inactive
	}

	return &IntrospectionResponse{
		Active:      true,
		ClientID:    claims.ClientID,
		Username:    claims.Username,
		Scope:       claims.Scope,
		TokenType:   "Bearer",
		Exp:         claims.ExpiresAt.Unix(),
		Iat:         claims.IssuedAt.Unix(),
		Sub:         claims.Subject,
		JTI:         claims.ID,
		Permissions: claims.Permissions,
	}
}

func (s *Service) introspectRefresh(ctx context.Context, claims *oauth.RefreshClaims) *IntrospectionResponse {
	inactive := &IntrospectionResponse{Active: false}

	blacklisted, _ := s.blacklist.IsBlacklisted(ctx, claims.ID)
	if blacklisted {
		return inactive
	}
	record, err := s.refreshTokens.FindByJTI(ctx, claims.ID)
	if err != nil || !record.IsUsable() {
		return inactive
	}
	if !s.subjectActive(ctx, record.UserID) {
		return inactive
	}

	return &IntrospectionResponse{
		Active:    true,
		ClientID:  claims.ClientID,
		Scope:     claims.Scope,
		TokenType: "refresh_token",
		Exp:       claims.ExpiresAt.Unix(),
		Iat:       claims.IssuedAt.Unix(),
		Sub:       claims.Subject,
		JTI:       claims.ID,
	}
}

func (s *Service) subjectActive(ctx context.Context, userID *kernel.UserID) bool {
	if userID == nil {
		return true // client_credentials token: no user subject to check
	}
	user, err := s.users.FindByID(ctx, *userID)
	if err != nil {
		return false
	}
	return user.IsActive
}

// Revoke implements RFC 7009: idempotent, always succeeds from the caller's
// perspective once the client itself authenticates, and only acts on tokens
// owned by that client.
func (s *Service) Revoke(ctx context.Context, creds clientsrv.ClientCredentials, token string) *oauth.OAuthError {
	client, err := s.clients.AuthenticateClient(ctx, creds)
	if err != nil {
		return asOAuthError(err, oauth.ErrInvalidClient)
	}

	if refresh, rerr := s.claims.VerifyRefreshToken(token); rerr == nil {
		record, ferr := s.refreshTokens.FindByJTI(ctx, refresh.ID)
		if ferr == nil && record.ClientID == client.ClientID {
			s.revokeRefreshCascade(ctx, record)
		}
		return nil
	}

	if access, aerr := s.claims.VerifyAccessToken(token); aerr == nil {
		if access.ClientID == client.ClientID.String() {
			_ = s.blacklist.Add(ctx, oauth.BlacklistEntry{JTI: access.ID, TokenType: oauth.TokenTypeAccess, ExpiresAt: access.ExpiresAt.Time})
		}
		return nil
	}

	return nil
}

func (s *Service) revokeRefreshCascade(ctx context.Context, record *oauth.RefreshTokenRecord) {
	_ = s.refreshTokens.Revoke(ctx, record.JTI)
	_ = s.blacklist.Add(ctx, oauth.BlacklistEntry{JTI: record.JTI, TokenType: oauth.TokenTypeRefresh, ExpiresAt: record.ExpiresAt})

	active, err := s.accessTokens.FindActiveByUserClient(ctx, record.UserID, record.ClientID)
	if err != nil {
		return
	}
	entries := make([]oauth.BlacklistEntry, len(active))
	for i, at := range active {
		entries[i] = oauth.BlacklistEntry{JTI: at.JTI, TokenType: oauth.TokenTypeAccess, ExpiresAt: at.ExpiresAt}
	}
	if len(entries) > 0 {
		_ = s.blacklist.BulkAdd(ctx, entries)
	}
}

func (s *Service) userClaims(ctx context.Context, userID *kernel.UserID) (username string, permissionNames []string) {
	if userID == nil || userID.IsEmpty() {
		return "", nil
	}
	if user, err := s.users.FindByID(ctx, *userID); err == nil {
		username = user.Username
	}
	if s.permissions != nil {
		if names, err := s.permissions.EffectivePermissionNames(ctx, *userID); err == nil {
			permissionNames = names
		}
	}
	return username, permissionNames
}

func (s *Service) mintAccessToken(ctx context.Context, client *oauth.Client, userID *kernel.UserID, username string, scopes, permissions []string) (token, jti string, err error) {
	jti, err = crypto.RandomToken(jtiLength)
	if err != nil {
		return "", "", err
	}

	subject := client.ClientID.String()
	if userID != nil && !userID.IsEmpty() {
		subject = userID.String()
	}

	token, err = s.claims.MintAccessToken(jti, subject, client.ClientID.String(), username, oauth.JoinScope(scopes), permissions, effectiveAccessTTL(client))
	if err != nil {
		return "", "", err
	}

	record := &oauth.AccessTokenRecord{
		JTI:       jti,
		TokenHash: oauth.GetTokenHash(token),
		UserID:    userID,
		ClientID:  client.ClientID,
		Scope:     oauth.JoinScope(scopes),
		ExpiresAt: time.Now().UTC().Add(effectiveAccessTTL(client)),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.accessTokens.Save(ctx, record); err != nil {
		return "", "", err
	}
	return token, jti, nil
}

func (s *Service) mintRefreshToken(ctx context.Context, client *oauth.Client, userID *kernel.UserID, scopes []string, previousTokenID *string) (string, error) {
	jti, token, err := s.buildRefreshToken(client, userID, oauth.JoinScope(scopes))
	if err != nil {
		return "", err
	}
	record := &oauth.RefreshTokenRecord{
		JTI:             jti,
		TokenHash:       oauth.GetTokenHash(token),
		UserID:          userID,
		ClientID:        client.ClientID,
		Scope:           oauth.JoinScope(scopes),
		ExpiresAt:       time.Now().UTC().Add(effectiveRefreshTTL(client)),
		PreviousTokenID: previousTokenID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.refreshTokens.Save(ctx, record); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) buildRefreshToken(client *oauth.Client, userID *kernel.UserID, scope string) (jti, token string, err error) {
	jti, err = crypto.RandomToken(jtiLength)
	if err != nil {
		return "", "", err
	}
	subject := client.ClientID.String()
	if userID != nil && !userID.IsEmpty() {
		subject = userID.String()
	}
	token, err = s.claims.MintRefreshToken(jti, subject, client.ClientID.String(), scope, effectiveRefreshTTL(client))
	if err != nil {
		return "", "", err
	}
	return jti, token, nil
}

func (s *Service) mintIDToken(ctx context.Context, client *oauth.Client, userID kernel.UserID, nonce, username string) (string, error) {
	jti, err := crypto.RandomToken(jtiLength)
	if err != nil {
		return "", err
	}
	var email string
	if user, err := s.users.FindByID(ctx, userID); err == nil && user.Email != nil {
		email = *user.Email
	}
	return s.claims.MintIDToken(jti, userID.String(), client.ClientID.String(), nonce, username, email, time.Now().UTC(), effectiveAccessTTL(client))
}

func effectiveAccessTTL(client *oauth.Client) time.Duration {
	if client.AccessTokenTTL > 0 {
		return client.AccessTokenTTL
	}
	return 15 * time.Minute
}

func effectiveRefreshTTL(client *oauth.Client) time.Duration {
	if client.RefreshTokenTTL > 0 {
		return client.RefreshTokenTTL
	}
	return 30 * 24 * time.Hour
}

func containsScope(scopes []string, name string) bool {
	for _, s := range scopes {
		if s == name {
			return true
		}
	}
	return false
}

// asOAuthError passes through an already-typed OAuthError, or falls back to
// wrapping with fallback's wire vocabulary for an error originating outside
// this package's own constructors.
func asOAuthError(err error, fallback func(string) *oauth.OAuthError) *oauth.OAuthError {
	if oe, ok := err.(*oauth.OAuthError); ok {
		return oe
	}
	return fallback(err.Error())
}
