// Package clientsrv implements client resolution, authentication, and
// request validation (redirect URI, grant type, response type, scopes).
package clientsrv

import (
	"context"

	"github.com/Abraxas-365/manifesto/pkg/crypto"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
)

// CredentialSource is the mechanism a caller presented client credentials
// through. The HTTP-plumbing collaborator is responsible for extracting
// these from the request (Basic auth header or form body) before calling
// into this service - no net/http or fiber types appear in this package.
type CredentialSource string

const (
	SourceBasic CredentialSource = "basic"
	SourcePost  CredentialSource = "post"
	SourceNone  CredentialSource = "none"
)

// ClientCredentials is the pre-extracted, mechanism-tagged credential bundle
// for a single client-authentication attempt.
type ClientCredentials struct {
	Source       CredentialSource
	ClientID     kernel.ClientID
	ClientSecret string
}

// Service implements client authentication and request validation rules.
type Service struct {
	clients oauth.ClientRepository
}

func New(clients oauth.ClientRepository) *Service {
	return &Service{clients: clients}
}

// AuthenticateClient resolves and authenticates a client from credentials
// the caller has already extracted: reject if their mechanism is not in the
// client's allowed tokenEndpointAuthMethod, and for confidential clients
// verify the secret in constant time.
func (s *Service) AuthenticateClient(ctx context.Context, creds ClientCredentials) (*oauth.Client, error) {
	if creds.ClientID.IsEmpty() {
		return nil, oauth.ErrInvalidRequest("client_id is required")
	}

	client, err := s.clients.FindByClientID(ctx, creds.ClientID)
	if err != nil {
		return nil, oauth.ErrInvalidClient("unknown client")
	}
	if !client.IsActive {
		return nil, oauth.ErrInvalidClient("client is not active")
	}

	if !authMethodAllowed(client, creds.Source) {
		return nil, oauth.ErrInvalidClient("authentication method not allowed for this client")
	}

	switch {
	case client.IsPublic():
		// Public clients present client_id only; no secret to verify.
		return client, nil
	default:
		if creds.ClientSecret == "" {
			return nil, oauth.ErrInvalidClient("client_secret is required")
		}
		if !crypto.VerifyPassword(client.ClientSecretHash, creds.ClientSecret) {
			return nil, oauth.ErrInvalidClient("client authentication failed")
		}
		return client, nil
	}
}

func authMethodAllowed(client *oauth.Client, source CredentialSource) bool {
	switch source {
	case SourceBasic:
		return client.TokenEndpointAuthMethod == oauth.AuthMethodBasic
	case SourcePost:
		return client.TokenEndpointAuthMethod == oauth.AuthMethodPost
	case SourceNone:
		return client.TokenEndpointAuthMethod == oauth.AuthMethodNone
	default:
		return false
	}
}

// ResolvePublicClient looks up a client without authenticating a secret,
// used by /authorize where only client_id is presented.
func (s *Service) ResolvePublicClient(ctx context.Context, clientID kernel.ClientID) (*oauth.Client, error) {
	client, err := s.clients.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, oauth.ErrInvalidClient("unknown client")
	}
	if !client.IsActive {
		return nil, oauth.ErrInvalidClient("client is not active")
	}
	return client, nil
}

// ValidateRedirectURI requires an exact string match: even a trailing
// slash difference fails.
func (s *Service) ValidateRedirectURI(client *oauth.Client, uri string) error {
	if uri == "" || !client.HasRedirectURI(uri) {
		return oauth.ErrInvalidRequest("redirect_uri does not match a registered URI")
	}
	return nil
}

// ValidateScopes requires every requested scope to be in the client's
// allowed set; an empty requested set defaults to the client's full set.
func (s *Service) ValidateScopes(client *oauth.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return client.AllowedScopes, nil
	}
	for _, scope := range requested {
		if !client.AllowsScope(scope) {
			return nil, oauth.ErrInvalidScope("scope " + scope + " is not allowed for this client")
		}
	}
	return requested, nil
}

// ValidateGrantType requires the grant to be in the client's allowed set.
func (s *Service) ValidateGrantType(client *oauth.Client, grant oauth.GrantType) error {
	if !client.SupportsGrant(grant) {
		return oauth.ErrUnauthorizedClient("client is not authorized for this grant type")
	}
	return nil
}

// ValidateResponseType requires response_type=code; nothing else is offered.
func (s *Service) ValidateResponseType(rt string) error {
	if oauth.ResponseType(rt) != oauth.ResponseTypeCode {
		return oauth.ErrUnsupportedResponseType("only response_type=code is supported")
	}
	return nil
}

// ValidatePKCERequirement enforces that public clients (and any client with
// RequirePKCE) present a well-formed S256 challenge.
func (s *Service) ValidatePKCERequirement(client *oauth.Client, challenge, method string) error {
	if !client.RequirePKCE && !client.IsPublic() {
		return nil
	}
	if challenge == "" {
		return oauth.ErrInvalidRequest("code_challenge is required")
	}
	if oauth.CodeChallengeMethod(method) != oauth.CodeChallengeMethodS256 {
		return oauth.ErrInvalidRequest("code_challenge_method must be S256")
	}
	return nil
}
