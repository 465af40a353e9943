// Package authorizesrv implements the GET /authorize state machine -
// parameter validation, session check, consent resolution, and PKCE-bound
// code issuance.
package authorizesrv

import (
	"context"
	"net/url"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/crypto"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/Abraxas-365/manifesto/pkg/oauth/clientsrv"
)

// Request is the pre-parsed set of /authorize query parameters. Parsing the
// raw query string is the HTTP-plumbing collaborator's job; this package
// only ever sees typed values.
type Request struct {
	ClientID            kernel.ClientID
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	SessionID           string // empty if the caller has no session cookie
}

// DecisionKind tags the variant of AuthorizeDecision, modeling the
// typed-record-per-outcome guidance instead of an open map.
type DecisionKind int

const (
	DecisionRedirect DecisionKind = iota
	DecisionLoginRequired
	DecisionConsentRequired
	DecisionError
)

// Decision is the sealed result of Authorize. Exactly the fields relevant to
// Kind are populated.
type Decision struct {
	Kind DecisionKind

	// DecisionRedirect: the location to send the user-agent to (success).
	RedirectURL string

	// DecisionLoginRequired: where to send the user to authenticate,
	// preserving the full original authorize URL to return to afterward.
	LoginReturnURL string

	// DecisionConsentRequired: what the consent screen must render.
	ConsentClientID kernel.ClientID
	ConsentScopes   []string

	// DecisionError: JSONError is true when the error must be returned as
	// JSON 400 rather than a redirect (missing/invalid redirect_uri, to
	// avoid open-redirect); otherwise ErrorRedirectURL carries the
	// error-bearing redirect, with state echoed if present.
	Err              *oauth.OAuthError
	JSONError        bool
	ErrorRedirectURL string
}

// Service implements the authorize state machine.
type Service struct {
	clients  *clientsrv.Service
	sessions account.SessionRepository
	consents oauth.ConsentRepository
	codes    oauth.AuthorizationCodeRepository
}

func New(clients *clientsrv.Service, sessions account.SessionRepository, consents oauth.ConsentRepository, codes oauth.AuthorizationCodeRepository) *Service {
	return &Service{clients: clients, sessions: sessions, consents: consents, codes: codes}
}

// Authorize runs the authorize state machine to completion for a single request.
func (s *Service) Authorize(ctx context.Context, req Request) Decision {
	if req.ClientID.IsEmpty() || req.RedirectURI == "" {
		return Decision{Kind: DecisionError, JSONError: true, Err: oauth.ErrInvalidRequest("client_id and redirect_uri are required")}
	}

	client, err := s.clients.ResolvePublicClient(ctx, req.ClientID)
	if err != nil {
		return Decision{Kind: DecisionError, JSONError: true, Err: oauth.ErrInvalidClient("unknown or inactive client")}
	}

	if verr := s.clients.ValidateRedirectURI(client, req.RedirectURI); verr != nil {
		// An invalid redirect_uri is always a JSON error, never a redirect,
		// to avoid turning this endpoint into an open redirector.
		return Decision{Kind: DecisionError, JSONError: true, Err: oauth.ErrInvalidRequest("redirect_uri does not match a registered URI")}
	}

	if rerr := s.clients.ValidateResponseType(req.ResponseType); rerr != nil {
		return s.errorRedirect(req, oauth.ErrUnsupportedResponseType("only response_type=code is supported"))
	}

	if perr := s.clients.ValidatePKCERequirement(client, req.CodeChallenge, req.CodeChallengeMethod); perr != nil {
		return s.errorRedirect(req, oauth.ErrInvalidRequest("PKCE challenge is required and must use S256"))
	}

	scopes, serr := s.clients.ValidateScopes(client, oauth.ParseScope(req.Scope))
	if serr != nil {
		return s.errorRedirect(req, oauth.ErrInvalidScope("one or more requested scopes are not allowed for this client"))
	}

	session, sessionErr := s.resolveSession(ctx, req.SessionID)
	if sessionErr != nil {
		return Decision{Kind: DecisionLoginRequired, LoginReturnURL: authorizeURL(req)}
	}

	grant, _ := s.consents.Find(ctx, session.UserID, req.ClientID)
	if client.RequireConsent && !grant.Covers(scopes) {
		return Decision{Kind: DecisionConsentRequired, ConsentClientID: req.ClientID, ConsentScopes: scopes}
	}

	code, mintErr := s.mintCode(ctx, client, session.UserID, req, scopes)
	if mintErr != nil {
		return s.errorRedirect(req, oauth.ErrServerError("failed to issue authorization code"))
	}

	return Decision{Kind: DecisionRedirect, RedirectURL: successRedirect(req.RedirectURI, code, req.State)}
}

func (s *Service) resolveSession(ctx context.Context, sessionID string) (*account.UserSession, error) {
	if sessionID == "" {
		return nil, oauth.ErrLoginRequired("no session")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil || !session.IsValid() {
		return nil, oauth.ErrLoginRequired("session expired")
	}
	return session, nil
}

func (s *Service) mintCode(ctx context.Context, client *oauth.Client, userID kernel.UserID, req Request, scopes []string) (string, error) {
	code, err := crypto.RandomToken(32)
	if err != nil {
		return "", err
	}

	lifetime := client.AuthorizationCodeLifetime
	if lifetime <= 0 {
		lifetime = oauth.DefaultAuthorizationCodeLifetime
	}

	ac := &oauth.AuthorizationCode{
		Code:                code,
		UserID:              userID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               oauth.JoinScope(scopes),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: oauth.CodeChallengeMethodS256,
		Nonce:               req.Nonce,
		ExpiresAt:           time.Now().UTC().Add(lifetime),
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.codes.Save(ctx, ac); err != nil {
		return "", err
	}
	return code, nil
}

// errorRedirect builds a DecisionError that carries a redirect URL with the
// error encoded as query parameters and state echoed: state is echoed on
// every error redirect once redirect_uri has already been validated.
func (s *Service) errorRedirect(req Request, oerr *oauth.OAuthError) Decision {
	u, _ := url.Parse(req.RedirectURI)
	q := u.Query()
	q.Set("error", oerr.ErrorCode)
	q.Set("error_description", oerr.Description)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()
	return Decision{Kind: DecisionError, JSONError: false, Err: oerr, ErrorRedirectURL: u.String()}
}

func successRedirect(redirectURI, code, state string) string {
	u, _ := url.Parse(redirectURI)
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// authorizeURL reconstructs the original authorize URL so the login page can
// return the user to it after authentication.
func authorizeURL(req Request) string {
	q := url.Values{}
	q.Set("client_id", req.ClientID.String())
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("response_type", req.ResponseType)
	q.Set("scope", req.Scope)
	if req.State != "" {
		q.Set("state", req.State)
	}
	if req.CodeChallenge != "" {
		q.Set("code_challenge", req.CodeChallenge)
		q.Set("code_challenge_method", req.CodeChallengeMethod)
	}
	if req.Nonce != "" {
		q.Set("nonce", req.Nonce)
	}
	return "/authorize?" + q.Encode()
}
