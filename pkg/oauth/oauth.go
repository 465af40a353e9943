// Package oauth implements the protocol engines of the authorization
// server: client authentication and validation, the authorization code +
// PKCE flow, the token lifecycle (mint, rotate, introspect, revoke), and
// discovery/JWKS. Persistence is abstracted behind the *Repository ports
// defined alongside each domain type; concrete implementations live in the
// sibling *infra packages.
package oauth

import "github.com/Abraxas-365/manifesto/pkg/errx"

// ErrRegistry is the errx registry for every OAuth protocol error. A single
// registry (rather than one per sub-package) keeps the RFC 6749 error codes
// in one place, since the wire-level `error` string is shared vocabulary
// across client auth, authorize, and token handling, not a concern private
// to any one of them.
var ErrRegistry = errx.NewRegistry("OAUTH")

var (
	CodeInvalidRequest       = ErrRegistry.Register("INVALID_REQUEST", errx.TypeValidation, 400, "invalid_request")
	CodeInvalidClient        = ErrRegistry.Register("INVALID_CLIENT", errx.TypeAuthorization, 401, "invalid_client")
	CodeInvalidGrant         = ErrRegistry.Register("INVALID_GRANT", errx.TypeValidation, 400, "invalid_grant")
	CodeInvalidScope         = ErrRegistry.Register("INVALID_SCOPE", errx.TypeValidation, 400, "invalid_scope")
	CodeUnauthorizedClient   = ErrRegistry.Register("UNAUTHORIZED_CLIENT", errx.TypeAuthorization, 401, "unauthorized_client")
	CodeUnsupportedGrantType = ErrRegistry.Register("UNSUPPORTED_GRANT_TYPE", errx.TypeValidation, 400, "unsupported_grant_type")
	CodeUnsupportedRespType  = ErrRegistry.Register("UNSUPPORTED_RESPONSE_TYPE", errx.TypeValidation, 400, "unsupported_response_type")
	CodeAccessDenied         = ErrRegistry.Register("ACCESS_DENIED", errx.TypeAuthorization, 403, "access_denied")
	CodeLoginRequired        = ErrRegistry.Register("LOGIN_REQUIRED", errx.TypeAuthorization, 401, "login_required")
	CodeConsentRequired      = ErrRegistry.Register("CONSENT_REQUIRED", errx.TypeAuthorization, 401, "consent_required")
	CodeServerError          = ErrRegistry.Register("SERVER_ERROR", errx.TypeInternal, 500, "server_error")
	CodeTemporarilyUnavail   = ErrRegistry.Register("TEMPORARILY_UNAVAILABLE", errx.TypeBusiness, 429, "temporarily_unavailable")
)

// OAuthError carries the RFC 6749 wire vocabulary (error + error_description)
// alongside the structured errx.Error so HTTP plumbing can render either
// envelope shape without re-deriving protocol semantics.
type OAuthError struct {
	*errx.Error
	ErrorCode   string // RFC 6749 "error" value, e.g. "invalid_grant"
	Description string
}

func newOAuthError(code *errx.ErrorCode, description string) *OAuthError {
	return &OAuthError{
		Error:       ErrRegistry.NewWithMessage(code, description),
		ErrorCode:   code.Message, // Message holds the RFC 6749 token, e.g. "invalid_grant"
		Description: description,
	}
}

func ErrInvalidRequest(description string) *OAuthError { return newOAuthError(CodeInvalidRequest, description) }
func ErrInvalidClient(description string) *OAuthError  { return newOAuthError(CodeInvalidClient, description) }
func ErrInvalidGrant(description string) *OAuthError   { return newOAuthError(CodeInvalidGrant, description) }
func ErrInvalidScope(description string) *OAuthError   { return newOAuthError(CodeInvalidScope, description) }
func ErrUnauthorizedClient(description string) *OAuthError {
	return newOAuthError(CodeUnauthorizedClient, description)
}
func ErrUnsupportedGrantType(description string) *OAuthError {
	return newOAuthError(CodeUnsupportedGrantType, description)
}
func ErrUnsupportedResponseType(description string) *OAuthError {
	return newOAuthError(CodeUnsupportedRespType, description)
}
func ErrAccessDenied(description string) *OAuthError    { return newOAuthError(CodeAccessDenied, description) }
func ErrLoginRequired(description string) *OAuthError    { return newOAuthError(CodeLoginRequired, description) }
func ErrConsentRequired(description string) *OAuthError  { return newOAuthError(CodeConsentRequired, description) }
func ErrServerError(description string) *OAuthError      { return newOAuthError(CodeServerError, description) }
func ErrTemporarilyUnavailable(description string) *OAuthError {
	return newOAuthError(CodeTemporarilyUnavail, description)
}

// ClientType distinguishes confidential clients (hold a secret) from public
// clients (cannot keep a secret, e.g. native/SPA apps; MUST use PKCE).
type ClientType string

const (
	ClientConfidential ClientType = "CONFIDENTIAL"
	ClientPublic       ClientType = "PUBLIC"
)

// TokenEndpointAuthMethod is how a client authenticates at the token endpoint.
type TokenEndpointAuthMethod string

const (
	AuthMethodBasic TokenEndpointAuthMethod = "client_secret_basic"
	AuthMethodPost  TokenEndpointAuthMethod = "client_secret_post"
	AuthMethodNone  TokenEndpointAuthMethod = "none"
)

// GrantType enumerates the grant types this engine dispatches on.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// ResponseType enumerates the response types accepted at /authorize. Only
// the code flow is supported; implicit and hybrid flows are not offered.
type ResponseType string

const ResponseTypeCode ResponseType = "code"

// CodeChallengeMethod enumerates supported PKCE transforms. Only S256 is
// accepted; "plain" is rejected at validation time.
type CodeChallengeMethod string

const CodeChallengeMethodS256 CodeChallengeMethod = "S256"

// TokenType distinguishes access tokens from refresh tokens for blacklist
// and introspection bookkeeping.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)
