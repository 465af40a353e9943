// Package crypto provides the signing, hashing, and randomness primitives
// the rest of the authorization server is built on: asymmetric JWS signing
// with a pinned algorithm, PKCE S256 verification, password hashing, and
// CSPRNG token generation.
package crypto

import "github.com/Abraxas-365/manifesto/pkg/errx"

var registry = errx.NewRegistry("CRYPTO")

var (
	CodeInvalidKey        = registry.Register("INVALID_KEY", errx.TypeInternal, 500, "invalid signing key material")
	CodeUnsupportedAlg    = registry.Register("UNSUPPORTED_ALG", errx.TypeInternal, 500, "unsupported signing algorithm")
	CodeSignFailed        = registry.Register("SIGN_FAILED", errx.TypeInternal, 500, "failed to sign token")
	CodeVerifyFailed      = registry.Register("VERIFY_FAILED", errx.TypeAuthorization, 401, "token verification failed")
	CodeAlgNotAllowed     = registry.Register("ALG_NOT_ALLOWED", errx.TypeAuthorization, 401, "token signing algorithm is not allowed")
	CodeIssuerMismatch    = registry.Register("ISSUER_MISMATCH", errx.TypeAuthorization, 401, "token issuer does not match")
	CodeAudienceMismatch  = registry.Register("AUDIENCE_MISMATCH", errx.TypeAuthorization, 401, "token audience does not match")
	CodeTokenExpired      = registry.Register("TOKEN_EXPIRED", errx.TypeAuthorization, 401, "token has expired")
	CodeTokenNotYetValid  = registry.Register("TOKEN_NOT_YET_VALID", errx.TypeAuthorization, 401, "token is not yet valid")
	CodeMalformedToken    = registry.Register("MALFORMED_TOKEN", errx.TypeAuthorization, 401, "token is malformed")
	CodeWeakPassword      = registry.Register("WEAK_PASSWORD_HASH", errx.TypeInternal, 500, "password hashing failed")
)

func ErrInvalidKey(cause error) *errx.Error       { return registry.NewWithCause(CodeInvalidKey, cause) }
func ErrUnsupportedAlg(alg string) *errx.Error {
	return registry.New(CodeUnsupportedAlg).WithDetail("alg", alg)
}
func ErrSignFailed(cause error) *errx.Error  { return registry.NewWithCause(CodeSignFailed, cause) }
func ErrVerifyFailed(cause error) *errx.Error {
	return registry.NewWithCause(CodeVerifyFailed, cause)
}
func ErrAlgNotAllowed(alg string) *errx.Error {
	return registry.New(CodeAlgNotAllowed).WithDetail("alg", alg)
}
func ErrIssuerMismatch() *errx.Error   { return registry.New(CodeIssuerMismatch) }
func ErrAudienceMismatch() *errx.Error { return registry.New(CodeAudienceMismatch) }
func ErrTokenExpired() *errx.Error     { return registry.New(CodeTokenExpired) }
func ErrTokenNotYetValid() *errx.Error { return registry.New(CodeTokenNotYetValid) }
func ErrMalformedToken(cause error) *errx.Error {
	return registry.NewWithCause(CodeMalformedToken, cause)
}
func ErrHashFailed(cause error) *errx.Error { return registry.NewWithCause(CodeWeakPassword, cause) }
