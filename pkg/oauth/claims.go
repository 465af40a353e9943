package oauth

import (
	"time"

	"github.com/Abraxas-365/manifesto/pkg/crypto"
	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the typed claim set minted into access tokens and
// client_credentials tokens: standard jwt.RegisteredClaims plus the client
// id, the optional username, the granted scope and the permission names.
type AccessClaims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	Username    string   `json:"username,omitempty"`
	Scope       string   `json:"scope"`
	Permissions []string `json:"permissions,omitempty"`
}

// RefreshClaims is the typed claim set minted into refresh tokens.
type RefreshClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// IDClaims is the typed claim set minted into OpenID Connect ID tokens.
type IDClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"azp"`
	Nonce    string `json:"nonce,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ClaimsBuilder mints standard-claims-compliant tokens and verifies them
// against a fixed issuer/audience, rejecting anything that fails signature,
// expiry, issuer, or audience checks. It is the sole place `jti`/`iss`/`aud`/
// `exp` are assembled, so every token kind is consistent by construction.
type ClaimsBuilder struct {
	signer   *crypto.Signer
	issuer   string
	audience string
}

// NewClaimsBuilder builds a codec around a process-lifetime signer.
func NewClaimsBuilder(signer *crypto.Signer, issuer, audience string) *ClaimsBuilder {
	return &ClaimsBuilder{signer: signer, issuer: issuer, audience: audience}
}

// MintAccessToken signs an access token (or a client_credentials token when
// userID is empty, per subject = client_id in that grant).
func (b *ClaimsBuilder) MintAccessToken(jti, subject, clientID, username, scope string, permissions []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Audience:  jwt.ClaimStrings{b.audience},
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ClientID:    clientID,
		Username:    username,
		Scope:       scope,
		Permissions: permissions,
	}
	return b.signer.Sign(claims)
}

// MintRefreshToken signs a refresh token.
func (b *ClaimsBuilder) MintRefreshToken(jti, subject, clientID, scope string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Audience:  jwt.ClaimStrings{b.audience},
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ClientID: clientID,
		Scope:    scope,
	}
	return b.signer.Sign(claims)
}

// MintIDToken signs an OpenID Connect ID token.
func (b *ClaimsBuilder) MintIDToken(jti, subject, clientID, nonce, username, email string, authTime time.Time, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &IDClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Audience:  jwt.ClaimStrings{clientID},
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ClientID: clientID,
		Nonce:    nonce,
		AuthTime: authTime.Unix(),
		Username: username,
		Email:    email,
	}
	return b.signer.Sign(claims)
}

// VerifyAccessToken verifies and decodes an access token, enforcing issuer
// and audience in addition to whatever the signer's alg allow-list already
// enforces.
func (b *ClaimsBuilder) VerifyAccessToken(token string) (*AccessClaims, error) {
	parsed, err := b.signer.Verify(token, func() jwt.Claims { return &AccessClaims{} })
	if err != nil {
		return nil, err
	}
	claims := parsed.(*AccessClaims)
	if err := b.checkIssuerAudience(claims.Issuer, claims.Audience); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefreshToken verifies and decodes a refresh token.
func (b *ClaimsBuilder) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	parsed, err := b.signer.Verify(token, func() jwt.Claims { return &RefreshClaims{} })
	if err != nil {
		return nil, err
	}
	claims := parsed.(*RefreshClaims)
	if err := b.checkIssuerAudience(claims.Issuer, claims.Audience); err != nil {
		return nil, err
	}
	return claims, nil
}

func (b *ClaimsBuilder) checkIssuerAudience(issuer string, audience jwt.ClaimStrings) error {
	if issuer != b.issuer {
		return crypto.ErrIssuerMismatch()
	}
	for _, a := range audience {
		if a == b.audience {
			return nil
		}
	}
	return crypto.ErrAudienceMismatch()
}

// GetTokenHash returns the digest stored in place of the raw token value.
func GetTokenHash(token string) string {
	return crypto.HashToken(token)
}
