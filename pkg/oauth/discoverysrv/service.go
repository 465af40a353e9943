// Package discoverysrv assembles the OIDC discovery document and the JWKS
// public-key set.
package discoverysrv

import (
	"encoding/base64"
	"math/big"

	"github.com/Abraxas-365/manifesto/pkg/crypto"
)

// Metadata is the `.well-known/openid-configuration` response body.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// JWK is a single public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the `/.well-known/jwks.json` response body.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Service assembles discovery metadata and the JWKS document around a
// process-lifetime key pair.
type Service struct {
	issuer   string
	keyPair  *crypto.KeyPair
	scopes   []string
	basePath string
}

func New(issuer string, keyPair *crypto.KeyPair, scopes []string, basePath string) *Service {
	return &Service{issuer: issuer, keyPair: keyPair, scopes: scopes, basePath: basePath}
}

// Metadata builds the discovery document.
func (s *Service) Metadata() Metadata {
	return Metadata{
		Issuer:                            s.issuer,
		AuthorizationEndpoint:             s.basePath + "/authorize",
		TokenEndpoint:                     s.basePath + "/token",
		UserinfoEndpoint:                  s.basePath + "/userinfo",
		JWKSURI:                           s.basePath + "/.well-known/jwks.json",
		IntrospectionEndpoint:             s.basePath + "/introspect",
		RevocationEndpoint:                s.basePath + "/revoke",
		ScopesSupported:                   s.scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token", "client_credentials"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{string(s.keyPair.Alg)},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
}

// JWKS renders the process's public key in JWK form.
func (s *Service) JWKS() JWKS {
	switch s.keyPair.Alg {
	case crypto.AlgRS256:
		pub := s.keyPair.RSAPublic
		return JWKS{Keys: []JWK{{
			Kty: "RSA",
			Use: "sig",
			Alg: string(crypto.AlgRS256),
			Kid: s.keyPair.KID,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(bigEndianBytes(big.NewInt(int64(pub.E)))),
		}}}
	case crypto.AlgES256:
		pub := s.keyPair.ECPublic
		return JWKS{Keys: []JWK{{
			Kty: "EC",
			Use: "sig",
			Alg: string(crypto.AlgES256),
			Kid: s.keyPair.KID,
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
			Y:   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
		}}}
	default:
		return JWKS{}
	}
}

func bigEndianBytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}
