package discoverysrv

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/Abraxas-365/manifesto/pkg/crypto"
)

func generateTestRSAKeyPair(t *testing.T) *crypto.KeyPair {
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

func TestMetadataEndpointsUseBasePath(t *testing.T) {
	kp := generateTestRSAKeyPair(t)
	svc := New("https://auth.example.com", kp, []string{"openid", "profile"}, "https://auth.example.com")

	md := svc.Metadata()
	if md.Issuer != "https://auth.example.com" {
		t.Fatalf("unexpected issuer: %q", md.Issuer)
	}
	if md.AuthorizationEndpoint != "https://auth.example.com/authorize" {
		t.Fatalf("unexpected authorization_endpoint: %q", md.AuthorizationEndpoint)
	}
	if md.TokenEndpoint != "https://auth.example.com/token" {
		t.Fatalf("unexpected token_endpoint: %q", md.TokenEndpoint)
	}
	if md.JWKSURI != "https://auth.example.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks_uri: %q", md.JWKSURI)
	}
	if len(md.ScopesSupported) != 2 {
		t.Fatalf("expected scopes_supported to echo the configured scopes, got %v", md.ScopesSupported)
	}
	if md.CodeChallengeMethodsSupported[0] != "S256" {
		t.Fatal("expected only S256 to be advertised as a supported PKCE method")
	}
}

func TestJWKSRendersRSAKey(t *testing.T) {
	kp := generateTestRSAKeyPair(t)
	svc := New("https://auth.example.com", kp, nil, "https://auth.example.com")

	jwks := svc.JWKS()
	if len(jwks.Keys) != 1 {
		t.Fatalf("expected exactly one key, got %d", len(jwks.Keys))
	}
	key := jwks.Keys[0]
	if key.Kty != "RSA" || key.Alg != "RS256" {
		t.Fatalf("unexpected key shape: %+v", key)
	}
	if key.N == "" || key.E == "" {
		t.Fatal("expected modulus and exponent to be populated for an RSA key")
	}
	if key.Kid != kp.KID {
		t.Fatalf("expected kid to match the key pair's kid, got %q want %q", key.Kid, kp.KID)
	}
}
