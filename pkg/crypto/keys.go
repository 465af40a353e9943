package crypto

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
)

// KeyAlg identifies which asymmetric family a signing key belongs to.
type KeyAlg string

const (
	AlgRS256 KeyAlg = "RS256"
	AlgES256 KeyAlg = "ES256"
)

// KeyPair wraps an asymmetric signing key pair with the metadata the token
// codec and JWKS endpoint need: which algorithm it signs with and a stable
// key id derived from the public key material.
type KeyPair struct {
	Alg        KeyAlg
	KID        string
	RSAPrivate *rsa.PrivateKey
	RSAPublic  *rsa.PublicKey
	ECPrivate  *ecdsa.PrivateKey
	ECPublic   *ecdsa.PublicKey
}

// LoadRSAKeyPair parses a PEM-encoded PKCS#1 or PKCS#8 RSA private key.
// Keys smaller than 2048 bits are rejected.
func LoadRSAKeyPair(pemBytes []byte) (*KeyPair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey(nil)
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, ErrInvalidKey(err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidKey(nil)
		}
		priv = rsaKey
	}

	if priv.N.BitLen() < 2048 {
		return nil, ErrInvalidKey(nil).WithDetail("reason", "rsa key smaller than 2048 bits")
	}

	return &KeyPair{
		Alg:        AlgRS256,
		KID:        deriveKID(&priv.PublicKey),
		RSAPrivate: priv,
		RSAPublic:  &priv.PublicKey,
	}, nil
}

// LoadECKeyPair parses a PEM-encoded SEC1 or PKCS#8 EC P-256 private key.
func LoadECKeyPair(pemBytes []byte) (*KeyPair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey(nil)
	}

	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, ErrInvalidKey(err)
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidKey(nil)
		}
		priv = ecKey
	}

	if priv.Curve.Params().BitSize != 256 {
		return nil, ErrInvalidKey(nil).WithDetail("reason", "only P-256 is supported")
	}

	return &KeyPair{
		Alg:       AlgES256,
		KID:       deriveKID(&priv.PublicKey),
		ECPrivate: priv,
		ECPublic:  &priv.PublicKey,
	}, nil
}

// deriveKID derives a stable, deterministic key id from the DER encoding of
// a public key so that restarts against the same key material keep the same
// kid without a persisted key registry.
func deriveKID(pub any) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "default"
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
