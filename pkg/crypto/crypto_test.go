package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

type testClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

func generateTestRSAKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	kp, err := LoadRSAKeyPair(pem.EncodeToMemory(block))
	if err != nil {
		t.Fatalf("load rsa key pair: %v", err)
	}
	return kp
}

func TestSignerRoundTrip(t *testing.T) {
	kp := generateTestRSAKeyPair(t)
	signer := NewSigner(kp)

	claims := &testClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Scope:            "openid profile",
	}

	token, err := signer.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := signer.Verify(token, func() jwt.Claims { return &testClaims{} })
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	got := parsed.(*testClaims)
	if got.Subject != "user-1" || got.Scope != "openid profile" {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestSignerRejectsNoneAlg(t *testing.T) {
	kp := generateTestRSAKeyPair(t)
	signer := NewSigner(kp)

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, &testClaims{})
	signed, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	if _, err := signer.Verify(signed, func() jwt.Claims { return &testClaims{} }); err == nil {
		t.Fatal("expected verify to reject alg=none token")
	}
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1tEI7KVMWOVJRCfcc"

	if !VerifyPKCE(verifier, challenge) {
		t.Fatal("expected PKCE verification to succeed for known verifier/challenge pair")
	}
	if VerifyPKCE(verifier, "wrong-challenge") {
		t.Fatal("expected PKCE verification to fail for mismatched challenge")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple", MinBcryptCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword(hash, "correct horse battery staple") {
		t.Fatal("expected password to verify against its own hash")
	}
	if VerifyPassword(hash, "wrong password") {
		t.Fatal("expected verification to fail for wrong password")
	}
}

func TestRandomTokenEntropy(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatalf("random token: %v", err)
	}
	b, err := RandomToken(32)
	if err != nil {
		t.Fatalf("random token: %v", err)
	}
	if a == b {
		t.Fatal("expected two random tokens to differ")
	}
	if len(a) < 32 {
		t.Fatalf("expected high-entropy token, got length %d", len(a))
	}
}
