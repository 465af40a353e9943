package crypto

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AllowedSkew bounds the clock skew tolerated on nbf/exp checks.
const AllowedSkew = 30 * time.Second

// Signer signs and verifies compact JWS tokens with a single pinned
// algorithm. "none" is never an accepted verification method: Verify always
// supplies an explicit allow-list of one algorithm to jwt.ParseWithClaims,
// which jwt/v5 itself refuses to satisfy with an unsigned token.
type Signer struct {
	keyPair *KeyPair
}

// NewSigner builds a Signer around a loaded asymmetric key pair.
func NewSigner(kp *KeyPair) *Signer {
	return &Signer{keyPair: kp}
}

// KID returns the stable key id advertised in the JWT header and JWKS.
func (s *Signer) KID() string { return s.keyPair.KID }

// Alg returns the pinned signing algorithm.
func (s *Signer) Alg() KeyAlg { return s.keyPair.Alg }

func (s *Signer) signingMethod() jwt.SigningMethod {
	switch s.keyPair.Alg {
	case AlgES256:
		return jwt.SigningMethodES256
	default:
		return jwt.SigningMethodRS256
	}
}

func (s *Signer) signingKey() any {
	if s.keyPair.Alg == AlgES256 {
		return s.keyPair.ECPrivate
	}
	return s.keyPair.RSAPrivate
}

func (s *Signer) verifyKey() any {
	if s.keyPair.Alg == AlgES256 {
		return s.keyPair.ECPublic
	}
	return s.keyPair.RSAPublic
}

// Sign produces a compact JWS for the given claims, stamping the header kid.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(s.signingMethod(), claims)
	token.Header["kid"] = s.keyPair.KID

	signed, err := token.SignedString(s.signingKey())
	if err != nil {
		return "", ErrSignFailed(err)
	}
	return signed, nil
}

// Verify parses a compact JWS into claims, accepting only this signer's
// pinned algorithm. newClaims must return a fresh jwt.Claims to populate
// (e.g. func() jwt.Claims { return &AccessClaims{} }).
func (s *Signer) Verify(tokenString string, newClaims func() jwt.Claims) (jwt.Claims, error) {
	claims := newClaims()
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.signingMethod().Alg()}),
		jwt.WithLeeway(AllowedSkew),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); ok && s.keyPair.Alg == AlgRS256 {
			return s.verifyKey(), nil
		}
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); ok && s.keyPair.Alg == AlgES256 {
			return s.verifyKey(), nil
		}
		return nil, ErrAlgNotAllowed(t.Method.Alg())
	})
	if err != nil {
		return nil, ErrMalformedToken(err)
	}
	if !token.Valid {
		return nil, ErrVerifyFailed(nil)
	}

	return claims, nil
}
