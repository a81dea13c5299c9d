// Package auth resolves the caller identity of API requests.
//
// Callers present an EdDSA-signed JWT whose subject is their identity.
// Tokens are minted offline by wagerctl with the matching private key.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atmx/wager-engine/internal/model"
)

// Issuer mints caller tokens.
type Issuer struct {
	key      ed25519.PrivateKey
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates an issuer signing with key.
func NewIssuer(key ed25519.PrivateKey, issuer, audience string, ttl time.Duration) (*Issuer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("auth: private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	return &Issuer{key: key, issuer: issuer, audience: audience, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for subject.
func (i *Issuer) Issue(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	now := i.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verifier checks caller tokens.
type Verifier struct {
	key      ed25519.PublicKey
	issuer   string
	audience string
	now      func() time.Time
}

// NewVerifier creates a verifier for tokens signed by key's private half.
func NewVerifier(key ed25519.PublicKey, issuer, audience string) (*Verifier, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("auth: public key must be %d bytes", ed25519.PublicKeySize)
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	return &Verifier{key: key, issuer: issuer, audience: audience, now: time.Now}, nil
}

// Verify validates token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", model.ErrUnauthorized.Wrap(ErrMissingCredentials)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", mapJWTError(err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", model.ErrUnauthorized.With("token has no subject")
	}
	return claims.Subject, nil
}

// mapJWTError turns jwt library errors into Unauthorized with a hint.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return model.ErrUnauthorized.With("token is expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return model.ErrUnauthorized.With("token is not active yet")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return model.ErrUnauthorized.With("token issuer mismatch")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return model.ErrUnauthorized.With("token audience mismatch")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrEd25519Verification):
		return model.ErrUnauthorized.With("token signature is invalid")
	default:
		return model.ErrUnauthorized.Wrap(err)
	}
}

// GenerateKey creates a token signing key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// EncodeKey renders a key for configuration files.
func EncodeKey(key []byte) string {
	return base64.RawStdEncoding.EncodeToString(key)
}

// DecodePublicKey parses a base64 public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := decodeBase64(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("auth: decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("auth: public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// DecodePrivateKey parses a base64 private key.
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	b, err := decodeBase64(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("auth: decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("auth: private key must be %d bytes", ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
