// Package token issues and verifies the signed, stateless session tokens
// carried in role cookies.
package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kitbridge/kitbridge/internal/principal"
)

const (
	// SessionLifetime is the fixed validity of a session token.
	SessionLifetime = 30 * 24 * time.Hour
	// VerificationLifetime is the validity of an email verification token.
	VerificationLifetime = 24 * time.Hour

	PurposeSession     = "session"
	PurposeVerifyEmail = "verify_email"
)

var (
	// ErrMalformed indicates the token is not a structurally valid JWT.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid indicates the signature does not match the content.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired indicates the token is past its expiry instant.
	ErrExpired = errors.New("token expired")
	// ErrNoSecret indicates the signer was built without a key.
	ErrNoSecret = errors.New("token signing secret missing")
)

var signingMethod = jwt.SigningMethodHS256

// Identity is the set of identity claims a token carries.
type Identity struct {
	PrincipalID int64          `json:"id"`
	SecondaryID string         `json:"displayId"`
	Email       string         `json:"email"`
	Role        principal.Kind `json:"role"`
}

// IdentityOf builds the token identity for a principal.
func IdentityOf(p *principal.Principal) Identity {
	return Identity{PrincipalID: p.ID, SecondaryID: p.DisplayID, Email: p.Email, Role: p.Kind}
}

// Claims is the full claim set embedded in a token.
type Claims struct {
	Identity
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Signer issues and verifies tokens with a shared HMAC secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// Option customises a Signer.
type Option func(*Signer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner constructs a Signer. An empty secret is a configuration error.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	s := &Signer{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue mints a session token for identity.
func (s *Signer) Issue(id Identity) (string, *Claims, error) {
	return s.issue(id, PurposeSession, SessionLifetime)
}

// IssueVerification mints an email verification token for identity.
func (s *Signer) IssueVerification(id Identity) (string, *Claims, error) {
	return s.issue(id, PurposeVerifyEmail, VerificationLifetime)
}

func (s *Signer) issue(id Identity, purpose string, ttl time.Duration) (string, *Claims, error) {
	now := s.now().UTC().Truncate(time.Second)
	claims := &Claims{
		Identity: id,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   string(id.Role),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify validates a session token and returns its claims.
func (s *Signer) Verify(raw string) (*Claims, error) {
	return s.verify(raw, PurposeSession)
}

// VerifyEmailToken validates an email verification token.
func (s *Signer) VerifyEmailToken(raw string) (*Claims, error) {
	return s.verify(raw, PurposeVerifyEmail)
}

// verify checks the signature over the raw segments before decoding any of
// the token's content, so tampering with any byte, separators included, is
// reported as ErrSignatureInvalid. Only an empty token or a correctly signed
// token whose content cannot be decoded is ErrMalformed.
func (s *Signer) verify(raw, purpose string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrSignatureInvalid
	}
	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	if err := signingMethod.Verify(parts[0]+"."+parts[1], sig, s.secret); err != nil {
		return nil, ErrSignatureInvalid
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithStrictDecoding(),
	)
	_, err = parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrSignatureInvalid
	default:
		return nil, ErrMalformed
	}
	if claims.Purpose != purpose {
		return nil, ErrSignatureInvalid
	}
	return claims, nil
}

// Kind classifies a verification error for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
