package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "incidentry"

// Subject is the verified external identity returned by a Verifier.
type Subject struct {
	ID        string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verifier turns an opaque bearer credential into a verified subject.
// Production deployments plug an external identity provider behind this
// interface; TokenVerifier is the bundled HS256 implementation.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Subject, error)
}

// TokenVerifier validates and mints HS256 JWTs with a shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption configures a TokenVerifier.
type TokenOption func(*TokenVerifier)

// WithIssuer overrides the issuer claim checked and stamped on tokens.
func WithIssuer(issuer string) TokenOption {
	return func(v *TokenVerifier) {
		if s := strings.TrimSpace(issuer); s != "" {
			v.issuer = s
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(v *TokenVerifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewTokenVerifier constructs a verifier for the given shared secret.
func NewTokenVerifier(secret string, opts ...TokenOption) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	v := &TokenVerifier{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for the given subject id. Used by the dev token endpoint
// and by tests; external identity providers issue their own credentials.
func (v *TokenVerifier) Issue(subjectID, email string, ttl time.Duration) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	now := v.now().UTC()
	claims := tokenClaims{
		Email: strings.TrimSpace(strings.ToLower(email)),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and required claims.
func (v *TokenVerifier) Verify(ctx context.Context, credential string) (Subject, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Subject{}, ErrMissingCredential
	}
	parsed, err := jwt.ParseWithClaims(credential, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredential
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Subject{}, fmt.Errorf("%w: token expired", ErrInvalidCredential)
		}
		return Subject{}, ErrInvalidCredential
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Subject{}, ErrInvalidCredential
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Subject{}, ErrInvalidCredential
	}
	subject := Subject{ID: claims.Subject, Email: claims.Email}
	if claims.IssuedAt != nil {
		subject.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		subject.ExpiresAt = claims.ExpiresAt.Time
	}
	return subject, nil
}
