package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const bearerScheme = "Bearer "

// UserDirectory is the lookup the resolver needs; the full user store
// implements it.
type UserDirectory interface {
	FindUserBySubject(ctx context.Context, externalSubjectID string) (User, error)
}

// Resolver turns an Authorization header into a verified caller identity.
// It performs a pure lookup: provisioning of new users happens in the
// registration flow, never here.
type Resolver struct {
	verifier Verifier
	users    UserDirectory
}

// NewResolver constructs a Resolver.
func NewResolver(verifier Verifier, users UserDirectory) (*Resolver, error) {
	if verifier == nil {
		return nil, errors.New("auth: verifier is required")
	}
	if users == nil {
		return nil, errors.New("auth: user directory is required")
	}
	return &Resolver{verifier: verifier, users: users}, nil
}

// Resolve validates the bearer credential and looks up the matching user.
// Failure modes are distinguished so the gate can answer precisely:
// ErrMissingCredential, ErrInvalidCredential, ErrUserNotProvisioned.
func (r *Resolver) Resolve(ctx context.Context, authorizationHeader string) (Identity, error) {
	credential, err := ExtractBearerToken(authorizationHeader)
	if err != nil {
		return Identity{}, err
	}
	subject, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrInvalidCredential) {
			return Identity{}, err
		}
		// Never leak verification-service internals.
		return Identity{}, ErrInvalidCredential
	}
	user, err := r.users.FindUserBySubject(ctx, subject.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Legitimate identity that has not completed registration.
			return Identity{}, ErrUserNotProvisioned
		}
		return Identity{}, fmt.Errorf("resolve user: %w", err)
	}
	if user.Status != UserStatusActive {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{
		UserID:         user.ID,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
	}, nil
}

// Subject verifies the credential without requiring a provisioned user.
// The registration flow uses it to learn who is registering.
func (r *Resolver) Subject(ctx context.Context, authorizationHeader string) (Subject, error) {
	credential, err := ExtractBearerToken(authorizationHeader)
	if err != nil {
		return Subject{}, err
	}
	subject, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrInvalidCredential) {
			return Subject{}, err
		}
		return Subject{}, ErrInvalidCredential
	}
	return subject, nil
}

// ExtractBearerToken pulls the credential out of an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", fmt.Errorf("%w: unsupported authorization scheme", ErrMissingCredential)
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}
