package auth

import (
	"context"
	"errors"

	"github.com/nfrund/parley/internal/domain"
)

// Verifier maps a bearer token to an active user. It is consulted exactly
// once per connection and once per REST request.
type Verifier interface {
	Verify(ctx context.Context, token string) (*domain.User, error)
}

// JWTVerifier checks the token signature and expiry, then loads the user from
// the directory and refuses inactive accounts.
type JWTVerifier struct {
	signer *Signer
	users  domain.UserDirectory
}

// NewJWTVerifier creates a verifier over signer and users.
func NewJWTVerifier(signer *Signer, users domain.UserDirectory) *JWTVerifier {
	return &JWTVerifier{signer: signer, users: users}
}

// Verify implements Verifier. Every failure is a *domain.AuthError, except a
// directory outage which is reported as a persistence error.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, &domain.AuthError{Reason: domain.AuthMissing}
	}

	userID, err := v.signer.Parse(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, &domain.AuthError{Reason: domain.AuthExpired, Err: err}
		}
		return nil, &domain.AuthError{Reason: domain.AuthInvalid, Err: err}
	}

	user, err := v.users.FindUserByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.AuthError{Reason: domain.AuthInvalid, Err: err}
	}
	if err != nil {
		return nil, domain.Persistence("load user", err)
	}
	if !user.IsActive {
		return nil, &domain.AuthError{Reason: domain.AuthInactive}
	}
	return user, nil
}
