package auth

import (
	"context"
	"errors"
	"fmt"
)

// CredentialAuthenticator verifies email and password pairs.
type CredentialAuthenticator struct {
	store CredentialStore
}

// NewCredentialAuthenticator wires the authenticator to a credential store.
func NewCredentialAuthenticator(store CredentialStore) (*CredentialAuthenticator, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	return &CredentialAuthenticator{store: store}, nil
}

// Authenticate returns the principal for valid credentials. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (a *CredentialAuthenticator) Authenticate(ctx context.Context, email, password string) (Principal, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Principal{}, ErrInvalidCredentials
	}
	user, err := a.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return user.Principal(), nil
}

// Resolve loads the current principal for a token subject.
func (a *CredentialAuthenticator) Resolve(ctx context.Context, email string) (Principal, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Principal{}, ErrInvalidCredentials
	}
	user, err := a.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return user.Principal(), nil
}
