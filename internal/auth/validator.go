package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// CredentialValidator is the single place where email/password pairs are checked.
type CredentialValidator struct {
	store IdentityStore
}

func NewCredentialValidator(store IdentityStore) *CredentialValidator {
	return &CredentialValidator{store: store}
}

// Validate returns the sanitized identity owning email when password matches.
// Unknown email and wrong password both yield ErrInvalidCredential.
func (v *CredentialValidator) Validate(ctx context.Context, email, password string) (Identity, error) {
	user, err := v.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		// burn a comparable amount of work so response time does not reveal the miss
		VerifyPassword(password, placeholderHash())
		return Identity{}, ErrInvalidCredential
	}
	if err != nil {
		return Identity{}, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return Identity{}, ErrInvalidCredential
	}
	return user.Sanitize(), nil
}

func placeholderHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("warden-placeholder-secret")
	})
	return dummyHash
}
