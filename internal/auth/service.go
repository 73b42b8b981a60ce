package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service composes the hasher, validator, issuer, verifier and gate behind the
// operations the HTTP and gRPC layers call.
type Service struct {
	store     DirectoryStore
	tokens    TokenConfig
	now       func() time.Time
	observe   GateObserver
	validator *CredentialValidator
	issuer    *TokenIssuer
	verifier  *TokenVerifier
	gate      *Gate
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithGateObserver registers a callback for every gate decision.
func WithGateObserver(fn GateObserver) ServiceOption {
	return func(s *Service) error {
		s.observe = fn
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store DirectoryStore, tokens TokenConfig, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if len(tokens.secret) == 0 {
		return nil, errors.New("auth: token config is required")
	}
	svc := &Service{
		store:  store,
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.validator = NewCredentialValidator(store)
	svc.issuer = NewTokenIssuer(tokens, svc.now)
	svc.verifier = NewTokenVerifier(tokens, store, svc.now)
	svc.gate = NewGate(svc.verifier, svc.observe)
	return svc, nil
}

// Gate returns the request gate shared by every transport.
func (s *Service) Gate() *Gate { return s.gate }

// RegisterInput carries registration fields.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Roles     []string
}

// Register creates a user. Role names that do not exist are ignored.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Identity, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	switch {
	case in.FirstName == "":
		return Identity{}, newError(ErrInvalidInput, "first name is required")
	case in.LastName == "":
		return Identity{}, newError(ErrInvalidInput, "last name is required")
	case strings.TrimSpace(in.Email) == "":
		return Identity{}, newError(ErrInvalidInput, "email is required")
	case in.Password == "":
		return Identity{}, newError(ErrInvalidInput, "password is required")
	}

	// The store's unique constraint is authoritative; this check only gives a
	// clean Conflict for the common case.
	if _, err := s.store.FindUserByEmail(ctx, in.Email); err == nil {
		return Identity{}, newError(ErrConflict, "email already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return Identity{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		// Keeps ErrInvalidInput and its message visible to callers.
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	var roleIDs []string
	if names := dedupeStrings(in.Roles); len(names) > 0 {
		roles, err := s.store.FindRolesByNames(ctx, names)
		if err != nil {
			return Identity{}, err
		}
		for _, r := range roles {
			roleIDs = append(roleIDs, r.ID)
		}
	}

	user, err := s.store.CreateUser(ctx, NewUser{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		RoleIDs:      roleIDs,
	})
	if errors.Is(err, ErrConflict) {
		return Identity{}, newError(ErrConflict, "email already exists")
	}
	if err != nil {
		return Identity{}, err
	}
	return user.Sanitize(), nil
}

// Login validates credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (Token, Identity, error) {
	identity, err := s.validator.Validate(ctx, email, password)
	if err != nil {
		return Token{}, Identity{}, err
	}
	token, err := s.issuer.Issue(identity)
	if err != nil {
		return Token{}, Identity{}, err
	}
	return token, identity, nil
}

// AuthenticateRequest verifies a bearer token. Failures wrap ErrUnauthorized
// unless the store itself failed.
func (s *Service) AuthenticateRequest(ctx context.Context, token string) (VerifiedIdentity, error) {
	return s.verifier.Verify(ctx, token)
}

// AuthorizeOperation returns ErrForbidden when identity holds none of the required roles.
func (s *Service) AuthorizeOperation(identity VerifiedIdentity, req Requirement) error {
	if Authorize(identity.Roles, req) == Deny {
		return fmt.Errorf("%w: requires %s", ErrForbidden, req)
	}
	return nil
}

// ListUsers returns every user without secret material.
func (s *Service) ListUsers(ctx context.Context) ([]Identity, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Identity, 0, len(users))
	for _, u := range users {
		out = append(out, u.Sanitize())
	}
	return out, nil
}

// AssignRole grants roleID to userID. Granting a held role is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return Identity{}, newError(ErrInvalidInput, "userId and roleId are required")
	}
	if _, err := s.store.FindUserByID(ctx, userID); err != nil {
		return Identity{}, notFoundAs(err, fmt.Sprintf("user with id %s not found", userID))
	}
	if _, err := s.store.FindRoleByID(ctx, roleID); err != nil {
		return Identity{}, notFoundAs(err, fmt.Sprintf("role with id %s not found", roleID))
	}
	user, err := s.store.AssignRole(ctx, userID, roleID)
	if err != nil {
		return Identity{}, notFoundAs(err, "user or role not found")
	}
	return user.Sanitize(), nil
}

// DeleteUser removes the user; tokens issued to it stop verifying.
func (s *Service) DeleteUser(ctx context.Context, id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, newError(ErrInvalidInput, "id is required")
	}
	user, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return Identity{}, notFoundAs(err, fmt.Sprintf("user with id %s not found", id))
	}
	return user.Sanitize(), nil
}

// CreateRole adds a role. Names are unique.
func (s *Service) CreateRole(ctx context.Context, name string, permissions []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, newError(ErrInvalidInput, "name is required")
	}
	if _, err := s.store.FindRoleByName(ctx, name); err == nil {
		return Role{}, newError(ErrConflict, "role already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	perms := dedupeStrings(permissions)
	if perms == nil {
		perms = []string{}
	}
	role, err := s.store.CreateRole(ctx, name, perms)
	if errors.Is(err, ErrConflict) {
		return Role{}, newError(ErrConflict, "role already exists")
	}
	return role, err
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func notFoundAs(err error, message string) error {
	if errors.Is(err, ErrNotFound) {
		return newError(ErrNotFound, message)
	}
	return err
}
