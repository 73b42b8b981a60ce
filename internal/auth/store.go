package auth

import "context"

// IdentityStore is the lookup surface the authentication core depends on.
// Lookups of absent records return ErrNotFound.
type IdentityStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	// FindRolesByNames returns the roles that exist; unknown names are skipped.
	FindRolesByNames(ctx context.Context, names []string) ([]Role, error)
}

// DirectoryStore adds the mutations used by registration and administration.
// Create operations return ErrConflict on a duplicate unique key.
type DirectoryStore interface {
	IdentityStore

	CreateUser(ctx context.Context, u NewUser) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	AssignRole(ctx context.Context, userID, roleID string) (User, error)
	DeleteUser(ctx context.Context, id string) (User, error)

	CreateRole(ctx context.Context, name string, permissions []string) (Role, error)
	FindRoleByID(ctx context.Context, id string) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
}
