package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden.dev/internal/auth"
)

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	admin, err := s.CreateRole(ctx, auth.RoleAdmin, []string{"users:write"})
	require.NoError(t, err)

	user, err := s.CreateUser(ctx, auth.NewUser{
		FirstName: "A", LastName: "B", Email: "a@x.com", PasswordHash: "h", RoleIDs: []string{admin.ID, admin.ID},
	})
	require.NoError(t, err)
	require.Len(t, user.Roles, 1)

	_, err = s.CreateUser(ctx, auth.NewUser{Email: "a@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, auth.ErrConflict)

	byEmail, err := s.FindUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	deleted, err := s.DeleteUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", deleted.Email)

	_, err = s.FindUserByID(ctx, user.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = s.FindUserByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	// email is free again
	_, err = s.CreateUser(ctx, auth.NewUser{Email: "a@x.com", PasswordHash: "h"})
	assert.NoError(t, err)
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	role, err := s.CreateRole(ctx, "Editor", []string{"docs:write"})
	require.NoError(t, err)
	role.Permissions[0] = "mutated"

	again, err := s.FindRoleByID(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs:write"}, again.Permissions)
}

func TestAssignRole(t *testing.T) {
	ctx := context.Background()
	s := New()
	role, err := s.CreateRole(ctx, auth.RoleUser, nil)
	require.NoError(t, err)
	user, err := s.CreateUser(ctx, auth.NewUser{Email: "r@x.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.Empty(t, user.Roles)

	updated, err := s.AssignRole(ctx, user.ID, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleUser}, updated.Sanitize().RoleNames())

	_, err = s.AssignRole(ctx, user.ID, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = s.AssignRole(ctx, "missing", role.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRoleLookups(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"User", "Admin"} {
		_, err := s.CreateRole(ctx, name, nil)
		require.NoError(t, err)
	}
	_, err := s.CreateRole(ctx, "Admin", nil)
	assert.ErrorIs(t, err, auth.ErrConflict)

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "Admin", roles[0].Name)

	found, err := s.FindRolesByNames(ctx, []string{"Admin", "Ghost"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = s.FindRolesByNames(ctx, []string{"User", "Admin"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "User", found[0].Name)
	assert.Equal(t, "Admin", found[1].Name)

	_, err = s.FindRoleByName(ctx, "Ghost")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestListUsersOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	var created []string
	for _, email := range []string{"1@x.com", "2@x.com", "3@x.com"} {
		u, err := s.CreateUser(ctx, auth.NewUser{Email: email, PasswordHash: "h"})
		require.NoError(t, err)
		created = append(created, u.ID)
	}
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	for i, u := range users {
		assert.Equal(t, created[i], u.ID)
	}
}
