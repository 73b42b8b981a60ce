package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	cases := []struct {
		name      string
		presented []string
		required  Requirement
		want      Decision
	}{
		{"open requirement, no roles", nil, Requirement{}, Allow},
		{"open requirement via empty RequireRoles", []string{"User"}, RequireRoles(), Allow},
		{"single match", []string{"Admin"}, RequireRoles("Admin"), Allow},
		{"any of several", []string{"User"}, RequireRoles("Admin", "User"), Allow},
		{"no overlap", []string{"User"}, RequireRoles("Admin"), Deny},
		{"no roles held", nil, RequireRoles("Admin"), Deny},
		{"case sensitive", []string{"admin"}, RequireRoles("Admin"), Deny},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Authorize(tc.presented, tc.required))
		})
	}
}

func TestRequirementNormalizesNames(t *testing.T) {
	req := RequireRoles(" Admin", "Admin", "", "User")
	assert.Equal(t, []string{"Admin", "User"}, req.Roles())
	assert.Equal(t, "Admin|User", req.String())
	assert.False(t, req.Open())
	assert.True(t, RequireRoles("  ").Open())
	assert.Equal(t, "any", Requirement{}.String())

	roles := req.Roles()
	roles[0] = "mutated"
	assert.Equal(t, []string{"Admin", "User"}, req.Roles())
}

func TestContextIdentity(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithIdentity(context.Background(), VerifiedIdentity{Subject: "u1", Email: "a@b.c", Roles: []string{"User"}})
	got, ok := IdentityFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", got.Subject)

	subject, ok := SubjectFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", subject)
}
