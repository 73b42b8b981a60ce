package auth_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden.dev/internal/auth"
)

func newService(t *testing.T, opts ...auth.ServiceOption) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(seededStore(t), tokenConfig(t, "service-secret"), opts...)
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := auth.NewService(nil, tokenConfig(t, "s"))
	assert.Error(t, err)
	_, err = auth.NewService(seededStore(t), auth.TokenConfig{})
	assert.Error(t, err)
}

func TestRegisterAndLoginScenario(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc := newService(t, auth.WithClock(clk.Now))

	created, err := svc.Register(ctx, auth.RegisterInput{
		FirstName: "A", LastName: "X", Email: "a@x.com", Password: "Str0ng!Pass",
	})
	require.NoError(t, err)
	assert.Empty(t, created.Roles)

	_, err = svc.Register(ctx, auth.RegisterInput{
		FirstName: "A", LastName: "X", Email: "a@x.com", Password: "Str0ng!Pass",
	})
	require.ErrorIs(t, err, auth.ErrConflict)
	msg, _ := auth.Message(err)
	assert.Equal(t, "email already exists", msg)

	token, identity, err := svc.Login(ctx, "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.Equal(t, created.ID, identity.ID)

	verified, err := svc.AuthenticateRequest(ctx, token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, verified.Subject)
	assert.Empty(t, verified.Roles)

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	var adminID string
	for _, r := range roles {
		if r.Name == auth.RoleAdmin {
			adminID = r.ID
		}
	}
	require.NotEmpty(t, adminID)

	updated, err := svc.AssignRole(ctx, created.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleAdmin}, updated.RoleNames())

	// Granting a held role again changes nothing.
	updated, err = svc.AssignRole(ctx, created.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleAdmin}, updated.RoleNames())

	relogin, _, err := svc.Login(ctx, "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)
	verifier := auth.NewTokenVerifier(tokenConfig(t, "service-secret"), nil, clk.Now)
	claims, err := verifier.ParseClaims(relogin.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, claims.Subject)
	assert.Equal(t, []string{auth.RoleAdmin}, claims.Roles)

	clk.Advance(time.Hour)
	_, err = svc.AuthenticateRequest(ctx, relogin.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRegisterRejectsPasswordOverBcryptLimit(t *testing.T) {
	svc := newService(t)
	_, err := svc.Register(context.Background(), auth.RegisterInput{
		FirstName: "A", LastName: "X", Email: "long@x.com", Password: "Aa1!" + strings.Repeat("é", 60),
	})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	users, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
	_, _, err = svc.Login(context.Background(), "long@x.com", "Aa1!"+strings.Repeat("é", 60))
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestLoginFailuresShareOneError(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Register(ctx, auth.RegisterInput{
		FirstName: "K", LastName: "N", Email: "known@x.com", Password: "Str0ng!Pass",
	})
	require.NoError(t, err)

	_, _, unknown := svc.Login(ctx, "ghost@x.com", "Str0ng!Pass")
	_, _, wrong := svc.Login(ctx, "known@x.com", "Wr0ng!Pass")
	_, _, empty := svc.Login(ctx, "known@x.com", "")

	for _, err := range []error{unknown, wrong, empty} {
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
		assert.Equal(t, unknown.Error(), err.Error())
	}
}

func TestRegisterDropsUnknownRoles(t *testing.T) {
	svc := newService(t)
	identity, err := svc.Register(context.Background(), auth.RegisterInput{
		FirstName: "R", LastName: "S", Email: "roles@x.com", Password: "Str0ng!Pass",
		Roles: []string{"User", "Ghost", "User"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleUser}, identity.RoleNames())
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	svc := newService(t)
	for _, in := range []auth.RegisterInput{
		{LastName: "L", Email: "a@x.com", Password: "p"},
		{FirstName: "F", Email: "a@x.com", Password: "p"},
		{FirstName: "F", LastName: "L", Password: "p"},
		{FirstName: "F", LastName: "L", Email: "a@x.com"},
	} {
		_, err := svc.Register(context.Background(), in)
		assert.ErrorIs(t, err, auth.ErrInvalidInput)
	}
}

func TestConcurrentRegisterAdmitsOne(t *testing.T) {
	svc := newService(t)
	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Register(context.Background(), auth.RegisterInput{
				FirstName: "C", LastName: fmt.Sprint(i), Email: "race@x.com", Password: "Str0ng!Pass",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, auth.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestDeleteRevokesTokens(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	created, err := svc.Register(ctx, auth.RegisterInput{
		FirstName: "D", LastName: "L", Email: "gone@x.com", Password: "Str0ng!Pass",
	})
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "gone@x.com", "Str0ng!Pass")
	require.NoError(t, err)

	_, err = svc.DeleteUser(ctx, created.ID)
	require.NoError(t, err)

	_, err = svc.AuthenticateRequest(ctx, token.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	res := svc.Gate().Evaluate(ctx, token.AccessToken, auth.Requirement{})
	assert.Equal(t, auth.GateUnauthorized, res.State)

	_, err = svc.DeleteUser(ctx, created.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestAssignRoleNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	created, err := svc.Register(ctx, auth.RegisterInput{
		FirstName: "N", LastName: "F", Email: "nf@x.com", Password: "Str0ng!Pass",
	})
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, "missing", "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)
	msg, _ := auth.Message(err)
	assert.Equal(t, "user with id missing not found", msg)

	_, err = svc.AssignRole(ctx, created.ID, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)
	msg, _ = auth.Message(err)
	assert.Equal(t, "role with id missing not found", msg)

	_, err = svc.AssignRole(ctx, "", created.ID)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestCreateRole(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	role, err := svc.CreateRole(ctx, " Auditor ", []string{"logs:read", "logs:read"})
	require.NoError(t, err)
	assert.Equal(t, "Auditor", role.Name)
	assert.Equal(t, []string{"logs:read"}, role.Permissions)

	_, err = svc.CreateRole(ctx, "Auditor", nil)
	assert.ErrorIs(t, err, auth.ErrConflict)

	_, err = svc.CreateRole(ctx, "  ", nil)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	empty, err := svc.CreateRole(ctx, "Empty", nil)
	require.NoError(t, err)
	assert.NotNil(t, empty.Permissions)
}

func TestAuthorizeOperation(t *testing.T) {
	svc := newService(t)
	user := auth.VerifiedIdentity{Subject: "u", Roles: []string{auth.RoleUser}}
	assert.NoError(t, svc.AuthorizeOperation(user, auth.Requirement{}))
	assert.ErrorIs(t, svc.AuthorizeOperation(user, auth.RequireRoles(auth.RoleAdmin)), auth.ErrForbidden)
}

func TestGateObserverSeesDecisions(t *testing.T) {
	ctx := context.Background()
	var states []auth.GateState
	svc := newService(t, auth.WithGateObserver(func(res auth.GateResult, _ auth.Requirement) {
		states = append(states, res.State)
	}))
	_, err := svc.Register(ctx, auth.RegisterInput{
		FirstName: "O", LastName: "B", Email: "obs@x.com", Password: "Str0ng!Pass", Roles: []string{auth.RoleUser},
	})
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "obs@x.com", "Str0ng!Pass")
	require.NoError(t, err)

	svc.Gate().Evaluate(ctx, token.AccessToken, auth.RequireRoles(auth.RoleUser))
	svc.Gate().Evaluate(ctx, token.AccessToken, auth.RequireRoles(auth.RoleAdmin))
	svc.Gate().Evaluate(ctx, "", auth.Requirement{})

	assert.Equal(t, []auth.GateState{auth.GateAuthorized, auth.GateForbidden, auth.GateUnauthorized}, states)
}
