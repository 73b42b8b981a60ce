package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	identity VerifiedIdentity
	err      error
}

func (s stubVerifier) Verify(context.Context, string) (VerifiedIdentity, error) {
	return s.identity, s.err
}

func TestGateStates(t *testing.T) {
	admin := VerifiedIdentity{Subject: "u1", Roles: []string{RoleAdmin}}
	member := VerifiedIdentity{Subject: "u2", Roles: []string{RoleUser}}
	outage := errors.New("connection refused")

	cases := []struct {
		name     string
		verifier stubVerifier
		req      Requirement
		state    GateState
		errIs    error
	}{
		{"verified and open", stubVerifier{identity: member}, Requirement{}, GateAuthorized, nil},
		{"verified and matching", stubVerifier{identity: admin}, RequireRoles(RoleAdmin), GateAuthorized, nil},
		{"verified without role", stubVerifier{identity: member}, RequireRoles(RoleAdmin), GateForbidden, ErrForbidden},
		{"token rejected", stubVerifier{err: ErrUnauthorized}, Requirement{}, GateUnauthorized, ErrUnauthorized},
		{"store outage", stubVerifier{err: outage}, RequireRoles(RoleAdmin), GateUnauthorized, outage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var observed []GateResult
			gate := NewGate(tc.verifier, func(res GateResult, _ Requirement) {
				observed = append(observed, res)
			})
			res := gate.Evaluate(context.Background(), "token", tc.req)
			assert.Equal(t, tc.state, res.State)
			assert.True(t, res.State.Terminal())
			if tc.errIs == nil {
				assert.NoError(t, res.Err)
			} else {
				assert.ErrorIs(t, res.Err, tc.errIs)
			}
			require.Len(t, observed, 1)
			assert.Equal(t, res.State, observed[0].State)
		})
	}
}

func TestGateTransitions(t *testing.T) {
	assert.True(t, validTransition(GateStart, GateIdentityPending))
	assert.True(t, validTransition(GateIdentityPending, GateUnauthorized))
	assert.True(t, validTransition(GateIdentityVerified, GateForbidden))

	assert.False(t, validTransition(GateStart, GateAuthorized))
	assert.False(t, validTransition(GateIdentityPending, GateForbidden))
	assert.False(t, validTransition(GateAuthorized, GateForbidden))
	assert.False(t, validTransition(GateUnauthorized, GateIdentityPending))

	assert.Equal(t, "identity_verified", GateIdentityVerified.String())
	assert.Equal(t, "gate_state(42)", GateState(42).String())
	assert.False(t, GateIdentityPending.Terminal())
}
