package auth

import (
	"context"
	"fmt"
)

// GateState tracks a request through authentication and authorization.
type GateState int

const (
	GateStart GateState = iota
	GateIdentityPending
	GateIdentityVerified
	GateAuthorized
	GateUnauthorized
	GateForbidden
)

var gateStateNames = [...]string{
	GateStart:            "start",
	GateIdentityPending:  "identity_pending",
	GateIdentityVerified: "identity_verified",
	GateAuthorized:       "authorized",
	GateUnauthorized:     "unauthorized",
	GateForbidden:        "forbidden",
}

func (s GateState) String() string {
	if s < 0 || int(s) >= len(gateStateNames) {
		return fmt.Sprintf("gate_state(%d)", int(s))
	}
	return gateStateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s GateState) Terminal() bool {
	return s == GateAuthorized || s == GateUnauthorized || s == GateForbidden
}

// GateResult is the terminal state of one evaluation. Err is nil only when
// State is GateAuthorized.
type GateResult struct {
	State    GateState
	Identity VerifiedIdentity
	Err      error
}

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (VerifiedIdentity, error)
}

// GateObserver is notified with every terminal result.
type GateObserver func(GateResult, Requirement)

// Gate runs the per-request state machine:
// start -> identity_pending -> identity_verified -> authorized | forbidden,
// with identity_pending -> unauthorized when the token does not verify.
type Gate struct {
	verifier Verifier
	observe  GateObserver
}

func NewGate(v Verifier, observe GateObserver) *Gate {
	return &Gate{verifier: v, observe: observe}
}

// Evaluate runs token (already extracted, possibly empty) against req.
// A verifier failure that is not ErrUnauthorized (store outage) still ends in
// GateUnauthorized, with the cause kept in Err for the caller to map.
func (g *Gate) Evaluate(ctx context.Context, token string, req Requirement) GateResult {
	state := GateStart
	state = g.step(state, GateIdentityPending)

	identity, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return g.finish(GateResult{State: g.step(state, GateUnauthorized), Err: err}, req)
	}
	state = g.step(state, GateIdentityVerified)

	if Authorize(identity.Roles, req) == Deny {
		return g.finish(GateResult{
			State:    g.step(state, GateForbidden),
			Identity: identity,
			Err:      fmt.Errorf("%w: requires %s", ErrForbidden, req),
		}, req)
	}
	return g.finish(GateResult{State: g.step(state, GateAuthorized), Identity: identity}, req)
}

func (g *Gate) step(from, to GateState) GateState {
	if !validTransition(from, to) {
		panic(fmt.Sprintf("auth: illegal gate transition %s -> %s", from, to))
	}
	return to
}

func (g *Gate) finish(res GateResult, req Requirement) GateResult {
	if g.observe != nil {
		g.observe(res, req)
	}
	return res
}

func validTransition(from, to GateState) bool {
	switch from {
	case GateStart:
		return to == GateIdentityPending
	case GateIdentityPending:
		return to == GateIdentityVerified || to == GateUnauthorized
	case GateIdentityVerified:
		return to == GateAuthorized || to == GateForbidden
	default:
		return false
	}
}
