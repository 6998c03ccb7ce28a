// Package contract implements the engagement-contract state machine and the
// role gate that restricts which party may request which transition.
//
// The transition set is closed: callers name one of four tokens and the rules
// below decide reachability, permission, and side effects. Completion is never
// a caller-supplied transition; it is derived the moment both confirmation
// flags are true.
package contract

import (
	"fmt"
	"time"

	"collabline/internal/domain"
)

type Role string

const (
	RoleInfluencer Role = "influencer"
	RoleOwner      Role = "owner"
)

// Transition is the caller-supplied token naming the requested state change.
// The wire values match the target status field they affect.
type Transition string

const (
	TransitionActivate          Transition = "active"
	TransitionInfluencerConfirm Transition = "influencerConfirmed"
	TransitionOwnerConfirm      Transition = "ownerConfirmed"
	TransitionTerminate         Transition = "terminated"
)

// InvalidTransitionError covers unknown tokens, tokens unreachable from the
// current status, and any request against a terminal contract.
type InvalidTransitionError struct {
	From      string
	Requested string
}

func (e InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("unknown transition %q", e.Requested)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.Requested)
}

// ForbiddenError indicates the transition exists from the current status but
// the caller's role may not request it.
type ForbiddenError struct {
	Role      Role
	Requested Transition
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not request %s", e.Role, e.Requested)
}

func ParseTransition(s string) (Transition, error) {
	switch t := Transition(s); t {
	case TransitionActivate, TransitionInfluencerConfirm, TransitionOwnerConfirm, TransitionTerminate:
		return t, nil
	}
	return "", InvalidTransitionError{Requested: s}
}

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleInfluencer, RoleOwner:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// reachable reports whether the transition is defined at all from the status,
// ignoring who is asking. Terminal statuses reach nothing.
func reachable(status string, t Transition) bool {
	switch status {
	case domain.ContractStatusDraft:
		return t == TransitionActivate || t == TransitionTerminate
	case domain.ContractStatusActive:
		return t == TransitionInfluencerConfirm || t == TransitionOwnerConfirm || t == TransitionTerminate
	}
	return false
}

// Allowed is the authorization gate: the role column of the transition table
// as a pure function. Activation belongs to the influencer (accepting terms
// the business proposed), each confirmation to its matching party, and
// termination to either side.
func Allowed(status string, t Transition, role Role) bool {
	if !reachable(status, t) {
		return false
	}
	switch t {
	case TransitionActivate, TransitionInfluencerConfirm:
		return role == RoleInfluencer
	case TransitionOwnerConfirm:
		return role == RoleOwner
	case TransitionTerminate:
		return role == RoleInfluencer || role == RoleOwner
	}
	return false
}

// Result carries the mutated contract plus what actually happened. Changed is
// false for an idempotent re-confirmation: the call succeeds but nothing needs
// persisting and no event fires.
type Result struct {
	Contract domain.Contract
	Event    string
	Changed  bool
}

// Apply validates the transition against the current contract and returns the
// mutated copy. It performs no I/O; the input value is not modified.
func Apply(c domain.Contract, t Transition, role Role, now time.Time) (Result, error) {
	if c.Terminal() || !reachable(c.Status, t) {
		return Result{}, InvalidTransitionError{From: c.Status, Requested: string(t)}
	}
	if !Allowed(c.Status, t, role) {
		return Result{}, ForbiddenError{Role: role, Requested: t}
	}
	ts := now.UTC().Format(time.RFC3339)
	switch t {
	case TransitionActivate:
		c.Status = domain.ContractStatusActive
		c.ActivatedAt = &ts
		return Result{Contract: c, Event: "contract.activated", Changed: true}, nil
	case TransitionTerminate:
		c.Status = domain.ContractStatusTerminated
		c.TerminatedAt = &ts
		return Result{Contract: c, Event: "contract.terminated", Changed: true}, nil
	case TransitionInfluencerConfirm:
		if c.InfluencerConfirmed {
			return Result{Contract: c}, nil
		}
		c.InfluencerConfirmed = true
	case TransitionOwnerConfirm:
		if c.OwnerConfirmed {
			return Result{Contract: c}, nil
		}
		c.OwnerConfirmed = true
	}
	if fulfilled(c) {
		c.Status = domain.ContractStatusCompleted
		c.CompletedAt = &ts
		return Result{Contract: c, Event: "contract.completed", Changed: true}, nil
	}
	return Result{Contract: c, Event: "contract.confirmed", Changed: true}, nil
}

// fulfilled is the dual-confirmation completion condition.
func fulfilled(c domain.Contract) bool {
	return c.InfluencerConfirmed && c.OwnerConfirmed
}
