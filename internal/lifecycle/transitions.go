package lifecycle

import (
	"errors"
	"fmt"

	"github.com/Chloe7243/Errandhub/internal/session"
)

type Action string

const (
	ActionAccept      Action = "accept"
	ActionStart       Action = "start"
	ActionSubmitProof Action = "submit_proof"
	ActionConfirm     Action = "confirm"
	ActionDispute     Action = "dispute"
	ActionCancel      Action = "cancel"
)

var Actions = []Action{ActionAccept, ActionStart, ActionSubmitProof, ActionConfirm, ActionDispute, ActionCancel}

var ErrUnknownAction = errors.New("lifecycle: unknown action")

func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// TransitionError is returned when an action is not allowed from a stage.
type TransitionError struct {
	From   Stage
	Action Action
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s an errand that is %s", e.Action, e.From)
}

// ActorError is returned when the acting role may not perform the action.
type ActorError struct {
	Action Action
	Role   session.Role
}

func (e ActorError) Error() string {
	if !e.Role.IsSet() {
		return fmt.Sprintf("a role must be selected to %s an errand", e.Action)
	}
	return fmt.Sprintf("a %s cannot %s an errand", e.Role, e.Action)
}

type rule struct {
	from []Stage
	to   Stage
	by   session.Role
}

var rules = map[Action]rule{
	ActionAccept:      {from: []Stage{Posted}, to: Accepted, by: session.Helper},
	ActionStart:       {from: []Stage{Accepted}, to: InProgress, by: session.Helper},
	ActionSubmitProof: {from: []Stage{InProgress}, to: Reviewing, by: session.Helper},
	ActionConfirm:     {from: []Stage{Reviewing}, to: Completed, by: session.Requester},
	ActionDispute:     {from: []Stage{Reviewing, Completed}, to: Disputed, by: session.Requester},
}

// CancelPolicy lists, per role, the stages from which that role may cancel.
type CancelPolicy struct {
	Requester []Stage
	Helper    []Stage
}

// DefaultCancelPolicy lets the requester withdraw until work starts and lets
// the helper back out after accepting but before starting.
func DefaultCancelPolicy() CancelPolicy {
	return CancelPolicy{
		Requester: []Stage{Posted, Accepted},
		Helper:    []Stage{Accepted},
	}
}

func (p CancelPolicy) allows(role session.Role, from Stage) bool {
	stages := session.MatchRole(role,
		func() []Stage { return nil },
		func() []Stage { return p.Requester },
		func() []Stage { return p.Helper },
	)
	return containsStage(stages, from)
}

func (p CancelPolicy) anyAllows(from Stage) bool {
	return containsStage(p.Requester, from) || containsStage(p.Helper, from)
}

// Machine applies transitions under a cancellation policy.
type Machine struct {
	Cancel CancelPolicy
}

func NewMachine(p CancelPolicy) Machine {
	return Machine{Cancel: p}
}

// Next returns the stage reached when role performs action on an errand in
// current. Stages only move forward and absorbing stages never change.
func (m Machine) Next(current Stage, action Action, role session.Role) (Stage, error) {
	if _, ok := labels[current]; !ok {
		return current, fmt.Errorf("%w: %q", ErrUnknownStage, current)
	}
	if action == ActionCancel {
		if current.Absorbing() || !m.Cancel.anyAllows(current) {
			return current, TransitionError{From: current, Action: action}
		}
		if !m.Cancel.allows(role, current) {
			return current, ActorError{Action: action, Role: role}
		}
		return Cancelled, nil
	}
	r, ok := rules[action]
	if !ok {
		return current, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !containsStage(r.from, current) {
		return current, TransitionError{From: current, Action: action}
	}
	if role != r.by {
		return current, ActorError{Action: action, Role: role}
	}
	return r.to, nil
}

// Transition applies the default cancellation policy.
func Transition(current Stage, action Action, role session.Role) (Stage, error) {
	return NewMachine(DefaultCancelPolicy()).Next(current, action, role)
}

// Available lists the actions role could take from current.
func (m Machine) Available(current Stage, role session.Role) []Action {
	var out []Action
	for _, a := range Actions {
		if _, err := m.Next(current, a, role); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func containsStage(stages []Stage, s Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}
