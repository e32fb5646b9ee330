package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRole         = errors.New("session: invalid role")
	ErrRoleAlreadySelected = errors.New("session: role already selected for this session")
	ErrNotAuthenticated    = errors.New("session: not authenticated")
)

type roleKind uint8

const (
	roleUnset roleKind = iota
	roleRequester
	roleHelper
)

// Role is a tagged variant: unset, requester or helper.
// Use MatchRole to branch on it exhaustively.
type Role struct {
	kind roleKind
}

var (
	Unset     = Role{}
	Requester = Role{kind: roleRequester}
	Helper    = Role{kind: roleHelper}
)

// ParseRole maps "requester" and "helper"; the empty string is Unset.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Unset, nil
	case "requester":
		return Requester, nil
	case "helper":
		return Helper, nil
	default:
		return Unset, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) String() string {
	switch r.kind {
	case roleRequester:
		return "requester"
	case roleHelper:
		return "helper"
	default:
		return ""
	}
}

func (r Role) IsSet() bool { return r.kind != roleUnset }

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Select moves the role state machine from unset to a concrete role.
// A concrete role is final for the session; only logout resets it.
func (r Role) Select(next Role) (Role, error) {
	if !next.IsSet() {
		return r, ErrInvalidRole
	}
	if r.IsSet() {
		return r, ErrRoleAlreadySelected
	}
	return next, nil
}

// MatchRole dispatches on the role variant.
func MatchRole[T any](r Role, unset func() T, requester func() T, helper func() T) T {
	switch r.kind {
	case roleRequester:
		return requester()
	case roleHelper:
		return helper()
	default:
		return unset()
	}
}
