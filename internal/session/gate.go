// Package session holds the navigation gate, the role state machine and the
// client-side authentication context.
package session

import "strings"

// Zone is the authentication zone a route belongs to.
type Zone int

const (
	ZonePublic Zone = iota
	ZoneProtected
)

func (z Zone) String() string {
	if z == ZoneProtected {
		return "protected"
	}
	return "public"
}

// Route is an app route path such as "/(protected)/requester/home".
type Route string

const (
	// EntryRoute is the public landing screen.
	EntryRoute Route = "/"
	// RoleSelectionRoute is the first protected screen after login.
	RoleSelectionRoute Route = "/(protected)/role-selection"
)

const protectedGroup = "(protected)"

// Zone classifies the route by its first path segment.
func (r Route) Zone() Zone {
	first := strings.TrimPrefix(string(r), "/")
	if i := strings.IndexByte(first, '/'); i >= 0 {
		first = first[:i]
	}
	if first == protectedGroup {
		return ZoneProtected
	}
	return ZonePublic
}

// Decision is the outcome of evaluating the gate for one route.
type Decision struct {
	Redirect bool  `json:"redirect"`
	To       Route `json:"to,omitempty"`
}

// Target returns the route the user ends up on.
func (d Decision) Target(current Route) Route {
	if d.Redirect {
		return d.To
	}
	return current
}

// Decide is the gate over zones. It is total and pure:
// unauthenticated users never stay in the protected zone and
// authenticated users never stay in the public zone.
func Decide(isAuthenticated bool, zone Zone) Decision {
	switch {
	case !isAuthenticated && zone == ZoneProtected:
		return Decision{Redirect: true, To: EntryRoute}
	case isAuthenticated && zone != ZoneProtected:
		return Decision{Redirect: true, To: RoleSelectionRoute}
	default:
		return Decision{}
	}
}

// Gate evaluates the navigation gate for a route.
func Gate(isAuthenticated bool, route Route) Decision {
	return Decide(isAuthenticated, route.Zone())
}
