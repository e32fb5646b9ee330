package session

import "sync"

// User is the signed-in person as far as navigation cares.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// State is an immutable snapshot of the authentication context.
type State struct {
	Authenticated bool  `json:"is_authenticated"`
	User          *User `json:"user"`
	Role          Role  `json:"role"`
}

// Reader is the read side handed to screens and middleware.
type Reader interface {
	Snapshot() State
	IsAuthenticated() bool
	Role() Role
}

// Context owns the session state. Login, Logout and SelectRole are the only
// writers; any number of goroutines may read concurrently.
type Context struct {
	mu        sync.RWMutex
	state     State
	token     string
	listeners map[int]func(State)
	nextID    int
}

var _ Reader = (*Context)(nil)

func NewContext() *Context {
	return &Context{listeners: map[int]func(State){}}
}

func (c *Context) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func (c *Context) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Authenticated
}

func (c *Context) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Role
}

// Token is the bearer token of the current session, empty when signed out.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login replaces the session. The role starts unset.
func (c *Context) Login(user User, token string) {
	c.update(func(s *State) {
		u := user
		*s = State{Authenticated: true, User: &u}
		c.token = token
	})
}

// Logout clears the user, the token and the role.
func (c *Context) Logout() {
	c.update(func(s *State) {
		*s = State{}
		c.token = ""
	})
}

func (c *Context) SelectRole(r Role) error {
	var err error
	c.update(func(s *State) {
		if !s.Authenticated {
			err = ErrNotAuthenticated
			return
		}
		var next Role
		next, err = s.Role.Select(r)
		if err == nil {
			s.Role = next
		}
	})
	return err
}

// Navigate applies the gate to route using the current state.
func (c *Context) Navigate(route Route) Route {
	return Gate(c.IsAuthenticated(), route).Target(route)
}

// OnChange registers fn to be called after every state change.
// The returned func removes the listener.
func (c *Context) OnChange(fn func(State)) func() {
	c.mu.Lock()
	if c.listeners == nil {
		c.listeners = map[int]func(State){}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Context) update(fn func(*State)) {
	c.mu.Lock()
	before := c.state
	fn(&c.state)
	after := c.state
	listeners := make([]func(State), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()
	if before == after {
		return
	}
	for _, l := range listeners {
		l(after)
	}
}
