package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/session"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p, nil
	}
	return auth.Principal{}, unauthenticated()
}

// requireRole returns the principal when it acts as want.
func requireRole(ctx context.Context, want session.Role) (auth.Principal, huma.StatusError) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return p, err
	}
	if err := p.RequireRole(want); err != nil {
		return p, handleError(err)
	}
	return p, nil
}

func unauthenticated() huma.StatusError {
	return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", map[string]any{"redirect": string(session.EntryRoute)})
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

type zone int

const (
	zoneOpen zone = iota
	zonePublic
	zoneProtected
)

// routeZone maps API paths onto the navigation gate: sign-up and login are
// the public zone, health, docs and the gate itself are open to everyone,
// and the rest of the API is protected.
func routeZone(basePath, p string) zone {
	if basePath != "" && !strings.HasPrefix(p, basePath) {
		return zoneOpen
	}
	switch strings.TrimPrefix(p, basePath) {
	case "/health", "/gate", "/openapi.json", "/openapi", "/openapi.yaml":
		return zoneOpen
	case "/auth/signup", "/auth/login":
		return zonePublic
	}
	if strings.HasPrefix(strings.TrimPrefix(p, basePath), "/openapi") {
		return zoneOpen
	}
	return zoneProtected
}

func newGateMiddleware(basePath string, svc auth.Service) func(http.Handler) http.Handler {
	basePath = path.Clean("/" + basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			z := routeZone(basePath, req.URL.Path)
			if z == zoneOpen {
				next.ServeHTTP(w, req)
				return
			}
			var (
				principal auth.Principal
				authErr   error
				present   bool
			)
			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				present = true
				token, ok := bearerToken(authz)
				if !ok {
					authErr = auth.ErrInvalidToken
				} else {
					principal, authErr = svc.Authenticate(req.Context(), token)
				}
			}
			authenticated := present && authErr == nil

			gz := session.ZonePublic
			if z == zoneProtected {
				gz = session.ZoneProtected
			}
			d := session.Decide(authenticated, gz)
			switch {
			case !d.Redirect:
			case z == zoneProtected:
				if present {
					respondStatusError(w, authFailure(authErr))
					return
				}
				respondStatusError(w, unauthenticated())
				return
			default:
				respondStatusError(w, newAPIError(http.StatusConflict, "already_authenticated", "already signed in", map[string]any{"redirect": string(d.To)}))
				return
			}
			if authenticated {
				req = req.WithContext(withPrincipal(req.Context(), principal))
			}
			next.ServeHTTP(w, req)
		})
	}
}

func authFailure(err error) huma.StatusError {
	switch {
	case errors.Is(err, auth.ErrSessionExpired), errors.Is(err, auth.ErrSessionRevoked):
		return handleError(err)
	default:
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", map[string]any{"redirect": string(session.EntryRoute)})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerAuth(api huma.API, svc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "signup",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Create an account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body SignupRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, err := svc.Signup(ctx, auth.SignupRequest(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Sign in and receive a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		res, err := svc.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{
			Token:   res.Token,
			User:    userResponse(res.User),
			Session: sessionResponse(res.User, res.Session),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Sign out and revoke the session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := svc.Logout(ctx, p.SessionID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current session",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, s, err := svc.Me(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(u, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-role",
		Method:      http.MethodPut,
		Path:        "/session/role",
		Summary:     "Choose requester or helper for this session",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body SelectRoleRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := session.ParseRole(input.Body.Role)
		if err != nil || !role.IsSet() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role must be requester or helper", map[string]any{"role": input.Body.Role})
		}
		s, err := svc.SelectRole(ctx, p.SessionID, role)
		if err != nil {
			return nil, handleError(err)
		}
		u, _, err := svc.Me(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(u, s)}, nil
	})
}
