package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/Chloe7243/Errandhub/internal/engine"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/logging"
	"github.com/Chloe7243/Errandhub/internal/media"
	"github.com/Chloe7243/Errandhub/internal/messaging"
	"github.com/Chloe7243/Errandhub/internal/payment"
	"github.com/Chloe7243/Errandhub/internal/repo"
	"github.com/Chloe7243/Errandhub/internal/session"
	"github.com/Chloe7243/Errandhub/internal/validate"
)

const DefaultBasePath = "/v1"

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	Auth   auth.Service
	Hub    *messaging.Hub
	Media  media.Uploader
	// MediaFiles serves locally stored uploads under /media when set.
	MediaFiles http.Handler
	BasePath   string
	RateLimit  RateLimit
	Logger     *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Discard()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid transition: cannot confirm an errand that is posted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"posted\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the ErrandHub API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Hub == nil {
		return nil, errors.New("server: messaging hub is required")
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(cfg.logger()))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isJSON(r) {
				next.ServeHTTP(w, r)
				return
			}
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	limiter, err := newRateLimiter(basePath, cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	router.Use(limiter.middleware)
	router.Use(newGateMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("ErrandHub API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGate(group)
	registerAuth(group, cfg.Auth)
	registerQuotes(group, cfg.Engine)
	registerErrands(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerChat(group, cfg.Hub)
	registerChatStream(router, basePath, cfg.Hub, cfg.logger())
	registerMedia(router, basePath, cfg.Media)
	registerHelper(group, cfg.Engine)
	registerSafety(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)
	if cfg.MediaFiles != nil {
		router.Handle("/media/*", cfg.MediaFiles)
	}

	return router, nil
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(ct, "application/json")
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if fe, ok := validate.AsFieldErrors(err); ok {
		return newAPIError(http.StatusBadRequest, "validation_failed", "Please fix the highlighted fields", map[string]any{"fields": map[string]string(fe)})
	}
	var te lifecycle.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": string(te.From), "action": string(te.Action)})
	}
	var ae lifecycle.ActorError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": string(ae.Action)})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var rr auth.RoleRequiredError
	if errors.As(err, &rr) {
		return newAPIError(http.StatusConflict, "role_required", err.Error(), map[string]any{"want": rr.Want.String(), "redirect": string(session.RoleSelectionRoute)})
	}
	var wr auth.WrongRoleError
	if errors.As(err, &wr) {
		return newAPIError(http.StatusForbidden, "wrong_role", err.Error(), map[string]any{"want": wr.Want.String(), "have": wr.Have.String()})
	}
	var pe *payment.ProviderError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "payment_failed", "payment provider failed", map[string]any{"op": pe.Op, "retryable": pe.Retryable})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	case errors.Is(err, auth.ErrSessionRevoked):
		return newAPIError(http.StatusUnauthorized, "session_revoked", err.Error(), map[string]any{"redirect": string(session.EntryRoute)})
	case errors.Is(err, auth.ErrSessionExpired):
		return newAPIError(http.StatusUnauthorized, "session_expired", err.Error(), map[string]any{"redirect": string(session.EntryRoute)})
	case errors.Is(err, auth.ErrDuplicateEmail):
		return newAPIError(http.StatusConflict, "duplicate_email", err.Error(), map[string]any{"fields": map[string]string{"email": err.Error()}})
	case errors.Is(err, session.ErrRoleAlreadySelected):
		return newAPIError(http.StatusConflict, "role_already_selected", err.Error(), nil)
	case errors.Is(err, session.ErrInvalidRole),
		errors.Is(err, lifecycle.ErrUnknownAction),
		errors.Is(err, media.ErrEmpty):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, payment.ErrHoldClosed), errors.Is(err, payment.ErrHoldExists):
		return newAPIError(http.StatusConflict, "payment_conflict", err.Error(), nil)
	case errors.Is(err, payment.ErrHoldNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrFormRequired):
		return newAPIError(http.StatusBadRequest, "form_required", err.Error(), nil)
	case errors.Is(err, engine.ErrHelperOffline):
		return newAPIError(http.StatusConflict, "helper_offline", err.Error(), nil)
	case errors.Is(err, engine.ErrDisputeWindowClosed):
		return newAPIError(http.StatusConflict, "dispute_window_closed", err.Error(), nil)
	case errors.Is(err, messaging.ErrChatClosed):
		return newAPIError(http.StatusConflict, "chat_closed", err.Error(), nil)
	case errors.Is(err, messaging.ErrEmptyMessage), errors.Is(err, messaging.ErrBothContent):
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, media.ErrTooLarge):
		return newAPIError(http.StatusRequestEntityTooLarge, "too_large", err.Error(), nil)
	case errors.Is(err, media.ErrUnsupportedType):
		return newAPIError(http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	for route, item := range oas.Paths {
		open := routeZone(basePath, route) != zoneProtected
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>ErrandHub API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Sign in with POST /auth/login and send Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGate(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "gate",
		Method:      http.MethodGet,
		Path:        "/gate",
		Summary:     "Evaluate the navigation gate for an app route",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Route         string `query:"route" required:"true" example:"/(protected)/requester/home"`
		Authenticated bool   `query:"authenticated"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		route := session.Route(input.Route)
		d := session.Gate(input.Authenticated, route)
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: GateResponse{
			Route:    input.Route,
			Zone:     route.Zone().String(),
			Redirect: d.Redirect,
			To:       string(d.To),
			Target:   string(d.Target(route)),
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events for an errand the caller is part of",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ErrandID string `query:"errand_id" required:"true"`
		Type     string `query:"type"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Participant(ctx, input.ErrandID, principal.UserID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, "errand", input.ErrandID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
