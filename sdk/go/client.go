package errandhubsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Chloe7243/Errandhub/internal/session"
)

// Client is a minimal ErrandHub HTTP API client. It keeps the signed-in
// user, token and role in Session the same way the apps do.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Session    *session.Context
}

// New creates a signed-out client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
		Session: session.NewContext(),
	}
}

type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
}

type SessionInfo struct {
	IsAuthenticated bool    `json:"is_authenticated"`
	User            *User   `json:"user"`
	Role            *string `json:"role"`
	SessionID       string  `json:"session_id"`
	ExpiresAt       string  `json:"expires_at"`
}

type Signup struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Errand represents the API errand model (partial).
type Errand struct {
	ID               string  `json:"id"`
	RequesterID      string  `json:"requester_id"`
	HelperID         *string `json:"helper_id,omitempty"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Category         string  `json:"category"`
	TaskType         string  `json:"task_type"`
	Stage            string  `json:"stage"`
	Status           string  `json:"status"`
	Store            string  `json:"store,omitempty"`
	DeliveryLocation string  `json:"delivery_location,omitempty"`
	PickupLocation   string  `json:"pickup_location,omitempty"`
	DropoffLocation  string  `json:"dropoff_location,omitempty"`
	ItemBudget       string  `json:"item_budget"`
	HelperPayment    string  `json:"helper_payment"`
	ServiceFee       string  `json:"service_fee"`
	PlatformFee      string  `json:"platform_fee"`
	Total            string  `json:"total"`
	Currency         string  `json:"currency"`
	CreatedAt        string  `json:"created_at"`
}

// NewErrand is the post-errand form. Amounts are decimal strings.
type NewErrand struct {
	TaskType          string `json:"taskType"`
	Title             string `json:"title,omitempty"`
	Category          string `json:"category,omitempty"`
	Description       string `json:"description,omitempty"`
	Store             string `json:"store,omitempty"`
	DeliveryLocation  string `json:"deliveryLocation,omitempty"`
	ItemBudget        string `json:"itemBudget,omitempty"`
	AllowSubstitution bool   `json:"allowSubstitution,omitempty"`
	PickupLocation    string `json:"pickupLocation,omitempty"`
	DropoffLocation   string `json:"dropoffLocation,omitempty"`
	PickupReference   string `json:"pickupReference,omitempty"`
	HelperPayment     string `json:"helperPayment,omitempty"`
}

type ErrandView struct {
	Errand       Errand   `json:"errand"`
	ShowStepper  bool     `json:"show_stepper"`
	Affordances  []string `json:"affordances"`
	ReviewChecks []string `json:"review_checks,omitempty"`
}

type Receipt struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type AdvanceResult struct {
	Errand  Errand   `json:"errand"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

type Quote struct {
	Total   string      `json:"total"`
	Display string      `json:"display"`
	Lines   [][2]string `json:"lines"`
}

type Payment struct {
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Total  string `json:"total"`
	} `json:"payment"`
	Display string `json:"display"`
}

type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	SenderID string `json:"sender_id"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	SentAt   string `json:"sent_at"`
}

type HelperStats struct {
	HelperID    string `json:"helper_id"`
	TotalEarned string `json:"total_earned"`
	Completed   int    `json:"completed"`
	Disputed    int    `json:"disputed"`
	Display     string `json:"display"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type Media struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Page wraps list responses with cursors.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Redirect is the app route the server asked the caller to move to, if any.
func (e *APIError) Redirect() session.Route {
	if to, ok := e.Details["redirect"].(string); ok {
		return session.Route(to)
	}
	return ""
}

// Fields returns per-field validation messages.
func (e *APIError) Fields() map[string]string {
	raw, ok := e.Details["fields"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k], _ = v.(string)
	}
	return out
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) Signup(ctx context.Context, in Signup) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPost, "auth/signup", in, &resp)
	return resp, err
}

// Login signs in and stores the session. The role starts unset.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.sess().Login(session.User{
		ID:        resp.User.ID,
		FirstName: resp.User.FirstName,
		LastName:  resp.User.LastName,
		Email:     resp.User.Email,
	}, resp.Token)
	return resp.User, nil
}

// Logout revokes the session server-side and clears it locally either way.
func (c *Client) Logout(ctx context.Context) error {
	if !c.sess().IsAuthenticated() {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "auth/logout", nil, nil)
	c.sess().Logout()
	return err
}

// SelectRole picks the role for the rest of the session.
func (c *Client) SelectRole(ctx context.Context, role session.Role) error {
	if !role.IsSet() {
		return session.ErrInvalidRole
	}
	var resp SessionInfo
	if err := c.do(ctx, http.MethodPut, "session/role", map[string]string{"role": role.String()}, &resp); err != nil {
		return err
	}
	return c.sess().SelectRole(role)
}

func (c *Client) Me(ctx context.Context) (SessionInfo, error) {
	var resp SessionInfo
	err := c.do(ctx, http.MethodGet, "session", nil, &resp)
	return resp, err
}

// Navigate returns where the app should land when opening route.
func (c *Client) Navigate(route session.Route) session.Route {
	return c.sess().Navigate(route)
}

func (c *Client) Quote(ctx context.Context, itemBudget, helperPayment string) (Quote, error) {
	var resp Quote
	body := map[string]string{"itemBudget": itemBudget, "helperPayment": helperPayment}
	err := c.do(ctx, http.MethodPost, "quotes", body, &resp)
	return resp, err
}

func (c *Client) CreateErrand(ctx context.Context, in NewErrand) (Errand, error) {
	var resp Errand
	err := c.do(ctx, http.MethodPost, "errands", in, &resp)
	return resp, err
}

// ListErrands lists errands. scope is "mine" or "available"; status filters
// by new, active, completed, cancelled or disputed.
func (c *Client) ListErrands(ctx context.Context, scope, status string, limit int, cursor string) (Page[Errand], error) {
	q := url.Values{}
	setQuery(q, "scope", scope)
	setQuery(q, "status", status)
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp Page[Errand]
	err := c.do(ctx, http.MethodGet, withQuery("errands", q), nil, &resp)
	return resp, err
}

func (c *Client) GetErrand(ctx context.Context, id string) (ErrandView, error) {
	var resp ErrandView
	err := c.do(ctx, http.MethodGet, "errands/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Advance runs accept, start, confirm or cancel.
func (c *Client) Advance(ctx context.Context, id, action string) (AdvanceResult, error) {
	var resp AdvanceResult
	endpoint := fmt.Sprintf("errands/%s/actions/%s", url.PathEscape(id), url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) SubmitProof(ctx context.Context, id, imageURL, note string) (AdvanceResult, error) {
	var resp AdvanceResult
	body := map[string]string{"imageUrl": imageURL, "note": note}
	err := c.do(ctx, http.MethodPost, "errands/"+url.PathEscape(id)+"/proof", body, &resp)
	return resp, err
}

func (c *Client) RaiseDispute(ctx context.Context, id, reason, explanation string, evidence []string) (AdvanceResult, error) {
	var resp AdvanceResult
	body := map[string]any{"reason": reason, "explanation": explanation, "evidenceImages": evidence}
	err := c.do(ctx, http.MethodPost, "errands/"+url.PathEscape(id)+"/disputes", body, &resp)
	return resp, err
}

func (c *Client) Payment(ctx context.Context, id string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodGet, "errands/"+url.PathEscape(id)+"/payment", nil, &resp)
	return resp, err
}

func (c *Client) SendMessage(ctx context.Context, errandID, text, imageURL string) (Message, error) {
	var resp Message
	body := map[string]string{}
	setBody(body, "text", text)
	setBody(body, "imageUrl", imageURL)
	err := c.do(ctx, http.MethodPost, "errands/"+url.PathEscape(errandID)+"/messages", body, &resp)
	return resp, err
}

func (c *Client) Messages(ctx context.Context, errandID string, limit int, cursor string) (Page[Message], error) {
	q := url.Values{}
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp Page[Message]
	err := c.do(ctx, http.MethodGet, withQuery("errands/"+url.PathEscape(errandID)+"/messages", q), nil, &resp)
	return resp, err
}

func (c *Client) SetAvailability(ctx context.Context, available bool, radiusKm float64) error {
	body := map[string]any{"available": available}
	if radiusKm > 0 {
		body["radiusKm"] = radiusKm
	}
	return c.do(ctx, http.MethodPut, "helper/availability", body, nil)
}

func (c *Client) HelperStats(ctx context.Context) (HelperStats, error) {
	var resp HelperStats
	err := c.do(ctx, http.MethodGet, "helper/stats", nil, &resp)
	return resp, err
}

// Events returns an errand's events, newest first.
func (c *Client) Events(ctx context.Context, errandID string, limit int, cursor string) (Page[Event], error) {
	q := url.Values{}
	q.Set("errand_id", errandID)
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp Page[Event]
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

// Upload sends an image and returns the stored media record.
func (c *Client) Upload(ctx context.Context, contentType string, body io.Reader) (Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/media", body)
	if err != nil {
		return Media{}, err
	}
	req.Header.Set("Content-Type", contentType)
	var resp Media
	err = c.send(req, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if token := c.sess().Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)
		// A revoked or expired session sends the apps back to the entry screen.
		if resp.StatusCode == http.StatusUnauthorized && apiErr.Redirect() == session.EntryRoute {
			c.Session.Logout()
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func setBody(body map[string]string, key, value string) {
	if value != "" {
		body[key] = value
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) sess() *session.Context {
	if c.Session == nil {
		c.Session = session.NewContext()
	}
	return c.Session
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
