package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Chloe7243/Errandhub/internal/config"
	"github.com/Chloe7243/Errandhub/internal/db"
	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/engine"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/media"
	"github.com/Chloe7243/Errandhub/internal/messaging"
	"github.com/Chloe7243/Errandhub/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, rl RateLimit) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	store, err := media.NewStore(context.Background(), workspace, cfg.Media)
	if err != nil {
		t.Fatalf("media store: %v", err)
	}
	handler, err := New(Config{
		Engine: e,
		Auth: auth.Service{
			DB:     conn,
			Repo:   e.Repo,
			Secret: "test-secret",
			Issuer: cfg.Auth.Issuer,
			TTL:    cfg.TokenTTL(),
			Cost:   bcrypt.MinCost,
		},
		Hub:        messaging.NewHub(conn, e),
		Media:      media.NewUploader(conn, store, cfg.Media.MaxBytes),
		MediaFiles: store.(media.LocalStore).Handler(),
		BasePath:   "/v1",
		RateLimit:  rl,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// signIn creates an account, logs in and selects role when non-empty.
func signIn(t *testing.T, srv *testServer, first, role string) (string, string) {
	t.Helper()
	email := strings.ToLower(first) + "@kcl.ac.uk"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", map[string]any{
		"firstName": first,
		"lastName":  "Test",
		"email":     email,
		"phone":     "07123456789",
		"password":  "secret1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: %d %s", first, res.StatusCode, data)
	}
	var user UserResponse
	_ = json.Unmarshal(data, &user)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    email,
		"password": "secret1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", first, res.StatusCode, data)
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if role != "" {
		res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/session/role", map[string]any{"role": role}, bearer(login.Token))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("select role %s: %d %s", role, res.StatusCode, data)
		}
	}
	return login.Token, user.ID
}

func postShopping(t *testing.T, srv *testServer, token string) domain.Errand {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands", map[string]any{
		"taskType":         "shopping",
		"description":      "Milk, bread and eggs",
		"store":            "Tesco Express",
		"deliveryLocation": "Halls Block B",
		"itemBudget":       "8.00",
		"helperPayment":    "3.00",
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create errand: %d %s", res.StatusCode, data)
	}
	var e domain.Errand
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("decode errand: %v", err)
	}
	return e
}

func TestGateZones(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/errands", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	if env := decodeError(t, data); env.Error.Details["redirect"] != "/" {
		t.Fatalf("expected redirect to entry, got %v", env.Error.Details)
	}

	token, _ := signIn(t, srv, "Ada", "")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email": "ada@kcl.ac.uk", "password": "secret1",
	}, bearer(token))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for signed-in login, got %d %s", res.StatusCode, data)
	}
	env := decodeError(t, data)
	if env.Error.Code != "already_authenticated" || env.Error.Details["redirect"] != "/(protected)/role-selection" {
		t.Fatalf("unexpected envelope %+v", env.Error)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/gate?route=/(protected)/requester/home&authenticated=false", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gate: %d %s", res.StatusCode, data)
	}
	var gate GateResponse
	_ = json.Unmarshal(data, &gate)
	if !gate.Redirect || gate.To != "/" || gate.Zone != "protected" {
		t.Fatalf("unexpected gate %+v", gate)
	}
}

func TestRoleGating(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()

	token, _ := signIn(t, srv, "Ada", "")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/errands", nil, bearer(token))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "role_required" {
		t.Fatalf("expected role_required, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/session/role", map[string]any{"role": "helper"}, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("select role: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/session/role", map[string]any{"role": "requester"}, bearer(token))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "role_already_selected" {
		t.Fatalf("expected role_already_selected, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands", map[string]any{"taskType": "pickup"}, bearer(token))
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Error.Code != "wrong_role" {
		t.Fatalf("expected wrong_role, got %d %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/logout", nil, bearer(token))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/session", nil, bearer(token))
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Error.Code != "session_revoked" {
		t.Fatalf("expected revoked session, got %d %s", res.StatusCode, data)
	}
}

func TestValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", map[string]any{
		"firstName": "Ada",
		"email":     "ada@gmail.com",
		"phone":     "12",
		"password":  "123",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, data)
	}
	env := decodeError(t, data)
	fields, _ := env.Error.Details["fields"].(map[string]any)
	if env.Error.Code != "validation_failed" || fields["email"] != "Must be a university email" || fields["lastName"] == nil {
		t.Fatalf("unexpected envelope %+v", env.Error)
	}
}

func TestErrandLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()
	reqToken, _ := signIn(t, srv, "Rita", "requester")
	helpToken, helperID := signIn(t, srv, "Hugo", "helper")

	errand := postShopping(t, srv, reqToken)
	if errand.Total.String() != "11.28" || errand.Stage != "posted" {
		t.Fatalf("unexpected errand %+v", errand)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands/"+errand.ID+"/actions/accept", nil, bearer(helpToken))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "helper_offline" {
		t.Fatalf("expected helper_offline, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/helper/availability", map[string]any{"available": true, "radiusKm": 2}, bearer(helpToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/errands?scope=available", nil, bearer(helpToken))
	var page paginatedErrands
	_ = json.Unmarshal(data, &page)
	if res.StatusCode != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("expected one open errand, got %d %s", res.StatusCode, data)
	}

	for _, action := range []string{"accept", "start"} {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands/"+errand.ID+"/actions/"+action, nil, bearer(helpToken))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", action, res.StatusCode, data)
		}
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands/"+errand.ID+"/actions/confirm", nil, bearer(reqToken))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands/"+errand.ID+"/proof", map[string]any{
		"imageUrl": "/media/receipt.jpg",
		"note":     "Left at reception",
	}, bearer(helpToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("proof: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/errands/"+errand.ID, nil, bearer(reqToken))
	var view engine.ErrandView
	_ = json.Unmarshal(data, &view)
	if res.StatusCode != http.StatusOK || view.Errand.Stage != "reviewing" || view.Proof == nil || len(view.ReviewChecks) == 0 {
		t.Fatalf("unexpected view %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands/"+errand.ID+"/actions/confirm", nil, bearer(reqToken))
	var adv engine.AdvanceResult
	_ = json.Unmarshal(data, &adv)
	if res.StatusCode != http.StatusOK || adv.Errand.Stage != "completed" || adv.Receipt == nil || adv.Receipt.Status != "released" {
		t.Fatalf("confirm: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/errands/"+errand.ID+"/payment", nil, bearer(helpToken))
	var pay PaymentResponse
	_ = json.Unmarshal(data, &pay)
	if res.StatusCode != http.StatusOK || pay.Payment.Status != "released" || len(pay.Entries) != 2 || pay.Display != "£11.28" {
		t.Fatalf("payment: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/helper/stats", nil, bearer(helpToken))
	var stats HelperStatsResponse
	_ = json.Unmarshal(data, &stats)
	if res.StatusCode != http.StatusOK || stats.Completed != 1 || stats.HelperID != helperID {
		t.Fatalf("stats: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?errand_id="+errand.ID+"&limit=2", nil, bearer(reqToken))
	var evts paginatedEvents
	_ = json.Unmarshal(data, &evts)
	if res.StatusCode != http.StatusOK || len(evts.Items) != 2 || evts.NextCursor == "" {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
}

func TestQuote(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()
	token, _ := signIn(t, srv, "Rita", "requester")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/quotes", map[string]any{
		"itemBudget": "8.00", "helperPayment": "3.00",
	}, bearer(token))
	var q QuoteResponse
	_ = json.Unmarshal(data, &q)
	if res.StatusCode != http.StatusOK || q.Total != "11.28" || q.Display != "£11.28" {
		t.Fatalf("quote: %d %s", res.StatusCode, data)
	}
}

func TestChatOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()
	reqToken, _ := signIn(t, srv, "Rita", "requester")
	helpToken, _ := signIn(t, srv, "Hugo", "helper")
	outsider, _ := signIn(t, srv, "Olga", "helper")
	errand := postShopping(t, srv, reqToken)

	msgURL := srv.URL + "/v1/errands/" + errand.ID + "/messages"
	res, data := doJSON(t, srv.Client(), http.MethodPost, msgURL, map[string]any{"text": "anyone?"}, bearer(reqToken))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "chat_closed" {
		t.Fatalf("expected chat_closed, got %d %s", res.StatusCode, data)
	}

	doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/helper/availability", map[string]any{"available": true}, bearer(helpToken))
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/errands/"+errand.ID+"/actions/accept", nil, bearer(helpToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, data)
	}

	req, _ := http.NewRequest(http.MethodGet, msgURL+"/stream", nil)
	req.Header.Set("Authorization", "Bearer "+helpToken)
	stream, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK || !strings.HasPrefix(stream.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected stream response %d %s", stream.StatusCode, stream.Header.Get("Content-Type"))
	}
	got := make(chan domain.Message, 1)
	go func() {
		r := bufio.NewReader(stream.Body)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var m domain.Message
				if json.Unmarshal([]byte(data), &m) == nil {
					got <- m
					return
				}
			}
		}
	}()

	res, data = doJSON(t, srv.Client(), http.MethodPost, msgURL, map[string]any{"text": "I'm outside"}, bearer(reqToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("send: %d %s", res.StatusCode, data)
	}
	select {
	case m := <-got:
		if m.Text != "I'm outside" {
			t.Fatalf("unexpected streamed message %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for streamed message")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, msgURL, nil, bearer(helpToken))
	var page paginatedMessages
	_ = json.Unmarshal(data, &page)
	if res.StatusCode != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("history: %d %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, msgURL, nil, bearer(outsider))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected outsider forbidden, got %d", res.StatusCode)
	}
}

func TestMediaUpload(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()
	token, _ := signIn(t, srv, "Rita", "requester")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/media", bytes.NewReader(png))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", res.StatusCode, data)
	}
	var m domain.Media
	_ = json.Unmarshal(data, &m)

	res, err = srv.Client().Get(srv.URL + m.URL)
	if err != nil {
		t.Fatalf("fetch media: %v", err)
	}
	served, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !bytes.Equal(served, png) {
		t.Fatalf("unexpected served media %d", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/v1/media", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{RPS: 0.001, Burst: 2})
	defer cleanup()
	body := map[string]any{"email": "nobody@kcl.ac.uk", "password": "secret1"}
	var last *http.Response
	for i := 0; i < 3; i++ {
		last, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", body, nil)
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third attempt, got %d", last.StatusCode)
	}
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{RPS: 0.001, Burst: 2})
	defer cleanup()
	body := map[string]any{"email": "nobody@kcl.ac.uk", "password": "secret1"}
	var codes []int
	for i := 0; i < 5; i++ {
		res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", body,
			map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1)})
		codes = append(codes, res.StatusCode)
	}
	if codes[2] != http.StatusTooManyRequests || codes[4] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For should not reset the limit, got %v", codes)
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimit{})
	defer cleanup()

	var (
		mu       sync.Mutex
		received []map[string]any
		valid    = true
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if !VerifySignature("hook-secret", body, r.Header.Get(SignatureHeader)) {
			valid = false
		}
		var evt map[string]any
		_ = json.Unmarshal(body, &evt)
		received = append(received, evt)
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Secret: "hook-secret",
		Events: []string{events.ErrandPosted},
	}}, nil)
	ctx := context.Background()
	d.DispatchAll(ctx)

	token, _ := signIn(t, srv, "Rita", "requester")
	errand := postShopping(t, srv, token)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	if received[0]["type"] != events.ErrandPosted || received[0]["entity_id"] != errand.ID {
		t.Fatalf("unexpected delivery %v", received[0])
	}
	if !valid {
		t.Fatalf("signature did not verify")
	}
}
