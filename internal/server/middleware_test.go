package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func loginRequest(remote, forwarded string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	req.RemoteAddr = remote
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}
	return req
}

func TestClientKey(t *testing.T) {
	untrusted, err := newRateLimiter("/v1", RateLimit{RPS: 1})
	if err != nil {
		t.Fatal(err)
	}
	proxied, err := newRateLimiter("/v1", RateLimit{RPS: 1, TrustedProxies: []string{"10.0.0.0/8", "192.0.2.7"}})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name    string
		limiter *rateLimiter
		remote  string
		xff     string
		want    string
	}{
		{"peer without proxies", untrusted, "198.51.100.4:5000", "", "198.51.100.4"},
		{"header ignored from untrusted peer", untrusted, "198.51.100.4:5000", "203.0.113.9", "198.51.100.4"},
		{"header honoured from trusted proxy", proxied, "10.1.2.3:443", "203.0.113.9", "203.0.113.9"},
		{"trusted hops skipped", proxied, "10.1.2.3:443", "203.0.113.9, 192.0.2.7", "203.0.113.9"},
		{"spoofed left-most hop ignored", proxied, "10.1.2.3:443", "1.1.1.1, 203.0.113.9", "203.0.113.9"},
		{"garbage header falls back to peer", proxied, "10.1.2.3:443", "not-an-ip", "10.1.2.3"},
		{"ipv6 peer", untrusted, "[2001:db8::1]:8080", "", "2001:db8::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.limiter.clientKey(loginRequest(tc.remote, tc.xff)); got != tc.want {
				t.Fatalf("clientKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	l, err := newRateLimiter("/v1", RateLimit{RPS: 0.001, Burst: 1, IdleTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.allow("a") || l.allow("a") {
		t.Fatalf("expected burst of one for a")
	}
	l.allow("b")
	if l.size() != 2 {
		t.Fatalf("expected two tracked clients, got %d", l.size())
	}

	now = now.Add(2 * time.Minute)
	if !l.allow("c") {
		t.Fatalf("new client should be allowed")
	}
	if l.size() != 1 {
		t.Fatalf("idle clients should be evicted, got %d", l.size())
	}
	if !l.allow("a") {
		t.Fatalf("evicted client starts with a fresh burst")
	}
}

func TestRateLimitRejectsBadProxy(t *testing.T) {
	if _, err := newRateLimiter("/v1", RateLimit{RPS: 1, TrustedProxies: []string{"10.0.0.0/99"}}); err == nil {
		t.Fatalf("expected invalid CIDR error")
	}
}
