package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Platform.Currency != "GBP" || cfg.RateLimit.IdleMinutes != 10 || len(cfg.RateLimit.TrustedProxies) != 0 {
		t.Fatalf("unexpected defaults %+v", cfg.RateLimit)
	}
}

func TestFromYAMLRejects(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"empty currency": {"platform:\n  currency: \"\"\n", "platform.currency"},
		"bad currency":   {"platform:\n  currency: XYZQ\n", "platform.currency"},
		"bad proxy":      {"rate_limit:\n  trusted_proxies: [\"10.0.0.0/99\"]\n", "trusted_proxies"},
		"negative idle":  {"rate_limit:\n  idle_minutes: -1\n", "idle_minutes"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFromYAMLTrustedProxies(t *testing.T) {
	cfg, err := FromYAML([]byte("rate_limit:\n  trusted_proxies: [\"10.0.0.0/8\", \"192.0.2.7\"]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.RateLimit.TrustedProxies) != 2 || cfg.RateLimit.RPS != 5 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
}
