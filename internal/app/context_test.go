package app

import (
	"context"
	"os"
	"testing"

	"github.com/Chloe7243/Errandhub/internal/config"
)

func TestOpenDefaults(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: ws})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Config.Platform.Currency != "GBP" {
		t.Fatalf("expected default currency, got %q", a.Config.Platform.Currency)
	}
	if a.Broker != nil {
		t.Fatalf("broker should be off without a redis url")
	}
	if a.Files == nil {
		t.Fatalf("expected local media handler")
	}
	if err := a.RequireSecret(); err != ErrSecretMissing {
		t.Fatalf("expected missing secret, got %v", err)
	}
	if _, err := a.Repo.LatestEventID(context.Background()); err != nil {
		t.Fatalf("expected migrated db: %v", err)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	cfg := "messaging:\n  redis_url: localhost:6379\n"
	if err := os.WriteFile(config.Path(ws), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := Open(context.Background(), Options{Workspace: ws, Secret: "s"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Broker == nil || a.Hub.Remote == nil {
		t.Fatalf("expected redis broker wired")
	}
	if a.Broker.Client.Options().Addr != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", a.Broker.Client.Options().Addr)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(config.Path(ws), []byte("platform:\n  currency: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(context.Background(), Options{Workspace: ws}); err == nil {
		t.Fatalf("expected config error")
	}
}
