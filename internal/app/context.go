// Package app assembles the services of a workspace for the CLI and the API server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Chloe7243/Errandhub/internal/config"
	"github.com/Chloe7243/Errandhub/internal/db"
	"github.com/Chloe7243/Errandhub/internal/engine"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/logging"
	"github.com/Chloe7243/Errandhub/internal/media"
	"github.com/Chloe7243/Errandhub/internal/messaging"
	"github.com/Chloe7243/Errandhub/internal/migrate"
	"github.com/Chloe7243/Errandhub/internal/repo"
)

var ErrSecretMissing = errors.New("jwt secret not set; export ERRANDHUB_JWT_SECRET or pass --jwt-secret")

type Options struct {
	Workspace string
	// Secret signs session tokens. Commands that never issue or check a
	// token may leave it empty.
	Secret string
	Logger *slog.Logger
	Now    func() time.Time
}

// App is an opened workspace.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Repo      repo.Repo
	Engine    engine.Engine
	Auth      auth.Service
	Hub       *messaging.Hub
	Broker    *messaging.RedisBroker
	Media     media.Uploader
	// Files serves uploads when they are stored on local disk.
	Files  http.Handler
	Logger *slog.Logger
}

// Open resolves the workspace config, migrates its database and wires the services.
// A missing config file falls back to defaults.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := ResolveConfig(opts.Workspace)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.NewRunner(conn, logger).Up(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	eng := engine.New(conn, cfg)
	eng.Now = now
	a := &App{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Repo:      eng.Repo,
		Engine:    eng,
		Auth: auth.Service{
			DB:     conn,
			Repo:   eng.Repo,
			Secret: opts.Secret,
			Issuer: cfg.Auth.Issuer,
			TTL:    cfg.TokenTTL(),
			Now:    now,
		},
		Logger: logger,
	}

	a.Hub = messaging.NewHub(conn, eng)
	a.Hub.Now = now
	if cfg.Messaging.RedisURL != "" {
		client, err := messaging.Connect(cfg.Messaging.RedisURL)
		if err != nil {
			conn.Close()
			return nil, err
		}
		a.Broker = &messaging.RedisBroker{Client: client, Channel: cfg.Messaging.Channel, Logger: logger}
		a.Hub.Remote = a.Broker
	}

	store, err := media.NewStore(ctx, opts.Workspace, cfg.Media)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Media = media.NewUploader(conn, store, cfg.Media.MaxBytes)
	a.Media.Now = now
	if local, ok := store.(media.LocalStore); ok {
		a.Files = local.Handler()
	}
	return a, nil
}

// ResolveConfig loads errandhub.yml from workspace, or the defaults when absent.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// RequireSecret fails when no signing secret was configured.
func (a *App) RequireSecret() error {
	if a.Auth.Secret == "" {
		return ErrSecretMissing
	}
	return nil
}

func (a *App) Close() error {
	if a.Broker != nil {
		a.Broker.Client.Close()
	}
	return a.DB.Close()
}
