package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Chloe7243/Errandhub/internal/app"
	"github.com/Chloe7243/Errandhub/internal/config"
	"github.com/Chloe7243/Errandhub/internal/db"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/logging"
	"github.com/Chloe7243/Errandhub/internal/server"
	"github.com/Chloe7243/Errandhub/internal/session"
)

const tokenKey = "ERRANDHUB_TOKEN"

var rootCmd = &cobra.Command{
	Use:   "eh",
	Short: "ErrandHub CLI",
	Long: `ErrandHub is a campus errand marketplace: requesters post shopping or pickup
errands, helpers accept and run them, and the payment is held until the
requester confirms the proof.
- Workspace: the .errandhub directory with the database, plus errandhub.yml for fees and policies.
- Session: 'eh login' stores a token in <workspace>/.env; pick requester or helper once per session with 'eh role'.
- Errands move posted -> accepted -> in_progress -> reviewing -> completed; cancelled and disputed are exits.
- Event log: every change is recorded, view it with 'eh log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ERRANDHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("jwt-secret", "", "token signing secret")
	rootCmd.PersistentFlags().String("token", "", "session token (defaults to the one saved by login)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("jwt-secret", rootCmd.PersistentFlags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(signupCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(errandCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(helperCmd())
	rootCmd.AddCommand(safetyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func signupCmd() *cobra.Command {
	var req auth.SignupRequest
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Auth.Signup(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&req.Email, "email", "", "university email")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&req.Password, "password", "", "password")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session token for this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.RequireSecret(); err != nil {
					return err
				}
				res, err := a.Auth.Login(ctx, email, password)
				if err != nil {
					return err
				}
				if err := setEnvValue(envPath(), tokenKey, res.Token); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Signed in as %s %s. Choose a role with 'eh role requester|helper'.\n", res.User.FirstName, res.User.LastName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				if err := a.Auth.Logout(ctx, p.SessionID, p.UserID); err != nil {
					return err
				}
				if err := setEnvValue(envPath(), tokenKey, ""); err != nil {
					return err
				}
				fmt.Println("Signed out")
				return nil
			})
		},
	}
	return cmd
}

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				u, s, err := a.Auth.Me(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": u, "session": s})
				}
				role := session.MatchRole(p.Role,
					func() string { return "(none, run 'eh role')" },
					func() string { return "requester" },
					func() string { return "helper" },
				)
				fmt.Printf("%s %s <%s>\nrole: %s\nexpires: %s\n", u.FirstName, u.LastName, u.Email, role, s.ExpiresAt)
				return nil
			})
		},
	}
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role <requester|helper>",
		Short: "Choose the role for this session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := session.ParseRole(args[0])
			if err != nil || !role.IsSet() {
				return fmt.Errorf("role must be requester or helper")
			}
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				s, err := a.Auth.SelectRole(ctx, p.SessionID, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "errandhub.yml holds fees, cancellation and dispute policy, media storage, messaging and webhooks. Missing keys fall back to defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default errandhub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate errandhub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: sign-ins, errand moves, payments, messages and uploads.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the API, delivers webhooks and, when messaging.redis_url is set, relays chat between instances.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := app.ResolveConfig(workspace)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), app.Options{
				Workspace: workspace,
				Secret:    viper.GetString("jwt-secret"),
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.RequireSecret(); err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:     a.Engine,
				Auth:       a.Auth,
				Hub:        a.Hub,
				Media:      a.Media,
				MediaFiles: a.Files,
				BasePath:   basePath,
				RateLimit: server.RateLimit{
					RPS:            a.Config.RateLimit.RPS,
					Burst:          a.Config.RateLimit.Burst,
					TrustedProxies: a.Config.RateLimit.TrustedProxies,
					IdleTTL:        time.Duration(a.Config.RateLimit.IdleMinutes) * time.Minute,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				logger.Info("serving ErrandHub API", "addr", "http://"+addr+basePath, "openapi", "/openapi.json", "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return server.NewWebhookDispatcher(a.Repo, a.Config.Webhooks, logger).Run(ctx)
			})
			if a.Broker != nil {
				g.Go(func() error {
					return a.Broker.Run(ctx, a.Hub)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", server.DefaultBasePath, "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Secret:    viper.GetString("jwt-secret"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withPrincipal authenticates the saved token before running fn.
func withPrincipal(ctx context.Context, fn func(context.Context, *app.App, auth.Principal) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		if err := a.RequireSecret(); err != nil {
			return err
		}
		token := viper.GetString("token")
		if token == "" {
			saved, err := readEnvValue(envPath(), tokenKey)
			if err != nil {
				return err
			}
			token = saved
		}
		if token == "" {
			return fmt.Errorf("not signed in; run 'eh login'")
		}
		p, err := a.Auth.Authenticate(ctx, token)
		if err != nil {
			return fmt.Errorf("session: %w; run 'eh login'", err)
		}
		return fn(ctx, a, p)
	})
}

func envPath() string {
	return filepath.Join(viper.GetString("workspace"), ".env")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readEnvValue(path, key string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	value := ""
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), key+"="); ok {
			value = strings.TrimSpace(v)
		}
	}
	return value, scanner.Err()
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
