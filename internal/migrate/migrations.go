// Package migrate applies the embedded schema to a workspace database.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Chloe7243/Errandhub/internal/logging"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Migration is one numbered file under sql/, named <version>_<name>.sql.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Applied is a row of schema_migrations.
type Applied struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Runner applies migrations from Source, one transaction per file.
type Runner struct {
	DB     *sql.DB
	Source fs.FS
	Dir    string
	Logger *slog.Logger
	Now    func() time.Time
}

// NewRunner returns a runner over the embedded schema.
func NewRunner(db *sql.DB, logger *slog.Logger) Runner {
	return Runner{DB: db, Source: migrationsFS, Dir: "sql", Logger: logger}
}

// Migrate brings db up to the latest embedded schema.
func Migrate(db *sql.DB) error {
	_, err := NewRunner(db, nil).Up(context.Background())
	return err
}

// Load reads and orders the migrations in r.Source.
func (r Runner) Load() ([]Migration, error) {
	files, err := fs.ReadDir(r.Source, r.Dir)
	if err != nil {
		return nil, err
	}
	var out []Migration
	seen := map[int]string{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(f.Name(), "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid migration filename %s", f.Name())
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, f.Name(), v)
		}
		seen[v] = f.Name()
		data, err := fs.ReadFile(r.Source, path.Join(r.Dir, f.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: v, Name: f.Name(), UpSQL: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies every migration newer than the recorded version and returns the
// ones it applied. A failing migration rolls back alone; earlier ones stay.
func (r Runner) Up(ctx context.Context) ([]Migration, error) {
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	migrations, err := r.Load()
	if err != nil {
		return nil, err
	}
	if err := r.ensureTables(ctx); err != nil {
		return nil, err
	}
	current, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		start := now()
		if err := r.apply(ctx, m, start); err != nil {
			logger.Error("migration failed", "version", m.Version, "name", m.Name, "err", err)
			return applied, err
		}
		logger.Info("migration applied", "version", m.Version, "name", m.Name, "duration", now().Sub(start))
		applied = append(applied, m)
		current = m.Version
	}
	if len(applied) == 0 {
		logger.Debug("schema up to date", "version", current)
	}
	return applied, nil
}

func (r Runner) apply(ctx context.Context, m Migration, at time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version=?`, m.Version); err != nil {
		return fmt.Errorf("update schema_version: %w", err)
	}
	return tx.Commit()
}

func (r Runner) ensureTables(ctx context.Context) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	}
	return tx.Commit()
}

// Version returns the highest applied migration, 0 for an empty database.
func (r Runner) Version(ctx context.Context) (int, error) {
	var v int
	err := r.DB.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

// History lists applied migrations oldest first.
func (r Runner) History(ctx context.Context) ([]Applied, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		var at string
		if err := rows.Scan(&a.Version, &a.Name, &at); err != nil {
			return nil, err
		}
		if a.AppliedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("migration %s: bad applied_at %q", a.Name, at)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
