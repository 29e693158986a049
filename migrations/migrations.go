// Package migrations embeds the SQL schema and applies it in filename order.
package migrations

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

const advisoryLockKey = 7462839

// Migration is one embedded SQL file.
type Migration struct {
	Version  string
	Filename string
	Checksum string
	SQL      string
}

// Discover lists the embedded migrations sorted by filename. Names must look
// like NNNN_description.sql and versions must be unique.
func Discover() ([]Migration, error) {
	return discover(files)
}

func discover(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	seen := make(map[string]bool, len(names))
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		version, _, ok := strings.Cut(name, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migrations: invalid filename %s, expected NNNN_description.sql", name)
		}
		if seen[version] {
			return nil, fmt.Errorf("migrations: duplicate version %s", version)
		}
		seen[version] = true
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		out = append(out, Migration{Version: version, Filename: name, Checksum: hex.EncodeToString(sum[:]), SQL: string(body)})
	}
	return out, nil
}

// Apply runs every migration not yet recorded in schema_migrations, each in its
// own transaction, under a session advisory lock. A recorded migration whose
// checksum changed is an error. It returns the filenames applied.
func Apply(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	all, err := Discover()
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: acquire: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&locked); err != nil {
		return nil, fmt.Errorf("migrations: advisory lock: %w", err)
	}
	if !locked {
		return nil, errors.New("migrations: another migrator is running")
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, advisoryLockKey); err != nil {
			logger.Warn("release migration lock", slog.Any("error", err))
		}
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, fmt.Errorf("migrations: create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range all {
		var existing string
		err := conn.QueryRow(ctx, `SELECT checksum FROM schema_migrations WHERE version = $1`, m.Version).Scan(&existing)
		switch {
		case err == nil:
			if existing != m.Checksum {
				return applied, fmt.Errorf("migrations: checksum mismatch for %s", m.Filename)
			}
			logger.Debug("migration already applied", slog.String("file", m.Filename))
			continue
		case !errors.Is(err, pgx.ErrNoRows):
			return applied, fmt.Errorf("migrations: lookup %s: %w", m.Filename, err)
		}
		if err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
				m.Version, m.Filename, m.Checksum)
			return err
		}); err != nil {
			return applied, fmt.Errorf("migrations: apply %s: %w", m.Filename, err)
		}
		logger.Info("migration applied", slog.String("file", m.Filename))
		applied = append(applied, m.Filename)
	}
	return applied, nil
}
