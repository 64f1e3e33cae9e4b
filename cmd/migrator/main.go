package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/ProjectEKA/consent-manager-sub002/migrations"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/config"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/logging"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/store"
)

type migrationDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type migratorDBCloser interface {
	migrationDB
	Close()
}

var (
	logFatalf = func(format string, args ...any) { log.Fatal().Msgf(format, args...) }
	openDBFn  = func(ctx context.Context) (migratorDBCloser, error) {
		cfg, err := config.Load(viper.New(), os.Getenv("CM_CONFIG"))
		if err != nil {
			return nil, err
		}
		return store.NewPostgresPool(ctx, cfg.PostgresConfig())
	}
)

const createLedger = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    filename   TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func main() {
	logging.InitDefault()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		logFatalf("migration failed: %v", err)
	}
}

func run(ctx context.Context) error {
	db, err := openDBFn(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	applied, err := migrate(ctx, db, migrations.FS)
	if err != nil {
		return err
	}
	log.Info().Int("applied", len(applied)).Msg("schema up to date")
	return nil
}

// migrate applies the pending *.sql files at the root of fsys in lexical
// order and returns the names it applied. Each file and its
// schema_migrations row commit together.
func migrate(ctx context.Context, db migrationDB, fsys fs.FS) ([]string, error) {
	if db == nil {
		return nil, errors.New("db required")
	}
	if _, err := db.Exec(ctx, createLedger); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	pending, err := pendingMigrations(ctx, db, fsys)
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(pending))
	for _, name := range pending {
		if err := applyMigration(ctx, db, fsys, name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
		log.Ctx(ctx).Info().Str("migration", name).Msg("migration applied")
	}
	return applied, nil
}

func pendingMigrations(ctx context.Context, db migrationDB, fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	var pending []string
	for _, file := range files {
		if err := validateMigrationPath(file); err != nil {
			return nil, fmt.Errorf("invalid migration path: %w", err)
		}
		var done bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, file).Scan(&done); err != nil {
			return nil, fmt.Errorf("migration lookup %s: %w", file, err)
		}
		if !done {
			pending = append(pending, file)
		}
	}
	return pending, nil
}

func applyMigration(ctx context.Context, db migrationDB, fsys fs.FS, name string) (err error) {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, string(body)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err = tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("mark migration %s: %w", name, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// validateMigrationPath accepts only plain file names at the root of the
// migrations filesystem.
func validateMigrationPath(file string) error {
	if !fs.ValidPath(file) || strings.Contains(file, "/") {
		return fmt.Errorf("%q is outside the migrations root", file)
	}
	return nil
}
