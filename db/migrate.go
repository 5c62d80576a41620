package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// SchemaVersion is the migration version this build expects to find.
const SchemaVersion = 1

//go:embed migrations
var migrationsFS embed.FS

// ─────────────────────────────────────────────────────────────────────────────
// Migrator — golang-migrate over the embedded, per-driver migrations
// ─────────────────────────────────────────────────────────────────────────────

// Migrator returns a golang-migrate instance bound to d and the driver's
// embedded migrations. Call release when done; it never closes d.
//
// Do not call m.Close(): some migrate drivers close the *sql.DB they were
// given.
func (d *DB) Migrator(ctx context.Context) (m *migrate.Migrate, release func(), err error) {
	src, err := iofs.New(migrationsFS, "migrations/"+d.drv.Name())
	if err != nil {
		return nil, nil, fmt.Errorf("users/db: migrations source: %w", err)
	}

	drv, releaseDrv, err := d.drv.MigrationDriver(ctx, d.sqldb)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("users/db: migrations driver: %w", d.mapErr(err))
	}

	m, err = migrate.NewWithInstance("iofs", src, d.drv.Name(), drv)
	if err != nil {
		_ = src.Close()
		_ = releaseDrv()
		return nil, nil, fmt.Errorf("users/db: migrate init: %w", err)
	}
	m.Log = &migrateLogger{logger: d.logger}

	release = func() {
		if err := src.Close(); err != nil {
			d.logger.Warn("users/db: close migrations source", "error", err)
		}
		if err := releaseDrv(); err != nil {
			d.logger.Warn("users/db: release migrations driver", "error", err)
		}
	}
	return m, release, nil
}

// Migrate brings the schema to SchemaVersion.
//
// A fresh database is migrated up. A database whose version differs from
// SchemaVersion, or whose last migration is marked dirty, has a schema
// mismatch: its tables are dropped and recreated, losing every record,
// unless Config.StrictSchema is set, in which case ErrSchemaMismatch is
// returned and nothing is touched.
func (d *DB) Migrate(ctx context.Context) error {
	m, release, err := d.Migrator(ctx)
	if err != nil {
		return err
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		// fresh database
	case err != nil:
		release()
		return fmt.Errorf("users/db: schema version: %w", d.mapErr(err))
	case dirty || v != SchemaVersion:
		release()
		mismatch := &DBError{
			Sentinel: ErrSchemaMismatch,
			Message:  fmt.Sprintf("found version %d (dirty=%t), want %d", v, dirty, SchemaVersion),
		}
		if d.cfg.StrictSchema {
			return mismatch
		}
		d.logger.Warn("users/db: recreating database after schema mismatch",
			"found", v, "dirty", dirty, "want", SchemaVersion)
		if err := d.drv.DropAll(ctx, d.sqldb); err != nil {
			return fmt.Errorf("users/db: drop for recreate: %w", d.mapErr(err))
		}
		// A migrate instance is unusable once its tables are dropped.
		if m, release, err = d.Migrator(ctx); err != nil {
			return err
		}
	}
	defer release()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("users/db: migrate up: %w", d.mapErr(err))
	}
	return nil
}

// SchemaInfo reports the persisted migration version.
// ErrNotFound is returned for a database that was never migrated.
func (d *DB) SchemaInfo(ctx context.Context) (version uint, dirty bool, err error) {
	m, release, err := d.Migrator(ctx)
	if err != nil {
		return 0, false, err
	}
	defer release()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, &DBError{Sentinel: ErrNotFound, Cause: err}
	}
	if err != nil {
		return 0, false, d.mapErr(err)
	}
	return version, dirty, nil
}

// ─────────────────────────────────────────────────────────────────────────────

// migrateLogger adapts slog to migrate.Logger.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf("users/db: migrate: "+format, v...))
}

func (l *migrateLogger) Verbose() bool { return false }
