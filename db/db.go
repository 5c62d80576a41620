// Package db provides the SQL-first database layer of the users register.
// It is NOT an ORM — all SQL is explicit, transparent, and
// developer-controlled. It owns connection lifecycle, statement hooks,
// unified error mapping, transactions and schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds all options for opening and managing the connection pool.
type Config struct {
	// DriverName is "sqlite3", "postgres" or "mysql". Defaults to "sqlite3".
	DriverName string

	// DSN is the driver-specific data-source name. When empty, the DSN is
	// built from Options by the registered Driver.
	DSN string

	// Options feed Driver.DSN when DSN is empty.
	Options DriverOptions

	// Pool settings. SQLite overrides them with a single connection.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Default query timeout applied when no deadline is set on the context.
	// Zero means no default timeout.
	DefaultTimeout time.Duration

	// StrictSchema makes Migrate return ErrSchemaMismatch instead of
	// dropping and recreating a database with an unexpected schema version.
	StrictSchema bool

	// Hooks executed around every statement (logging, metrics).
	// All hooks are optional; nil entries are silently skipped.
	Hooks []Hook

	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// ─────────────────────────────────────────────────────────────────────────────
// DB — the central type
// ─────────────────────────────────────────────────────────────────────────────

// DB is a thin, concurrency-safe wrapper around *sql.DB.
// It adds context-aware helpers, hook dispatch, unified error mapping,
// and transaction management — nothing more.
//
// All methods accept a context.Context so callers always control timeouts
// and cancellation. The underlying *sql.DB is always accessible via Raw().
type DB struct {
	sqldb  *sql.DB
	cfg    Config
	drv    Driver
	hooks  hookChain
	errMap ErrorMapper
	logger *slog.Logger
}

// Open opens the database described by cfg and verifies connectivity with Ping.
// It does not touch the schema; call Migrate for that.
// Callers are responsible for calling Close() when the application shuts down.
func Open(cfg Config) (*DB, error) {
	if cfg.DriverName == "" {
		cfg.DriverName = SQLiteDriver{}.Name()
	}
	drv, err := LookupDriver(cfg.DriverName)
	if err != nil {
		return nil, err
	}
	drv.Register()

	if cfg.DSN == "" {
		dsn, err := drv.DSN(cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("users/db: DSN construction failed: %w", err)
		}
		cfg.DSN = dsn
	}

	sqldb, err := sql.Open(drv.Name(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("users/db: open: %w", err)
	}

	d := New(sqldb, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("users/db: ping: %w", d.mapErr(err))
	}

	return d, nil
}

// New wraps an already opened *sql.DB. cfg.DriverName selects the dialect
// and error mapper; cfg.DSN is ignored. Unknown drivers fall back to the
// SQLite dialect.
func New(sqldb *sql.DB, cfg Config) *DB {
	drv, err := LookupDriver(cfg.DriverName)
	if err != nil {
		drv = SQLiteDriver{}
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	drv.Configure(sqldb)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DB{
		sqldb:  sqldb,
		cfg:    cfg,
		drv:    drv,
		hooks:  newHookChain(logger, cfg.Hooks),
		errMap: ChainMapper(drv.ErrorMapper(), DefaultErrorMapper()),
		logger: logger,
	}
}

// Raw returns the underlying *sql.DB for advanced use cases.
// Prefer the wrapper methods where possible.
func (d *DB) Raw() *sql.DB { return d.sqldb }

// Driver returns the dialect the DB was opened with.
func (d *DB) Driver() Driver { return d.drv }

// SetErrorMapper replaces the error mapper.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

// Close closes all pooled connections and frees resources.
// Safe to call multiple times.
func (d *DB) Close() error { return d.sqldb.Close() }

// Ping verifies that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.applyDefaultTimeout(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

// Stats returns pool statistics for monitoring.
func (d *DB) Stats() sql.DBStats { return d.sqldb.Stats() }

// ─────────────────────────────────────────────────────────────────────────────
// Query execution helpers
// ─────────────────────────────────────────────────────────────────────────────

// Exec executes a statement that returns no rows (INSERT, DDL).
// Errors are translated through the unified error mapper.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := d.applyDefaultTimeout(ctx)
	defer cancel()
	query = d.drv.Rebind(query)
	start := time.Now()
	d.hooks.Before(ctx, query, args)
	res, err := d.sqldb.ExecContext(ctx, query, args...)
	err = d.mapErr(err)
	d.hooks.After(ctx, query, args, time.Since(start), err)
	return res, err
}

// Query executes a query that returns rows.
// The caller MUST close the returned *sql.Rows. The default timeout is not
// applied here because it would cancel the rows before the caller reads them.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = d.drv.Rebind(query)
	start := time.Now()
	d.hooks.Before(ctx, query, args)
	rows, err := d.sqldb.QueryContext(ctx, query, args...)
	err = d.mapErr(err)
	d.hooks.After(ctx, query, args, time.Since(start), err)
	return rows, err
}

// QueryRow executes a query expected to return at most one row.
// ErrNotFound is returned by Scan when no row matches.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *Row {
	query = d.drv.Rebind(query)
	start := time.Now()
	d.hooks.Before(ctx, query, args)
	raw := d.sqldb.QueryRowContext(ctx, query, args...)
	d.hooks.After(ctx, query, args, time.Since(start), raw.Err())
	return &Row{raw: raw, errMap: d.errMap}
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (d *DB) applyDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.DefaultTimeout == 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {} // caller already set a deadline
	}
	return context.WithTimeout(ctx, d.cfg.DefaultTimeout)
}

func (d *DB) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return d.errMap.Map(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row — wraps *sql.Row to translate errors uniformly
// ─────────────────────────────────────────────────────────────────────────────

// Row wraps *sql.Row and maps errors through the unified error mapper.
type Row struct {
	raw    *sql.Row
	errMap ErrorMapper
}

// Scan copies columns from the matched row into dest values.
// ErrNotFound is returned when no row was found.
func (r *Row) Scan(dest ...any) error {
	err := r.raw.Scan(dest...)
	if err == nil {
		return nil
	}
	return r.errMap.Map(err)
}
