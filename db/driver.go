// Package db — driver.go
// Defines the pluggable driver abstraction layer. Each driver adapter
// implements Driver and registers itself, enabling Open() to be
// driver-agnostic while preserving explicit DSN construction and SQL
// dialect differences per database.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/go-sql-driver/mysql"
)

// ─────────────────────────────────────────────────────────────────────────────
// Driver interface
// ─────────────────────────────────────────────────────────────────────────────

// Driver encapsulates database-specific behaviour:
//   - building a DSN from structured options
//   - registering the database/sql driver (idempotent)
//   - providing a driver-specific ErrorMapper
//   - SQL dialect differences (placeholders, RETURNING support)
//   - schema management hooks used by Migrate
type Driver interface {
	// Name returns the name passed to sql.Register, e.g. "sqlite3".
	// It is also the directory name of the driver's embedded migrations.
	Name() string

	// DSN converts structured options into a driver DSN string.
	DSN(opts DriverOptions) (string, error)

	// ErrorMapper returns a mapper tuned to this driver's error types.
	ErrorMapper() ErrorMapper

	// Register ensures the driver is registered with database/sql.
	// Implementations must be idempotent (safe to call multiple times).
	Register()

	// Configure applies pool settings the driver requires, after the
	// settings from Config.
	Configure(sqldb *sql.DB)

	// Rebind rewrites '?' placeholders into the driver's native style.
	Rebind(query string) string

	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool

	// MigrationDriver returns a golang-migrate driver bound to sqldb and a
	// release func. Releasing never closes sqldb.
	MigrationDriver(ctx context.Context, sqldb *sql.DB) (database.Driver, func() error, error)

	// DropAll removes every user table, including the migration bookkeeping
	// table. Used for destructive schema recreation.
	DropAll(ctx context.Context, sqldb *sql.DB) error
}

// DriverOptions carries the most common connection parameters in a structured,
// driver-agnostic form. DSN() converts them to the driver's native format.
type DriverOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	// Database is the database name, or the file path for SQLite.
	Database string
	SSLMode  string // "disable", "require", "verify-full", etc.
	// Extra holds driver-specific key/value parameters.
	Extra map[string]string
}

// ─────────────────────────────────────────────────────────────────────────────
// Driver registry
// ─────────────────────────────────────────────────────────────────────────────

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver adds a Driver to the global registry.
// Panics if a driver with the same name is already registered (use ReplaceDriver
// to override).
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, ok := drivers[d.Name()]; ok {
		panic(fmt.Sprintf("users/db: driver %q already registered", d.Name()))
	}
	drivers[d.Name()] = d
}

// ReplaceDriver upserts a driver in the registry (no panic on collision).
func ReplaceDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[d.Name()] = d
}

// LookupDriver returns the registered Driver by name or an error.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("users/db: driver %q not registered", name)
	}
	return d, nil
}

// DriverNames returns the registered driver names, sorted.
func DriverNames() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterDriver(SQLiteDriver{})
	RegisterDriver(PostgresDriver{})
	RegisterDriver(MySQLDriver{})
}

// encodeExtra renders Extra in a stable order so DSNs are reproducible.
func encodeExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	v := url.Values{}
	for k, val := range extra {
		v.Set(k, val)
	}
	return v.Encode()
}

// ─────────────────────────────────────────────────────────────────────────────
// SQLite driver adapter (mattn/go-sqlite3) — the default on-device store
// ─────────────────────────────────────────────────────────────────────────────

// SQLiteDriver is the built-in mattn/go-sqlite3 adapter.
type SQLiteDriver struct{}

// SQLiteDefaults are the connection parameters applied when DriverOptions
// does not override them: WAL journal, 5s busy timeout, foreign keys on.
var SQLiteDefaults = map[string]string{
	"_journal_mode": "WAL",
	"_busy_timeout": "5000",
	"_foreign_keys": "on",
}

func (SQLiteDriver) Name() string { return "sqlite3" }

func (SQLiteDriver) DSN(o DriverOptions) (string, error) {
	if o.Database == "" {
		return "", fmt.Errorf("sqlite3 driver: Database (file path) is required")
	}
	extra := make(map[string]string, len(SQLiteDefaults)+len(o.Extra))
	for k, v := range SQLiteDefaults {
		extra[k] = v
	}
	for k, v := range o.Extra {
		extra[k] = v
	}
	return o.Database + "?" + encodeExtra(extra), nil
}

func (SQLiteDriver) ErrorMapper() ErrorMapper { return SQLiteErrorMapper() }

func (SQLiteDriver) Register() { /* mattn/go-sqlite3 self-registers */ }

// Configure pins the pool to one connection. SQLite allows a single writer,
// and an in-memory database only lives as long as its connection.
func (SQLiteDriver) Configure(sqldb *sql.DB) {
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)
	sqldb.SetConnMaxIdleTime(0)
}

func (SQLiteDriver) Rebind(query string) string { return query }
func (SQLiteDriver) SupportsReturning() bool    { return true }

func (SQLiteDriver) MigrationDriver(_ context.Context, sqldb *sql.DB) (database.Driver, func() error, error) {
	// The sqlite3 migrate driver closes the *sql.DB on Close, so it is
	// never closed here; it holds no other resources.
	drv, err := migratesqlite.WithInstance(sqldb, &migratesqlite.Config{})
	if err != nil {
		return nil, nil, err
	}
	return drv, func() error { return nil }, nil
}

func (SQLiteDriver) DropAll(ctx context.Context, sqldb *sql.DB) error {
	return dropTables(ctx, sqldb,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`,
		func(t string) string { return `DROP TABLE IF EXISTS "` + t + `"` })
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL driver adapter (lib/pq)
// ─────────────────────────────────────────────────────────────────────────────

// PostgresDriver is the built-in lib/pq adapter.
type PostgresDriver struct{}

func (PostgresDriver) Name() string { return "postgres" }

func (PostgresDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("postgres driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, port, o.User, o.Password, o.Database, sslMode,
	)
	keys := make([]string, 0, len(o.Extra))
	for k := range o.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dsn += fmt.Sprintf(" %s=%s", k, o.Extra[k])
	}
	return dsn, nil
}

func (PostgresDriver) ErrorMapper() ErrorMapper { return PostgresErrorMapper() }

func (PostgresDriver) Register() { /* lib/pq self-registers via its init() */ }

func (PostgresDriver) Configure(*sql.DB) {}

// Rebind turns '?' into $1, $2, ... Placeholders inside string literals are
// not expected in this package's SQL.
func (PostgresDriver) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (PostgresDriver) SupportsReturning() bool { return true }

func (PostgresDriver) MigrationDriver(ctx context.Context, sqldb *sql.DB) (database.Driver, func() error, error) {
	conn, err := sqldb.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	drv, err := migratepostgres.WithConnection(ctx, conn, &migratepostgres.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return drv, conn.Close, nil
}

func (PostgresDriver) DropAll(ctx context.Context, sqldb *sql.DB) error {
	return dropTables(ctx, sqldb,
		`SELECT tablename FROM pg_tables WHERE schemaname = current_schema()`,
		func(t string) string { return `DROP TABLE IF EXISTS "` + t + `" CASCADE` })
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL driver adapter (go-sql-driver/mysql)
// ─────────────────────────────────────────────────────────────────────────────

// MySQLDriver is the built-in go-sql-driver/mysql adapter.
type MySQLDriver struct{}

func (MySQLDriver) Name() string { return "mysql" }

func (MySQLDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("mysql driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", o.Host, port)
	cfg.DBName = o.Database
	cfg.ParseTime = true
	if len(o.Extra) > 0 {
		cfg.Params = make(map[string]string, len(o.Extra))
		for k, v := range o.Extra {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN(), nil
}

func (MySQLDriver) ErrorMapper() ErrorMapper { return MySQLErrorMapper() }

func (MySQLDriver) Register() { /* go-sql-driver/mysql self-registers */ }

func (MySQLDriver) Configure(*sql.DB) {}

func (MySQLDriver) Rebind(query string) string { return query }
func (MySQLDriver) SupportsReturning() bool    { return false }

func (MySQLDriver) MigrationDriver(ctx context.Context, sqldb *sql.DB) (database.Driver, func() error, error) {
	conn, err := sqldb.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	drv, err := migratemysql.WithConnection(ctx, conn, &migratemysql.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return drv, conn.Close, nil
}

func (MySQLDriver) DropAll(ctx context.Context, sqldb *sql.DB) error {
	return dropTables(ctx, sqldb,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`,
		func(t string) string { return "DROP TABLE IF EXISTS `" + t + "`" })
}

// ─────────────────────────────────────────────────────────────────────────────

func dropTables(ctx context.Context, sqldb *sql.DB, listSQL string, dropSQL func(string) string) error {
	rows, err := sqldb.QueryContext(ctx, listSQL)
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, t := range tables {
		if _, err := sqldb.ExecContext(ctx, dropSQL(t)); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	return nil
}
