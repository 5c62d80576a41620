// Package config loads the users register configuration.
//
// Sources, later ones winning: built-in defaults, an optional YAML file, an
// optional .env file, then process environment (USERS_*, DATABASE_URL).
// CLI flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Skryldev/users/db"
	"github.com/Skryldev/users/store"
	"github.com/Skryldev/users/viewmodel"
)

// DefaultPath is the SQLite file used when nothing else is configured.
const DefaultPath = "Users-Database.db"

// DefaultPollInterval is the default Database.PollInterval.
const DefaultPollInterval = 500 * time.Millisecond

// Config is the full process configuration.
type Config struct {
	Database    DatabaseConfig `yaml:"database"`
	View        ViewConfig     `yaml:"view"`
	Log         LogConfig      `yaml:"log"`
	MetricsAddr string         `yaml:"metrics_addr"`
}

// DatabaseConfig selects and tunes the store's database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	// DSN overrides every structured field below when set.
	DSN string `yaml:"dsn"`
	// Path is the SQLite file.
	Path string `yaml:"path"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout       time.Duration `yaml:"query_timeout"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	StrictSchema       bool          `yaml:"strict_schema"`
	// PollInterval is how often watchers check for writes made by other
	// processes. Zero disables the check.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ViewConfig tunes the view-model adapter.
type ViewConfig struct {
	StopTimeout time.Duration `yaml:"stop_timeout"`
	Workers     int           `yaml:"workers"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// Default returns the built-in configuration: a local SQLite file.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:             "sqlite3",
			Path:               DefaultPath,
			QueryTimeout:       10 * time.Second,
			SlowQueryThreshold: 200 * time.Millisecond,
			PollInterval:       DefaultPollInterval,
		},
		View: ViewConfig{
			StopTimeout: viewmodel.DefaultStopTimeout,
			Workers:     viewmodel.DefaultWorkers,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path and the .env
// file at envFile. Either path may be empty. The result is validated.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("users/config: load env file %s: %w", envFile, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("users/config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("users/config: parse %s: %w", path, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Environment
// ─────────────────────────────────────────────────────────────────────────────

type lookupFunc func(string) (string, bool)

// applyEnv overrides cfg from the environment. Empty variables count as
// unset.
func applyEnv(cfg *Config, lookupEnv lookupFunc) error {
	var errs []error
	lookup := func(key string) (string, bool) {
		v, ok := lookupEnv(key)
		return v, ok && v != ""
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	d := &cfg.Database
	str("USERS_DB_DRIVER", &d.Driver)
	str("DATABASE_URL", &d.DSN)
	str("USERS_DB_DSN", &d.DSN)
	str("USERS_DB_PATH", &d.Path)
	str("USERS_DB_HOST", &d.Host)
	integer("USERS_DB_PORT", &d.Port)
	str("USERS_DB_USER", &d.User)
	str("USERS_DB_PASSWORD", &d.Password)
	str("USERS_DB_NAME", &d.Name)
	str("USERS_DB_SSLMODE", &d.SSLMode)
	integer("USERS_DB_MAX_OPEN_CONNS", &d.MaxOpenConns)
	integer("USERS_DB_MAX_IDLE_CONNS", &d.MaxIdleConns)
	duration("USERS_DB_CONN_MAX_LIFETIME", &d.ConnMaxLifetime)
	duration("USERS_DB_QUERY_TIMEOUT", &d.QueryTimeout)
	duration("USERS_DB_SLOW_QUERY_THRESHOLD", &d.SlowQueryThreshold)
	boolean("USERS_DB_STRICT_SCHEMA", &d.StrictSchema)
	duration("USERS_DB_POLL_INTERVAL", &d.PollInterval)

	duration("USERS_STOP_TIMEOUT", &cfg.View.StopTimeout)
	integer("USERS_WORKERS", &cfg.View.Workers)

	str("USERS_LOG_LEVEL", &cfg.Log.Level)
	str("USERS_LOG_FORMAT", &cfg.Log.Format)
	str("USERS_METRICS_ADDR", &cfg.MetricsAddr)

	if len(errs) > 0 {
		return fmt.Errorf("users/config: environment: %w", errors.Join(errs...))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation and derived settings
// ─────────────────────────────────────────────────────────────────────────────

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := db.LookupDriver(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w (known: %s)",
			err, strings.Join(db.DriverNames(), ", ")))
	}
	if c.Database.DSN == "" {
		switch c.Database.Driver {
		case "sqlite3":
			if c.Database.Path == "" {
				errs = append(errs, errors.New("database.path: required for sqlite3"))
			}
		default:
			if c.Database.Host == "" || c.Database.Name == "" {
				errs = append(errs, fmt.Errorf("database: host and name required for %s", c.Database.Driver))
			}
		}
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("database.port: %d out of range", c.Database.Port))
	}
	if c.Database.PollInterval < 0 {
		errs = append(errs, errors.New("database.poll_interval: must not be negative"))
	}
	if c.View.StopTimeout < 0 {
		errs = append(errs, errors.New("view.stop_timeout: must not be negative"))
	}
	if c.View.Workers < 0 {
		errs = append(errs, errors.New("view.workers: must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: %q, want json or text", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("users/config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses Log.Level.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %q: %w", c.Log.Level, err)
	}
	return lvl, nil
}

// Logger builds the slog logger described by Log, writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl, err := c.Level()
	if err != nil {
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// DBConfig translates the database section into a db.Config. The statement
// log hook is always installed; extra hooks (metrics) are appended.
func (c Config) DBConfig(logger *slog.Logger, hooks ...db.Hook) db.Config {
	d := c.Database
	opts := db.DriverOptions{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Name,
		SSLMode:  d.SSLMode,
	}
	if d.Driver == "sqlite3" {
		opts.Database = d.Path
	}

	all := append([]db.Hook{db.NewLogHook(db.LogHookConfig{
		Logger:             logger,
		SlowQueryThreshold: d.SlowQueryThreshold,
	})}, hooks...)

	return db.Config{
		DriverName:      d.Driver,
		DSN:             d.DSN,
		Options:         opts,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		DefaultTimeout:  d.QueryTimeout,
		StrictSchema:    d.StrictSchema,
		Hooks:           all,
		Logger:          logger,
	}
}

// StoreOptions translates the settings the record store reads directly.
func (c Config) StoreOptions(logger *slog.Logger, rec store.Recorder) store.Options {
	return store.Options{
		Logger:       logger,
		Recorder:     rec,
		PollInterval: c.Database.PollInterval,
	}
}

// ViewOptions translates the view section.
func (c Config) ViewOptions(logger *slog.Logger) viewmodel.Options {
	return viewmodel.Options{
		StopTimeout: c.View.StopTimeout,
		Workers:     c.View.Workers,
		Logger:      logger,
	}
}
