// Command migrate drives the embedded users schema migrations by hand.
// The users command migrates on its own; this is for operators.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"

	"github.com/Skryldev/users/config"
	"github.com/Skryldev/users/db"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
			os.Exit(2)
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", "", ".env file with USERS_* variables")
	yes := fs.Bool("yes", false, "do not ask before drop")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	args = fs.Args()
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return err
	}
	logger := cfg.Logger(stderr)
	slog.SetDefault(logger)

	d, err := db.Open(cfg.DBConfig(logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer d.Close()

	m, release, err := d.Migrator(ctx)
	if err != nil {
		return err
	}
	defer release()

	switch command := args[0]; command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("up failed: %w", err)
		}
		logger.Info("migrations: up completed")

	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("down: invalid steps argument %q", args[1])
			}
			steps = n
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("down failed: %w", err)
		}
		logger.Info("migrations: down completed", "steps", steps)

	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("version failed: %w", err)
		}
		fmt.Fprintf(stdout, "version: %d  dirty: %v  expected: %d\n", v, dirty, db.SchemaVersion)

	case "force":
		if len(args) < 2 {
			return errors.New("force: version argument required")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("force: invalid version %q", args[1])
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		logger.Info("migrations: forced", "version", v)

	case "drop":
		if !*yes {
			fmt.Fprintln(stderr, "WARNING: drop will destroy every stored user. Type 'yes' to confirm:")
			confirm, _ := bufio.NewReader(stdin).ReadString('\n')
			if strings.TrimSpace(confirm) != "yes" {
				fmt.Fprintln(stdout, "aborted")
				return nil
			}
		}
		if err := m.Drop(); err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}
		logger.Info("migrations: all tables dropped")

	default:
		return errUsage
	}
	return nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: migrate [flags] <command> [args]

Commands:
  up           Apply all pending migrations
  down [N]     Rollback N migrations (default: 1)
  version      Print current migration version
  force <V>    Force set migration version (bypass dirty state)
  drop         Drop all tables

Flags:
  -config FILE     YAML configuration file
  -env-file FILE   .env file
  -yes             Skip the drop confirmation

Environment:
  USERS_DB_DRIVER, USERS_DB_PATH, DATABASE_URL and the other USERS_DB_*
  variables select the database, as for the users command.`)
}
