package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Skryldev/users/config"
	"github.com/Skryldev/users/db"
	"github.com/Skryldev/users/metrics"
	"github.com/Skryldev/users/store"
	"github.com/Skryldev/users/viewmodel"
)

// app is the wired object graph a command works against.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	store   *store.Store
	vm      *viewmodel.UsersViewModel
}

// openApp loads configuration, opens and migrates the store and builds the
// adapter over it. Logs go to the command's error stream.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}

	logger := cfg.Logger(cmd.ErrOrStderr())
	m := metrics.New()

	st, err := store.Open(cmd.Context(),
		cfg.DBConfig(logger, db.NewMetricsHook(m)),
		cfg.StoreOptions(logger, m))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "open database", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   st,
		vm:      viewmodel.New(st, cfg.ViewOptions(logger)),
	}, nil
}

// Close drains queued writes, then closes the store.
func (a *app) Close() {
	if err := a.vm.Close(); err != nil {
		a.logger.Warn("users/cli: close view model", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("users/cli: close store", "error", err)
	}
}
