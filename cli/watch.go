package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type watchOptions struct {
	metricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the user list every time it changes",
		Long: `Print the user list, then print it again after every stored change,
until interrupted (Ctrl+C or SIGTERM).

With --metrics-addr, Prometheus metrics are served on /metrics meanwhile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")

	return cmd
}

func runWatch(cmd *cobra.Command, rootOpts *RootOptions, opts *watchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := rootOpts.formatter(cmd)

	a, err := openApp(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := opts.metricsAddr
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	if addr != "" {
		shutdown := serveMetrics(a, addr)
		defer shutdown()
	}

	o, err := a.vm.CurrentUsers().Observe(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "observe users", err)
	}
	defer o.Close()

	// C closes once ctx is done.
	for users := range o.C {
		if err := out.Users(users); err != nil {
			return WrapExitError(ExitFailure, "write output", err)
		}
		if out.Format == "text" {
			if _, err := out.Writer.Write([]byte("\n")); err != nil {
				return WrapExitError(ExitFailure, "write output", err)
			}
		}
	}
	return nil
}

func serveMetrics(a *app, addr string) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("users/cli: serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("users/cli: metrics server", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("users/cli: metrics server shutdown", "error", err)
		}
	}
}
