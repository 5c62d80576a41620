package cli

import (
	"github.com/spf13/cobra"
)

type listOptions struct {
	count bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every stored user",
		Long:  "Print every stored user in insertion order, or only how many there are with --count.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.count, "count", false, "print only the number of users")

	return cmd
}

func runList(cmd *cobra.Command, rootOpts *RootOptions, opts *listOptions) error {
	out := rootOpts.formatter(cmd)

	a, err := openApp(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.count {
		n, err := a.store.Count(cmd.Context())
		if err != nil {
			return WrapExitError(ExitFailure, "count users", err)
		}
		return out.Count(n)
	}

	o, err := a.vm.CurrentUsers().Observe(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "observe users", err)
	}
	defer o.Close()

	users, ok := <-o.C
	if !ok {
		return WrapExitError(ExitFailure, "observe users", cmd.Context().Err())
	}
	return out.Users(users)
}
