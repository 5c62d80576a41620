package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Skryldev/users/entry"
	"github.com/Skryldev/users/models"
)

type addOptions struct {
	name     string
	jobTitle string
	age      string
	gender   models.Gender
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &addOptions{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		Long: `Validate and store one user.

Name and job title must be non-blank and contain only letters and spaces.
Age must be a whole number. Every invalid field is reported; nothing is
stored unless all of them are valid. On success the stored record is
printed with the id it was given.`,
		Example: `  users add --name "Jane Doe" --job-title Pilot --age 41 --gender Female`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "full name")
	cmd.Flags().StringVar(&opts.jobTitle, "job-title", "", "job title")
	cmd.Flags().StringVar(&opts.age, "age", "", "age in years")
	cmd.Flags().Var(&opts.gender, "gender", "gender (Male|Female)")

	return cmd
}

func runAdd(cmd *cobra.Command, rootOpts *RootOptions, opts *addOptions) error {
	out := rootOpts.formatter(cmd)

	form := entry.NewForm()
	form.SetName(opts.name)
	form.SetJobTitle(opts.jobTitle)
	form.SetAge(opts.age)
	form.SetGender(opts.gender)

	// Reject bad input before the database is touched.
	if _, err := form.Validate(); err != nil {
		return invalidInput(out, err)
	}

	a, err := openApp(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	done, err := form.Submit(a.vm)
	if err != nil {
		return invalidInput(out, err)
	}
	res := <-done
	if res.Err != nil {
		return WrapExitError(ExitFailure, "add user", res.Err)
	}
	return out.Added(res.User)
}

func invalidInput(out *OutputFormatter, err error) error {
	var verr *entry.ValidationError
	if !errors.As(err, &verr) {
		return WrapExitError(ExitFailure, "add user", err)
	}
	if err := out.Invalid(verr); err != nil {
		return WrapExitError(ExitFailure, "write output", err)
	}
	return NewExitError(ExitFailure, "invalid user")
}
