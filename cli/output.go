package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Skryldev/users/entry"
	"github.com/Skryldev/users/models"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Invalid input or storage failure
	ExitCommandError = 2 // Usage or configuration error
)

// ExitError carries the exit code a command failed with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError come from cobra itself (unknown flag, bad flag value, unknown
// command) and map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// ─────────────────────────────────────────────────────────────────────────────
// OutputFormatter
// ─────────────────────────────────────────────────────────────────────────────

// OutputFormatter renders command results as text, JSON or YAML.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the envelope for JSON and YAML output.
type CLIResponse struct {
	Status string    `json:"status" yaml:"status"`
	Data   any       `json:"data,omitempty" yaml:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
	Details any    `json:"details,omitempty" yaml:"details,omitempty"`
}

// UserList is the data payload of list and watch.
type UserList struct {
	Count int           `json:"count" yaml:"count"`
	Users []models.User `json:"users" yaml:"users"`
}

// UserCount is the data payload of list --count.
type UserCount struct {
	Count int64 `json:"count" yaml:"count"`
}

const emptyText = "No users yet"

// Users renders a record list.
func (f *OutputFormatter) Users(users []models.User) error {
	if f.Format != "text" {
		return f.encode(CLIResponse{Status: "ok", Data: UserList{Count: len(users), Users: users}})
	}
	if len(users) == 0 {
		_, err := fmt.Fprintln(f.Writer, emptyText)
		return err
	}
	for _, u := range users {
		if _, err := fmt.Fprintf(f.Writer, "#%d %s\n", u.ID, describe(u)); err != nil {
			return err
		}
	}
	return nil
}

// Count renders the number of stored records.
func (f *OutputFormatter) Count(n int64) error {
	if f.Format != "text" {
		return f.encode(CLIResponse{Status: "ok", Data: UserCount{Count: n}})
	}
	_, err := fmt.Fprintln(f.Writer, n)
	return err
}

// Added confirms a stored record.
func (f *OutputFormatter) Added(u models.User) error {
	if f.Format != "text" {
		return f.encode(CLIResponse{Status: "ok", Data: u})
	}
	_, err := fmt.Fprintf(f.Writer, "Added #%d %s\n", u.ID, describe(u))
	return err
}

// Invalid renders every failing field of a rejected submission.
func (f *OutputFormatter) Invalid(verr *entry.ValidationError) error {
	if f.Format != "text" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    "invalid_input",
				Message: "invalid user",
				Details: verr.Fields,
			},
		})
	}
	for _, fe := range verr.Fields {
		if _, err := fmt.Fprintf(f.Writer, "%s: %s\n", fe.Field, fe.Message); err != nil {
			return err
		}
	}
	return nil
}

// encode writes one JSON line, or one YAML document preceded by a document
// marker so that a watch stream stays a valid multi-document YAML file.
func (f *OutputFormatter) encode(resp CLIResponse) error {
	if f.Format == "yaml" {
		out, err := yaml.Marshal(resp)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(f.Writer, "---\n"); err != nil {
			return err
		}
		_, err = f.Writer.Write(out)
		return err
	}
	return json.NewEncoder(f.Writer).Encode(resp)
}

func describe(u models.User) string {
	return fmt.Sprintf("%s, %s, %d years, %s", u.Name, u.JobTitle, u.Age, u.Gender)
}
