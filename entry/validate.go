// Package entry is the entry flow of the users register: field validity
// rules, age parsing, and the form state a front end binds to.
package entry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Field names used in FieldError.Field.
const (
	FieldName     = "name"
	FieldJobTitle = "job_title"
	FieldAge      = "age"
)

// Messages shown next to an invalid field.
const (
	MsgInvalidName     = "Enter a valid name"
	MsgInvalidJobTitle = "Enter a valid job title"
	MsgInvalidAge      = "Enter a valid age"
)

// ErrInvalidAge is returned by ParseAge for text that is not a 32-bit
// signed decimal integer.
var ErrInvalidAge = errors.New("users/entry: invalid age")

// IsValidText reports whether s is non-blank and every rune of it is a
// letter or whitespace. Runes are checked as given: a combining mark is
// neither, so decomposed accents are rejected.
func IsValidText(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// IsValidName is the validity rule for the name field.
func IsValidName(s string) bool { return IsValidText(s) }

// IsValidJobTitle is the validity rule for the job title field.
func IsValidJobTitle(s string) bool { return IsValidText(s) }

// ParseAge parses a base-10 integer in the 32-bit signed range with an
// optional leading sign. Surrounding whitespace is rejected. Negative
// values parse.
func ParseAge(s string) (int, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
	}
	return int(n), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ValidationError — every failing field, not fail-fast
// ─────────────────────────────────────────────────────────────────────────────

// FieldError is one failing field.
type FieldError struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError lists every field that failed a submission, in form
// order (name, job title, age).
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "users/entry: " + strings.Join(parts, "; ")
}

// Has reports whether field failed.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}
