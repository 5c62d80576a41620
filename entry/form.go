package entry

import (
	"errors"

	"golang.org/x/text/unicode/norm"

	"github.com/Skryldev/users/models"
	"github.com/Skryldev/users/viewmodel"
)

// ErrFormClosed is returned by Submit on a form that already submitted.
var ErrFormClosed = errors.New("users/entry: form already submitted")

// Adder accepts a validated record for writing. The returned channel yields
// the write's outcome, the stored record on success, and may be ignored.
// viewmodel.UsersViewModel satisfies it.
type Adder interface {
	AddUser(u models.User) <-chan viewmodel.AddResult
}

// Form is the state of one entry dialog. The zero value is an empty form
// with Male selected. A Form is not safe for concurrent use.
//
// Name and job title errors follow every edit. The age error is only set by
// a submission and is cleared by the next edit of the age text.
type Form struct {
	Name     string
	JobTitle string
	Age      string
	Gender   models.Gender

	// Per-field error messages; empty means no error.
	NameErr     string
	JobTitleErr string
	AgeErr      string

	closed bool
}

// NewForm returns an empty open form.
func NewForm() *Form { return &Form{Gender: models.Male} }

// SetName stores the name text and re-checks it.
func (f *Form) SetName(s string) {
	f.Name = s
	f.NameErr = errorUnless(IsValidName(s), MsgInvalidName)
}

// SetJobTitle stores the job title text and re-checks it.
func (f *Form) SetJobTitle(s string) {
	f.JobTitle = s
	f.JobTitleErr = errorUnless(IsValidJobTitle(s), MsgInvalidJobTitle)
}

// SetAge stores the age text and clears the age error without checking.
func (f *Form) SetAge(s string) {
	f.Age = s
	f.AgeErr = ""
}

// SetGender selects g. Exactly one gender is always selected.
func (f *Form) SetGender(g models.Gender) { f.Gender = g }

// Closed reports whether the form was submitted successfully.
func (f *Form) Closed() bool { return f.closed }

// Validate runs all three field checks, always all of them, and sets the
// field errors. On failure it returns a *ValidationError naming every
// failing field. On success it returns a record with ID 0 and NFC text.
func (f *Form) Validate() (models.User, error) {
	var verr ValidationError

	f.NameErr = errorUnless(IsValidName(f.Name), MsgInvalidName)
	if f.NameErr != "" {
		verr.Fields = append(verr.Fields, FieldError{Field: FieldName, Message: f.NameErr})
	}

	f.JobTitleErr = errorUnless(IsValidJobTitle(f.JobTitle), MsgInvalidJobTitle)
	if f.JobTitleErr != "" {
		verr.Fields = append(verr.Fields, FieldError{Field: FieldJobTitle, Message: f.JobTitleErr})
	}

	age, err := ParseAge(f.Age)
	f.AgeErr = errorUnless(err == nil, MsgInvalidAge)
	if f.AgeErr != "" {
		verr.Fields = append(verr.Fields, FieldError{Field: FieldAge, Message: f.AgeErr})
	}

	if len(verr.Fields) > 0 {
		return models.User{}, &verr
	}
	return models.User{
		Name:     norm.NFC.String(f.Name),
		JobTitle: norm.NFC.String(f.JobTitle),
		Age:      age,
		Gender:   f.Gender,
	}, nil
}

// Submit validates the form and hands the record to a. On success the form
// closes and the write's outcome channel is returned; the write itself
// happens asynchronously. On validation failure nothing is written, the
// form stays open and the *ValidationError is returned.
func (f *Form) Submit(a Adder) (<-chan viewmodel.AddResult, error) {
	if f.closed {
		return nil, ErrFormClosed
	}
	u, err := f.Validate()
	if err != nil {
		return nil, err
	}
	done := a.AddUser(u)
	f.closed = true
	return done, nil
}

func errorUnless(ok bool, msg string) string {
	if ok {
		return ""
	}
	return msg
}
