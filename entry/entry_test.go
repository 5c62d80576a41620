package entry_test

import (
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/users/entry"
	"github.com/Skryldev/users/models"
	"github.com/Skryldev/users/viewmodel"
)

func TestIsValidText(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"John Doe", true},
		{"Engineer", true},
		{"Zoë", true},
		{"Zoe\u0308", false}, // U+0308 is a combining mark
		{"Rene\u0301", false},
		{"q\u0301", false},
		{"\u1100\u1161", true}, // conjoining jamo are letters
		{"José María", true},
		{"Łukasz", true},
		{"李小龍", true},
		{"Anne\tMarie", true},
		{" padded ", true},
		{"", false},
		{"   ", false},
		{"\t\n", false},
		{"J0hn", false},
		{"O'Brien", false},
		{"Mary-Jane", false},
		{"Dr.", false},
		{"R2D2", false},
		{"🙂", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, entry.IsValidText(tt.in))
			assert.Equal(t, tt.want, entry.IsValidName(tt.in))
			assert.Equal(t, tt.want, entry.IsValidJobTitle(tt.in))
		})
	}
}

// Any non-blank mix of letters and spaces is valid; adding any digit or
// punctuation makes it invalid.
func TestIsValidText_Properties(t *testing.T) {
	alphabet := []rune("abcxyzABCXYZéßŁñøçÅ李龍иЖαΩ \t")
	compose := func(idx []uint8) string {
		var b strings.Builder
		for _, i := range idx {
			b.WriteRune(alphabet[int(i)%len(alphabet)])
		}
		return b.String()
	}

	letters := func(idx []uint8) bool {
		s := compose(idx)
		if strings.TrimSpace(s) == "" {
			return !entry.IsValidText(s)
		}
		return entry.IsValidText(s)
	}
	require.NoError(t, quick.Check(letters, nil))

	junk := []rune("0123456789.,-_'!?@#")
	polluted := func(idx []uint8, pos, bad uint8) bool {
		s := []rune(compose(idx) + "a")
		i := int(pos) % (len(s) + 1)
		s = append(s[:i], append([]rune{junk[int(bad)%len(junk)]}, s[i:]...)...)
		return !entry.IsValidText(string(s))
	}
	require.NoError(t, quick.Check(polluted, nil))
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"30", 30, true},
		{"0", 0, true},
		{"+7", 7, true},
		{"-3", -3, true},
		{"2147483647", 2147483647, true},
		{"-2147483648", -2147483648, true},
		{"2147483648", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{" 30", 0, false},
		{"30 ", 0, false},
		{"3.5", 0, false},
		{"1e3", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := entry.ParseAge(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, entry.ErrInvalidAge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Form
// ─────────────────────────────────────────────────────────────────────────────

type fakeAdder struct {
	added []models.User
}

func (a *fakeAdder) AddUser(u models.User) <-chan viewmodel.AddResult {
	a.added = append(a.added, u)
	u.ID = int64(len(a.added))
	ch := make(chan viewmodel.AddResult, 1)
	ch <- viewmodel.AddResult{User: u}
	return ch
}

func fill(f *entry.Form, name, job, age string) {
	f.SetName(name)
	f.SetJobTitle(job)
	f.SetAge(age)
}

func TestForm_DefaultsToMale(t *testing.T) {
	assert.Equal(t, models.Male, entry.NewForm().Gender)
	var zero entry.Form
	assert.Equal(t, models.Male, zero.Gender)
}

func TestForm_SubmitValid(t *testing.T) {
	f := entry.NewForm()
	fill(f, "John Doe", "Engineer", "30")
	adder := &fakeAdder{}

	done, err := f.Submit(adder)
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.Err)
	assert.EqualValues(t, 1, res.User.ID)
	assert.True(t, f.Closed())
	require.Len(t, adder.added, 1)
	assert.Equal(t, models.User{Name: "John Doe", JobTitle: "Engineer", Age: 30, Gender: models.Male}, adder.added[0])

	_, err = f.Submit(adder)
	assert.ErrorIs(t, err, entry.ErrFormClosed)
	assert.Len(t, adder.added, 1)
}

func TestForm_SubmitEmptyNameBlocked(t *testing.T) {
	f := entry.NewForm()
	fill(f, "", "Engineer", "30")
	adder := &fakeAdder{}

	_, err := f.Submit(adder)
	var verr *entry.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []entry.FieldError{{Field: entry.FieldName, Message: entry.MsgInvalidName}}, verr.Fields)
	assert.Equal(t, entry.MsgInvalidName, f.NameErr)
	assert.Empty(t, adder.added)
	assert.False(t, f.Closed())
}

func TestForm_SubmitBadAgeOnlyAgeError(t *testing.T) {
	f := entry.NewForm()
	fill(f, "Jane", "Pilot", "abc")

	_, err := f.Submit(&fakeAdder{})
	var verr *entry.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(entry.FieldAge))
	assert.False(t, verr.Has(entry.FieldName))
	assert.False(t, verr.Has(entry.FieldJobTitle))
	assert.Equal(t, entry.MsgInvalidAge, f.AgeErr)
	assert.Empty(t, f.NameErr)
	assert.Empty(t, f.JobTitleErr)
}

func TestForm_AllChecksRunEvenAfterFirstFailure(t *testing.T) {
	f := entry.NewForm()
	fill(f, "J0hn", "", "x")

	_, err := f.Validate()
	var verr *entry.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []entry.FieldError{
		{Field: entry.FieldName, Message: entry.MsgInvalidName},
		{Field: entry.FieldJobTitle, Message: entry.MsgInvalidJobTitle},
		{Field: entry.FieldAge, Message: entry.MsgInvalidAge},
	}, verr.Fields)
	assert.Equal(t, "users/entry: name: Enter a valid name; job_title: Enter a valid job title; age: Enter a valid age", err.Error())
}

func TestForm_LiveNameAndJobTitleErrors(t *testing.T) {
	f := entry.NewForm()

	f.SetName("J0hn")
	assert.Equal(t, entry.MsgInvalidName, f.NameErr)
	f.SetName("John")
	assert.Empty(t, f.NameErr)
	f.SetName("")
	assert.Equal(t, entry.MsgInvalidName, f.NameErr)

	f.SetJobTitle("QA-Lead")
	assert.Equal(t, entry.MsgInvalidJobTitle, f.JobTitleErr)
	f.SetJobTitle("Lead")
	assert.Empty(t, f.JobTitleErr)
}

func TestForm_AgeErrorClearedOnEditWithoutValidating(t *testing.T) {
	f := entry.NewForm()
	fill(f, "Jane", "Pilot", "abc")
	_, err := f.Validate()
	require.Error(t, err)
	require.Equal(t, entry.MsgInvalidAge, f.AgeErr)

	f.SetAge("still bad")
	assert.Empty(t, f.AgeErr, "editing the age clears its error")

	_, err = f.Validate()
	require.Error(t, err)
	assert.Equal(t, entry.MsgInvalidAge, f.AgeErr)
}

func TestForm_GenderSelection(t *testing.T) {
	f := entry.NewForm()
	fill(f, "Jane", "Pilot", "41")
	f.SetGender(models.Female)

	u, err := f.Validate()
	require.NoError(t, err)
	assert.Equal(t, models.Female, u.Gender)
	assert.Zero(t, u.ID)
}

func TestForm_StoresNFCText(t *testing.T) {
	f := entry.NewForm()
	fill(f, "\u1100\u1161 Kim", "Caf\u00e9 Owner", "29")

	u, err := f.Validate()
	require.NoError(t, err)
	assert.Equal(t, "\uac00 Kim", u.Name)
	assert.Equal(t, "Caf\u00e9 Owner", u.JobTitle)
}

func TestForm_DecomposedAccentRejected(t *testing.T) {
	f := entry.NewForm()
	fill(f, "Rene\u0301", "Cafe\u0301 Owner", "29")

	_, err := f.Validate()
	var verr *entry.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(entry.FieldName))
	assert.True(t, verr.Has(entry.FieldJobTitle))
	assert.False(t, verr.Has(entry.FieldAge))
}
