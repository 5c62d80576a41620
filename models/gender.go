package models

import (
	"database/sql/driver"
	"fmt"
)

// Gender is a closed variant with exactly two values. The zero value is
// Male, which is also the default selection of the entry form.
type Gender uint8

const (
	Male Gender = iota
	Female
)

// Genders lists every Gender in declaration order.
var Genders = []Gender{Male, Female}

// ParseGender converts the persisted tag ("Male" / "Female") into a Gender.
func ParseGender(s string) (Gender, error) {
	switch s {
	case "Male":
		return Male, nil
	case "Female":
		return Female, nil
	}
	return 0, fmt.Errorf("models: unknown gender %q", s)
}

// Valid reports whether g is one of the declared values.
func (g Gender) Valid() bool { return g == Male || g == Female }

func (g Gender) String() string {
	switch g {
	case Male:
		return "Male"
	case Female:
		return "Female"
	}
	return fmt.Sprintf("Gender(%d)", uint8(g))
}

// MarshalText implements encoding.TextMarshaler so JSON and YAML output use
// the tag rather than the ordinal.
func (g Gender) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("models: invalid gender %d", uint8(g))
	}
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Gender) UnmarshalText(text []byte) error {
	v, err := ParseGender(string(text))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// Value implements driver.Valuer. Genders are stored as their text tag.
func (g Gender) Value() (driver.Value, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("models: invalid gender %d", uint8(g))
	}
	return g.String(), nil
}

// Scan implements sql.Scanner.
func (g *Gender) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return g.UnmarshalText([]byte(v))
	case []byte:
		return g.UnmarshalText(v)
	case nil:
		return fmt.Errorf("models: gender is NULL")
	}
	return fmt.Errorf("models: cannot scan %T into Gender", src)
}

// Set and Type let a *Gender be used directly as a pflag.Value.
func (g *Gender) Set(s string) error { return g.UnmarshalText([]byte(s)) }

func (g *Gender) Type() string { return "gender" }
