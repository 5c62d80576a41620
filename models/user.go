package models

// User represents a row in the "users" table.
// Fields map 1-to-1 with columns. A User is never updated once stored.
type User struct {
	// ID is assigned by the store on insert. Any value set by the caller is
	// ignored; the entry flow always passes 0 as a placeholder.
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	JobTitle string `json:"job_title" yaml:"job_title"`
	Age      int    `json:"age" yaml:"age"`
	Gender   Gender `json:"gender" yaml:"gender"`
}
