package repo

import (
	"context"
	"fmt"

	"github.com/Skryldev/users/db"
	"github.com/Skryldev/users/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// UserRepository interface — for mocking in tests
// ─────────────────────────────────────────────────────────────────────────────

// UserRepository defines the persistence operations on the users table.
// Records are append-only: there is no update or delete.
type UserRepository interface {
	Insert(ctx context.Context, u models.User) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Count(ctx context.Context) (int64, error)
	Watermark(ctx context.Context) (Watermark, error)
}

// Watermark identifies a state of the users table. Rows are never updated
// or deleted, so two reads with equal watermarks saw the same rows.
type Watermark struct {
	Count int64
	MaxID int64
}

// WatermarkOf returns the watermark of a full, id-ordered listing.
func WatermarkOf(users []models.User) Watermark {
	if len(users) == 0 {
		return Watermark{}
	}
	return Watermark{Count: int64(len(users)), MaxID: users[len(users)-1].ID}
}

// ─────────────────────────────────────────────────────────────────────────────
// userRepo — concrete implementation
// ─────────────────────────────────────────────────────────────────────────────

type userRepo struct {
	q db.Querier
}

// NewUserRepo returns a UserRepository backed by q.
// q can be a *db.DB or *db.Tx; both satisfy db.Querier.
func NewUserRepo(q db.Querier) UserRepository {
	return &userRepo{q: q}
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL constants — '?' placeholders, rebound per driver by db.Querier
// ─────────────────────────────────────────────────────────────────────────────

const (
	sqlInsertUser = `
		INSERT INTO users (name, job_title, age, gender)
		VALUES (?, ?, ?, ?)`

	sqlInsertUserReturning = sqlInsertUser + `
		RETURNING id, name, job_title, age, gender`

	sqlListUsers = `
		SELECT id, name, job_title, age, gender
		FROM   users
		ORDER  BY id`

	sqlCountUsers = `
		SELECT COUNT(*) FROM users`

	sqlWatermark = `
		SELECT COUNT(*), COALESCE(MAX(id), 0) FROM users`
)

// ─────────────────────────────────────────────────────────────────────────────
// Insert
// ─────────────────────────────────────────────────────────────────────────────

// Insert stores u and returns the persisted record carrying the
// database-assigned id. u.ID is ignored.
func (r *userRepo) Insert(ctx context.Context, u models.User) (models.User, error) {
	if r.q.Driver().SupportsReturning() {
		row := r.q.QueryRow(ctx, sqlInsertUserReturning, u.Name, u.JobTitle, u.Age, u.Gender)
		return scanUser(row)
	}

	res, err := r.q.Exec(ctx, sqlInsertUser, u.Name, u.JobTitle, u.Age, u.Gender)
	if err != nil {
		return models.User{}, fmt.Errorf("repo/user: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, fmt.Errorf("repo/user: last insert id: %w", err)
	}
	u.ID = id
	return u, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// List
// ─────────────────────────────────────────────────────────────────────────────

// List returns every user ordered by id. The result is never nil.
func (r *userRepo) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.q.Query(ctx, sqlListUsers)
	if err != nil {
		return nil, fmt.Errorf("repo/user: list: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.JobTitle, &u.Age, &u.Gender); err != nil {
			return nil, fmt.Errorf("repo/user: scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo/user: list: %w", err)
	}
	return users, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Count
// ─────────────────────────────────────────────────────────────────────────────

// Count returns the total number of users.
func (r *userRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, sqlCountUsers).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo/user: count: %w", err)
	}
	return n, nil
}

// Watermark reads the current watermark without listing the rows.
func (r *userRepo) Watermark(ctx context.Context) (Watermark, error) {
	var w Watermark
	if err := r.q.QueryRow(ctx, sqlWatermark).Scan(&w.Count, &w.MaxID); err != nil {
		return Watermark{}, fmt.Errorf("repo/user: watermark: %w", err)
	}
	return w, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// scanUser — centralised column mapping
// ─────────────────────────────────────────────────────────────────────────────

func scanUser(row *db.Row) (models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.JobTitle, &u.Age, &u.Gender); err != nil {
		return models.User{}, fmt.Errorf("repo/user: %w", err)
	}
	return u, nil
}

var _ UserRepository = (*userRepo)(nil)
