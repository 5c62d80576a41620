package repo_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/users/db"
	"github.com/Skryldev/users/models"
	"github.com/Skryldev/users/repo"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test fixture
// ─────────────────────────────────────────────────────────────────────────────

func newTestRepo(t *testing.T) (repo.UserRepository, *db.DB) {
	t.Helper()

	database, err := db.Open(db.Config{
		DSN:        ":memory:",
		DriverName: "sqlite3",
	})
	require.NoError(t, err, "open")
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, database.Migrate(context.Background()), "migrate")
	return repo.NewUserRepo(database), database
}

func newMockRepo(t *testing.T, driver string) (repo.UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err, "sqlmock")
	database := db.New(sqldb, db.Config{DriverName: driver})
	t.Cleanup(func() { _ = database.Close() })
	return repo.NewUserRepo(database), mock
}

var jane = models.User{Name: "Jane Doe", JobTitle: "Pilot", Age: 41, Gender: models.Female}

// ─────────────────────────────────────────────────────────────────────────────
// Insert
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_Insert(t *testing.T) {
	r, _ := newTestRepo(t)

	u, err := r.Insert(context.Background(), jane)
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	want := jane
	want.ID = u.ID
	assert.Equal(t, want, u)
}

func TestUserRepo_Insert_IgnoresCallerID(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	in := jane
	in.ID = 500
	first, err := r.Insert(ctx, in)
	require.NoError(t, err)
	second, err := r.Insert(ctx, in)
	require.NoError(t, err, "second insert with the same caller id")

	assert.NotEqual(t, int64(500), first.ID, "ids must be store-assigned")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUserRepo_Insert_IDsIncrease(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 10; i++ {
		u, err := r.Insert(ctx, jane)
		require.NoError(t, err, "insert %d", i)
		require.Greater(t, u.ID, last)
		last = u.ID
	}
}

func TestUserRepo_Insert_InvalidGenderRejected(t *testing.T) {
	r, _ := newTestRepo(t)

	bad := jane
	bad.Gender = models.Gender(9)
	_, err := r.Insert(context.Background(), bad)
	assert.Error(t, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// List / Count / Watermark
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_List_EmptyIsNotNil(t *testing.T) {
	r, _ := newTestRepo(t)

	users, err := r.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestUserRepo_List_OrderedByID(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	names := []string{"Carol", "Alice", "Bob"}
	for _, name := range names {
		u := jane
		u.Name = name
		_, err := r.Insert(ctx, u)
		require.NoError(t, err, name)
	}

	users, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	for i, name := range names {
		assert.Equal(t, name, users[i].Name, "position %d", i)
		assert.Equal(t, models.Female, users[i].Gender, "gender round-trips")
	}
}

func TestUserRepo_Count(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := r.Insert(ctx, jane)
		require.NoError(t, err)
	}
	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestUserRepo_Watermark(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	w, err := r.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, repo.Watermark{}, w, "empty table")

	for i := 0; i < 3; i++ {
		_, err := r.Insert(ctx, jane)
		require.NoError(t, err)
	}
	w, err = r.Watermark(ctx)
	require.NoError(t, err)

	users, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, repo.WatermarkOf(users), w)
	assert.EqualValues(t, 3, w.Count)
	assert.Equal(t, users[2].ID, w.MaxID)
}

func TestWatermarkOf(t *testing.T) {
	assert.Equal(t, repo.Watermark{}, repo.WatermarkOf(nil))
	assert.Equal(t, repo.Watermark{}, repo.WatermarkOf([]models.User{}))
	assert.Equal(t, repo.Watermark{Count: 2, MaxID: 9},
		repo.WatermarkOf([]models.User{{ID: 4}, {ID: 9}}))
}

// ─────────────────────────────────────────────────────────────────────────────
// Transactions
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_WithinTransaction(t *testing.T) {
	_, database := newTestRepo(t)
	ctx := context.Background()

	err := database.ExecTx(ctx, func(tx *db.Tx) error {
		_, err := repo.NewUserRepo(tx).Insert(ctx, jane)
		return err
	})
	require.NoError(t, err)

	n, err := repo.NewUserRepo(database).Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "committed users")
}

// ─────────────────────────────────────────────────────────────────────────────
// Dialects and storage failures (sqlmock)
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_Insert_MySQLUsesLastInsertID(t *testing.T) {
	r, mock := newMockRepo(t, "mysql")

	mock.ExpectExec(`INSERT INTO users \(name, job_title, age, gender\)`).
		WithArgs("Jane Doe", "Pilot", 41, "Female").
		WillReturnResult(sqlmock.NewResult(42, 1))

	u, err := r.Insert(context.Background(), jane)
	require.NoError(t, err)
	assert.EqualValues(t, 42, u.ID)
	assert.Equal(t, "Jane Doe", u.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Insert_PostgresReturning(t *testing.T) {
	r, mock := newMockRepo(t, "postgres")

	mock.ExpectQuery(`VALUES \(\$1, \$2, \$3, \$4\)\s+RETURNING id`).
		WithArgs("Jane Doe", "Pilot", 41, "Female").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "job_title", "age", "gender"}).
			AddRow(7, "Jane Doe", "Pilot", 41, "Female"))

	u, err := r.Insert(context.Background(), jane)
	require.NoError(t, err)
	assert.EqualValues(t, 7, u.ID)
	assert.Equal(t, models.Female, u.Gender)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Watermark_MySQL(t *testing.T) {
	r, mock := newMockRepo(t, "mysql")

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(MAX\(id\), 0\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(5, 12))

	w, err := r.Watermark(context.Background())
	require.NoError(t, err)
	assert.Equal(t, repo.Watermark{Count: 5, MaxID: 12}, w)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Insert_DiskFullIsStorageFailure(t *testing.T) {
	r, mock := newMockRepo(t, "sqlite3")

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrFull})

	_, err := r.Insert(context.Background(), jane)
	assert.True(t, db.IsStorageFailure(err), "got %v", err)
}

func TestUserRepo_List_IOErrorIsStorageFailure(t *testing.T) {
	r, mock := newMockRepo(t, "sqlite3")

	mock.ExpectQuery(`SELECT id, name, job_title, age, gender`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrIoErr})

	_, err := r.List(context.Background())
	assert.True(t, db.IsStorageFailure(err), "got %v", err)
}
