package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

func TestCategoryRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCategoryRepo(db)
	ctx := context.Background()
	c := model.Category{ID: "c1", UserID: "u1", Name: "Work", Color: "#112233", CreatedAt: time.Now().UTC()}

	mock.ExpectExec(`INSERT INTO categories \(id, user_id, name, color, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
		WithArgs(c.ID, c.UserID, c.Name, c.Color, c.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.CreateCategory(ctx, c))

	mock.ExpectExec(`INSERT INTO categories`).
		WithArgs(c.ID, c.UserID, c.Name, c.Color, c.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.CreateCategory(ctx, c), errs.ErrAlreadyExists)
}

func TestCategoryRepo_Update_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCategoryRepo(db)

	mock.ExpectExec(`UPDATE categories SET name=\$3, color=\$4 WHERE id=\$1 AND user_id=\$2`).
		WithArgs("c1", "u1", "New", "#000000").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := r.UpdateCategory(context.Background(), model.Category{ID: "c1", UserID: "u1", Name: "New", Color: "#000000"})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCategoryRepo_Delete_Cascades(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCategoryRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM categories WHERE id=\$1 AND user_id=\$2`).
		WithArgs("c1", "u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM events WHERE user_id=\$1 AND category_id=\$2`).
		WithArgs("u1", "c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	n, err := r.DeleteCategory(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryRepo_Delete_NotFoundRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCategoryRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM categories`).
		WithArgs("nope", "u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	_, err := r.DeleteCategory(context.Background(), "u1", "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryRepo_GetAndList(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCategoryRepo(db)
	ctx := context.Background()
	ts := time.Now().UTC()
	cols := []string{"id", "user_id", "name", "color", "created_at"}

	mock.ExpectQuery(`SELECT id, user_id, name, color, created_at FROM categories WHERE id=\$1 AND user_id=\$2`).
		WithArgs("c1", "u1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("c1", "u1", "Work", "#112233", ts))
	c, err := r.GetCategory(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, "Work", c.Name)

	mock.ExpectQuery(`SELECT id, user_id, name, color, created_at FROM categories WHERE id=\$1 AND user_id=\$2`).
		WithArgs("c2", "u1").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetCategory(ctx, "u1", "c2")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT id, user_id, name, color, created_at FROM categories WHERE user_id=\$1 ORDER BY seq ASC`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("c1", "u1", "Work", "#112233", ts).
			AddRow("c2", "u1", "Google Calendar", "#4285F4", ts))
	cats, err := r.ListCategories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	require.Equal(t, "c2", cats[1].ID)
}
