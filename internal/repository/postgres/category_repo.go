package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

// CategoryRepo implements repository.CategoryRepository.
type CategoryRepo struct{ db *DB }

// NewCategoryRepo constructs a category repository.
func NewCategoryRepo(db *DB) *CategoryRepo { return &CategoryRepo{db: db} }

// CreateCategory inserts a category row.
func (r *CategoryRepo) CreateCategory(ctx context.Context, c model.Category) error {
	const q = `
INSERT INTO categories (id, user_id, name, color, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, c.ID, c.UserID, c.Name, c.Color, c.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// UpdateCategory sets name and color.
func (r *CategoryRepo) UpdateCategory(ctx context.Context, c model.Category) error {
	const q = `UPDATE categories SET name=$3, color=$4 WHERE id=$1 AND user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, c.ID, c.UserID, c.Name, c.Color)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteCategory removes the category and its events in one transaction.
// The category row goes first so a running replacement holding its row lock
// finishes before the events are collected.
func (r *CategoryRepo) DeleteCategory(ctx context.Context, userID, id string) (n int, err error) {
	const delCat = `DELETE FROM categories WHERE id=$1 AND user_id=$2`
	const delEvents = `DELETE FROM events WHERE user_id=$1 AND category_id=$2`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, delCat, id, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		tag, err = tx.Exec(ctx, delEvents, userID, id)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetCategory selects one category.
func (r *CategoryRepo) GetCategory(ctx context.Context, userID, id string) (model.Category, error) {
	const q = `
SELECT id, user_id, name, color, created_at
FROM categories WHERE id=$1 AND user_id=$2`
	var c model.Category
	err := r.db.Pool.QueryRow(ctx, q, id, userID).Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Category{}, errs.ErrNotFound
	}
	return c, err
}

// ListCategories returns the user's categories in creation order.
func (r *CategoryRepo) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	const q = `
SELECT id, user_id, name, color, created_at
FROM categories
WHERE user_id=$1
ORDER BY seq ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Category{}
	for rows.Next() {
		var c model.Category
		if err = rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
