package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

// HolidayRepo implements repository.HolidayRepository.
type HolidayRepo struct{ db *DB }

// NewHolidayRepo constructs a custom holiday repository.
func NewHolidayRepo(db *DB) *HolidayRepo { return &HolidayRepo{db: db} }

// CreateHoliday inserts one entry.
func (r *HolidayRepo) CreateHoliday(ctx context.Context, h model.CustomHoliday) error {
	const q = `
INSERT INTO custom_holidays (id, user_id, date, recurring, label, kind, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, h.ID, h.UserID, h.Date, h.Recurring, h.Label, string(h.Kind), h.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// UpdateHoliday rewrites an entry in place; seq is untouched so order holds.
func (r *HolidayRepo) UpdateHoliday(ctx context.Context, h model.CustomHoliday) (model.CustomHoliday, error) {
	const q = `
UPDATE custom_holidays SET date=$3, recurring=$4, label=$5, kind=$6
WHERE id=$1 AND user_id=$2
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, h.ID, h.UserID, h.Date, h.Recurring, h.Label, string(h.Kind)).
		Scan(&h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CustomHoliday{}, errs.ErrNotFound
	}
	if err != nil {
		return model.CustomHoliday{}, err
	}
	return h, nil
}

// DeleteHoliday removes one entry.
func (r *HolidayRepo) DeleteHoliday(ctx context.Context, userID, id string) error {
	const q = `DELETE FROM custom_holidays WHERE id=$1 AND user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListHolidays returns entries in creation order.
func (r *HolidayRepo) ListHolidays(ctx context.Context, userID string) ([]model.CustomHoliday, error) {
	const q = `
SELECT id, user_id, date, recurring, label, kind, created_at
FROM custom_holidays
WHERE user_id=$1
ORDER BY seq ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.CustomHoliday{}
	for rows.Next() {
		var (
			h    model.CustomHoliday
			kind string
		)
		if err = rows.Scan(&h.ID, &h.UserID, &h.Date, &h.Recurring, &h.Label, &kind, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Kind = model.HolidayKind(kind)
		out = append(out, h)
	}
	return out, rows.Err()
}
