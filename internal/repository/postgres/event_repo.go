package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

// EventRepo implements repository.EventRepository.
type EventRepo struct{ db *DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

const insertEvent = `
INSERT INTO events (id, user_id, category_id, title, description, date, end_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const selectEvent = `
SELECT id, user_id, category_id, title, description, date, end_date, created_at, updated_at
FROM events`

func eventArgs(e model.Event) []any {
	return []any{e.ID, e.UserID, e.CategoryID, e.Title, e.Description, e.Date, e.EndDate, e.CreatedAt, e.UpdatedAt}
}

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.CategoryID, &e.Title, &e.Description,
			&e.Date, &e.EndDate, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateEvent inserts one event.
func (r *EventRepo) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := r.db.Pool.Exec(ctx, insertEvent, eventArgs(e)...)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// UpdateEvent rewrites the mutable fields; created_at is left alone and
// read back into the result.
func (r *EventRepo) UpdateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	const q = `
UPDATE events
SET category_id=$3, title=$4, description=$5, date=$6, end_date=$7, updated_at=$8
WHERE id=$1 AND user_id=$2
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, e.ID, e.UserID, e.CategoryID, e.Title, e.Description, e.Date, e.EndDate, e.UpdatedAt).
		Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, errs.ErrNotFound
	}
	if err != nil {
		return model.Event{}, err
	}
	return e, nil
}

// DeleteEvent removes one event.
func (r *EventRepo) DeleteEvent(ctx context.Context, userID, id string) error {
	const q = `DELETE FROM events WHERE id=$1 AND user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListEvents returns events overlapping [from, to]. An empty end_date sorts
// below any date key, so GREATEST yields the last covered day.
func (r *EventRepo) ListEvents(ctx context.Context, userID, from, to string) ([]model.Event, error) {
	const q = selectEvent + `
WHERE user_id=$1 AND date <= $3 AND GREATEST(date, end_date) >= $2
ORDER BY date ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListAllEvents returns every event of the user.
func (r *EventRepo) ListAllEvents(ctx context.Context, userID string) ([]model.Event, error) {
	const q = selectEvent + `
WHERE user_id=$1
ORDER BY date ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ReplaceCategoryEvents deletes then inserts inside one transaction. The
// category row is locked first, so a concurrent category delete waits for
// the replacement and the delete set is whatever the category holds at that
// point. On any failure the transaction is rolled back and the error reports
// how far it got.
func (r *EventRepo) ReplaceCategoryEvents(
	ctx context.Context, userID, categoryID string, create []model.Event,
) (model.ReplaceResult, error) {
	const lock = `SELECT 1 FROM categories WHERE id=$1 AND user_id=$2 FOR UPDATE`
	const del = `
DELETE FROM events
WHERE user_id=$1 AND category_id=$2
RETURNING id`

	res := model.ReplaceResult{Deleted: []string{}, Created: []model.Event{}}
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, lock, categoryID, userID).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("category %q: %w", categoryID, errs.ErrNotFound)
			}
			return err
		}
		rows, err := tx.Query(ctx, del, userID, categoryID)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		res.Deleted = append(res.Deleted, ids...)
		for _, e := range create {
			if _, err := tx.Exec(ctx, insertEvent, eventArgs(e)...); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("event %q: %w", e.ID, errs.ErrAlreadyExists)
				}
				return fmt.Errorf("event %q: %w", e.ID, err)
			}
			res.Created = append(res.Created, e)
		}
		return nil
	})
	if errors.Is(err, errs.ErrNotFound) {
		return model.ReplaceResult{}, err
	}
	if err != nil {
		return model.ReplaceResult{}, &errs.PartialReconciliationError{
			CategoryID: categoryID,
			Deleted:    len(res.Deleted),
			Created:    len(res.Created),
			WantDelete: len(res.Deleted),
			WantCreate: len(create),
			RolledBack: true,
			Err:        err,
		}
	}
	return res, nil
}
