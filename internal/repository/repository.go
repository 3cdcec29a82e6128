// Package repository declares the storage contracts used by services.
// Every method is scoped to a single user.
package repository

import (
	"context"

	"github.com/karthikpasupathy/yearview/internal/model"
)

// CategoryRepository stores event categories.
type CategoryRepository interface {
	// CreateCategory inserts c. Returns errs.ErrAlreadyExists on id clash.
	CreateCategory(ctx context.Context, c model.Category) error

	// UpdateCategory changes name and color. Returns errs.ErrNotFound if absent.
	UpdateCategory(ctx context.Context, c model.Category) error

	// DeleteCategory removes the category and every event in it, atomically.
	// It returns the number of events removed.
	DeleteCategory(ctx context.Context, userID, id string) (int, error)

	// GetCategory returns one category or errs.ErrNotFound.
	GetCategory(ctx context.Context, userID, id string) (model.Category, error)

	// ListCategories returns the user's categories in creation order.
	ListCategories(ctx context.Context, userID string) ([]model.Category, error)
}

// EventRepository stores dated events.
type EventRepository interface {
	// CreateEvent inserts e. Returns errs.ErrAlreadyExists on id clash.
	CreateEvent(ctx context.Context, e model.Event) error

	// UpdateEvent rewrites the mutable fields of e and returns the stored
	// event, carrying its original CreatedAt. Returns errs.ErrNotFound if absent.
	UpdateEvent(ctx context.Context, e model.Event) (model.Event, error)

	// DeleteEvent removes one event. Returns errs.ErrNotFound if absent.
	DeleteEvent(ctx context.Context, userID, id string) error

	// ListEvents returns events overlapping [from, to] (date keys, inclusive),
	// ordered by date then id.
	ListEvents(ctx context.Context, userID, from, to string) ([]model.Event, error)

	// ListAllEvents returns every event of the user.
	ListAllEvents(ctx context.Context, userID string) ([]model.Event, error)

	// ReplaceCategoryEvents deletes every event of the category and then
	// creates create, as one unit. The delete set is read inside that unit,
	// so events written before it starts are never left behind. Readers
	// never observe a state between the two phases. A category that no
	// longer exists yields errs.ErrNotFound and changes nothing; any other
	// failure is an *errs.PartialReconciliationError.
	ReplaceCategoryEvents(ctx context.Context, userID, categoryID string, create []model.Event) (model.ReplaceResult, error)
}

// HolidayRepository stores custom holidays and bridge days.
type HolidayRepository interface {
	// CreateHoliday inserts h.
	CreateHoliday(ctx context.Context, h model.CustomHoliday) error

	// UpdateHoliday rewrites date, recurrence, label and kind and returns the
	// stored entry. Returns errs.ErrNotFound if absent. Position in the list
	// is kept.
	UpdateHoliday(ctx context.Context, h model.CustomHoliday) (model.CustomHoliday, error)

	// DeleteHoliday removes one entry. Returns errs.ErrNotFound if absent.
	DeleteHoliday(ctx context.Context, userID, id string) error

	// ListHolidays returns the user's entries in creation order.
	ListHolidays(ctx context.Context, userID string) ([]model.CustomHoliday, error)
}

// Store bundles the three repositories behind one backend.
type Store interface {
	CategoryRepository
	EventRepository
	HolidayRepository
}
