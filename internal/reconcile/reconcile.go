// Package reconcile computes the full-replace plan that syncs one category
// with a batch of external calendar events.
//
// The plan is derived from the current store state every time, so applying
// it twice with the same batch yields the same final state.
package reconcile

import (
	"fmt"
	"time"

	"github.com/karthikpasupathy/yearview/internal/dates"
	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

// UntitledEvent is used when an external event has no summary.
const UntitledEvent = "(No title)"

// Params carries the context of one reconciliation.
type Params struct {
	UserID string
	Now    time.Time
	// Location is used to truncate timed events to a civil date. Nil means UTC.
	Location *time.Location
}

// Plan lists the ids to delete and the events to create, in that order.
type Plan struct {
	Deleted []string
	Created []model.Event
}

// Reconcile builds the plan replacing every event of targetCategoryID in
// current with the mapped external batch. An empty batch clears the category.
// Any mapping error aborts the whole plan.
func Reconcile(external []model.ExternalEvent, targetCategoryID string, current []model.Event, p Params) (Plan, error) {
	if p.UserID == "" {
		return Plan{}, errs.ErrNotAuthenticated
	}
	if targetCategoryID == "" {
		return Plan{}, fmt.Errorf("%w: empty target category", errs.ErrValidation)
	}

	plan := Plan{Deleted: []string{}, Created: make([]model.Event, 0, len(external))}
	foreign := make(map[string]struct{})
	for _, e := range current {
		if e.CategoryID == targetCategoryID {
			plan.Deleted = append(plan.Deleted, e.ID)
			continue
		}
		foreign[e.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(external))
	for i, x := range external {
		ev, err := MapExternal(x, targetCategoryID, p)
		if err != nil {
			return Plan{}, fmt.Errorf("external event %d: %w", i, err)
		}
		if _, dup := seen[ev.ID]; dup {
			return Plan{}, fmt.Errorf("%w: duplicate external id %q", errs.ErrValidation, ev.ID)
		}
		if _, taken := foreign[ev.ID]; taken {
			return Plan{}, fmt.Errorf("%w: external id %q used by another category", errs.ErrAlreadyExists, ev.ID)
		}
		seen[ev.ID] = struct{}{}
		plan.Created = append(plan.Created, ev)
	}
	return plan, nil
}

// MapExternal converts one external event into the local shape. The external
// id is kept so repeated syncs recreate the same ids.
func MapExternal(x model.ExternalEvent, categoryID string, p Params) (model.Event, error) {
	if x.ID == "" {
		return model.Event{}, fmt.Errorf("%w: missing external id", errs.ErrValidation)
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	start, err := civilDate(x.Start, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("start of %q: %w", x.ID, err)
	}
	ev := model.Event{
		ID:          x.ID,
		Title:       x.Summary,
		Description: x.Description,
		Date:        start.Key(),
		CategoryID:  categoryID,
		UserID:      p.UserID,
		CreatedAt:   p.Now,
		UpdatedAt:   p.Now,
	}
	if ev.Title == "" {
		ev.Title = UntitledEvent
	}

	if x.End.Date != "" || x.End.DateTime != "" {
		end, err := civilDate(x.End, loc)
		if err != nil {
			return model.Event{}, fmt.Errorf("end of %q: %w", x.ID, err)
		}
		if end.Before(start) {
			return model.Event{}, fmt.Errorf("%w: %q ends before it starts", errs.ErrInvalidFormat, x.ID)
		}
		if end.After(start) {
			ev.EndDate = end.Key()
		}
	}
	return ev, nil
}

func civilDate(t model.ExternalTime, loc *time.Location) (dates.Date, error) {
	if t.Date != "" {
		return dates.ParseDateKey(t.Date)
	}
	if t.DateTime == "" {
		return dates.Date{}, fmt.Errorf("%w: neither date nor dateTime set", errs.ErrInvalidFormat)
	}
	ts, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return dates.Date{}, fmt.Errorf("%w: %q: %v", errs.ErrInvalidFormat, t.DateTime, err)
	}
	return dates.FromTime(ts.In(loc)), nil
}
