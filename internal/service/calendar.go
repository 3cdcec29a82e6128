package service

import (
	"context"
	"fmt"
	"time"

	"github.com/karthikpasupathy/yearview/internal/classify"
	"github.com/karthikpasupathy/yearview/internal/dates"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/repository"
)

// YearViewRequest selects what YearView renders.
type YearViewRequest struct {
	Year int
	// Options overrides the configured display toggles when set.
	Options *classify.Options
	// Visible restricts per-day events to these categories. Nil shows all.
	Visible []string
}

// Day is one classified day and the events covering it.
type Day struct {
	classify.Result
	EventIDs []string
}

// MonthView is one month of a year view.
type MonthView struct {
	Month  time.Month
	Abbrev string
	Days   []Day
}

// YearView is the full rendered year.
type YearView struct {
	Year   int
	Today  string
	Months []MonthView
	Events map[string]model.Event
}

// CalendarService renders the annual grid.
type CalendarService interface {
	YearView(ctx context.Context, userID string, req YearViewRequest) (YearView, error)
}

type CalendarServiceImpl struct {
	base
	events   repository.EventRepository
	holidays repository.HolidayRepository
	loc      *time.Location
	defaults classify.Options
}

// NewCalendarService constructs CalendarService. loc decides which calendar
// day is today.
func NewCalendarService(
	events repository.EventRepository,
	holidays repository.HolidayRepository,
	loc *time.Location,
	defaults classify.Options,
	opts ...Option,
) *CalendarServiceImpl {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarServiceImpl{base: newBase(opts), events: events, holidays: holidays, loc: loc, defaults: defaults}
}

// YearView implements CalendarService.
func (s *CalendarServiceImpl) YearView(ctx context.Context, userID string, req YearViewRequest) (YearView, error) {
	if err := requireUser(userID); err != nil {
		return YearView{}, err
	}
	from, to, err := YearRange(req.Year)
	if err != nil {
		return YearView{}, err
	}
	hs, err := s.holidays.ListHolidays(ctx, userID)
	if err != nil {
		return YearView{}, fmt.Errorf("list holidays: %w", err)
	}
	evs, err := s.events.ListEvents(ctx, userID, from, to)
	if err != nil {
		return YearView{}, fmt.Errorf("list events: %w", err)
	}

	var visible map[string]bool
	if req.Visible != nil {
		visible = make(map[string]bool, len(req.Visible))
		for _, id := range req.Visible {
			visible[id] = true
		}
	}
	shown := make([]model.Event, 0, len(evs))
	for _, e := range evs {
		if visible == nil || visible[e.CategoryID] {
			shown = append(shown, e)
		}
	}

	opts := s.defaults
	if req.Options != nil {
		opts = *req.Options
	}
	now := s.now().In(s.loc)

	view := YearView{
		Year:   req.Year,
		Today:  dates.FromTime(now).Key(),
		Months: make([]MonthView, 0, 12),
		Events: make(map[string]model.Event, len(shown)),
	}
	for _, e := range shown {
		view.Events[e.ID] = e
	}
	for _, m := range classify.Year(req.Year, hs, now, opts) {
		mv := MonthView{Month: m.Month, Abbrev: m.Abbrev, Days: make([]Day, 0, len(m.Days))}
		for _, r := range m.Days {
			var ids []string
			for _, e := range shown {
				if Covers(e, r.DateKey) {
					ids = append(ids, e.ID)
				}
			}
			mv.Days = append(mv.Days, Day{Result: r, EventIDs: ids})
		}
		view.Months = append(view.Months, mv)
	}
	return view, nil
}
