// Package classify combines the date and holiday rules into a single visual
// category per day.
package classify

import (
	"time"

	"github.com/karthikpasupathy/yearview/internal/dates"
	"github.com/karthikpasupathy/yearview/internal/holiday"
	"github.com/karthikpasupathy/yearview/internal/model"
)

// Category is the single visual/semantic class of a day.
type Category string

// Categories in priority order, highest first.
const (
	CategoryToday           Category = "today"
	CategoryHoliday         Category = "holiday"
	CategoryExtendedWeekend Category = "extendedWeekend"
	CategoryWeekend         Category = "weekend"
	CategoryNormal          Category = "normal"
)

// Options toggles detections. A disabled detection is not computed at all.
type Options struct {
	ShowHolidays        bool
	ShowLongWeekends    bool
	ShowPastDatesAsGray bool
}

// DefaultOptions enables everything.
func DefaultOptions() Options {
	return Options{ShowHolidays: true, ShowLongWeekends: true, ShowPastDatesAsGray: true}
}

// Result is the derived classification of one day. It is valid only for the
// query that produced it since today/past depend on the clock.
type Result struct {
	Date              dates.Date
	DateKey           string
	IsToday           bool
	IsPast            bool
	IsWeekend         bool
	IsHoliday         bool
	IsExtendedWeekend bool
	HolidayName       string
	BridgeName        string
	Label             string
	Category          Category
	Dimmed            bool
}

// Tag is the visual priority tag: the category, with a "-dimmed" suffix for
// past days when dimming applies.
func (r Result) Tag() string {
	if r.Dimmed {
		return string(r.Category) + "-dimmed"
	}
	return string(r.Category)
}

// Classify classifies d against the given holidays at wall-clock time now.
func Classify(d dates.Date, hs []model.CustomHoliday, now time.Time, opts Options) Result {
	return classify(d, holiday.NewSet(hs), now, opts)
}

func classify(d dates.Date, hs *holiday.Set, now time.Time, opts Options) Result {
	r := Result{
		Date:      d,
		DateKey:   d.Key(),
		IsToday:   dates.IsToday(d, now),
		IsWeekend: dates.IsWeekend(d),
	}
	if opts.ShowPastDatesAsGray {
		r.IsPast = dates.IsPast(d, now)
	}
	if opts.ShowHolidays {
		r.HolidayName, r.IsHoliday = hs.HolidayName(d)
	}
	if opts.ShowLongWeekends {
		r.IsExtendedWeekend = hs.IsExtendedWeekend(d)
		if r.IsExtendedWeekend {
			r.BridgeName, _ = hs.ExtendedWeekendHolidayName(d)
		}
	}

	switch {
	case r.IsToday:
		r.Category = CategoryToday
	case r.IsHoliday:
		r.Category = CategoryHoliday
	case r.IsExtendedWeekend:
		r.Category = CategoryExtendedWeekend
	case r.IsWeekend:
		r.Category = CategoryWeekend
	default:
		r.Category = CategoryNormal
	}
	r.Dimmed = r.IsPast && r.Category != CategoryToday
	r.Label = label(r)
	return r
}

func label(r Result) string {
	long := r.Date.Long()
	switch {
	case r.IsHoliday && r.HolidayName != "":
		return long + ", " + r.HolidayName
	case r.IsExtendedWeekend && r.BridgeName != "":
		return long + ", " + r.BridgeName
	}
	return long
}

// Month holds the classified days of one month.
type Month struct {
	Month  time.Month
	Abbrev string
	Days   []Result
}

// Year classifies every day of year, grouped by month.
func Year(year int, hs []model.CustomHoliday, now time.Time, opts Options) []Month {
	set := holiday.NewSet(hs)
	byMonth := dates.GroupByMonth(dates.AllDatesInYear(year))
	out := make([]Month, 0, 12)
	for m := time.January; m <= time.December; m++ {
		days := byMonth[m]
		res := make([]Result, 0, len(days))
		for _, d := range days {
			res = append(res, classify(d, set, now, opts))
		}
		out = append(out, Month{Month: m, Abbrev: dates.MonthAbbrev(int(m) - 1), Days: res})
	}
	return out
}
