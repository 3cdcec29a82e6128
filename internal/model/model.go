// Package model defines domain entities used by services and repositories.
package model

import "time"

// Category groups events; it is owned by a single user.
type Category struct {
	ID        string
	Name      string
	Color     string // "#RRGGBB"
	UserID    string
	CreatedAt time.Time
}

// Event is a dated entry in one category. Date and EndDate are date keys.
type Event struct {
	ID          string
	Title       string
	Description string
	Date        string
	EndDate     string // empty for single-day events
	CategoryID  string
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HolidayKind distinguishes real holidays from user-declared bridge days.
type HolidayKind string

const (
	// HolidayKindHoliday marks a day off.
	HolidayKindHoliday HolidayKind = "holiday"
	// HolidayKindBridge marks a weekday the user plans to take off between a
	// holiday and a weekend. It is never itself a holiday.
	HolidayKindBridge HolidayKind = "bridge"
)

// CustomHoliday is a user-declared override for a single date or, when
// Recurring is set, for the same month/day of every year.
type CustomHoliday struct {
	ID        string
	UserID    string
	Date      string // date key; for recurring entries only month/day are used
	Recurring bool
	Label     string
	Kind      HolidayKind
	CreatedAt time.Time
}

// ExternalTime mirrors the provider's start/end shape: Date for all-day
// events (YYYY-MM-DD) or DateTime (RFC 3339) for timed ones.
type ExternalTime struct {
	Date     string
	DateTime string
}

// ExternalEvent is a raw event as returned by the external calendar fetch.
type ExternalEvent struct {
	ID          string
	Summary     string
	Description string
	Start       ExternalTime
	End         ExternalTime
	ColorID     string
}

// ReplaceResult reports what an atomic category replacement did.
type ReplaceResult struct {
	Deleted []string
	Created []Event
}
