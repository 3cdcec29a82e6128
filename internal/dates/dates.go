// Package dates implements civil (timezone-free) calendar dates and the
// canonical YYYY-MM-DD date key used to compare, sort and index them.
package dates

import (
	"fmt"
	"time"

	"github.com/karthikpasupathy/yearview/internal/errs"
)

// Date is a civil calendar date. It carries no time of day and no zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

var (
	weekdayAbbrev = [...]string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}
	monthAbbrev   = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

// New returns the date y-m-d without normalization.
func New(y int, m time.Month, d int) Date { return Date{Year: y, Month: m, Day: d} }

// FromTime returns the civil date of t in t's own location.
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return FromTime(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

// Weekday reports the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return sign(d.Year - o.Year)
	case d.Month != o.Month:
		return sign(int(d.Month) - int(o.Month))
	default:
		return sign(d.Day - o.Day)
	}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

// Key returns the canonical YYYY-MM-DD key of d.
func (d Date) Key() string { return FormatDateKey(d) }

func (d Date) String() string { return d.Key() }

// Long returns the long form used in accessible labels, e.g. "Thursday, July 4, 2024".
func (d Date) Long() string {
	return fmt.Sprintf("%s, %s %d, %d", d.Weekday(), d.Month, d.Day, d.Year)
}

// Valid reports whether d names an existing day in a year >= 1.
func (d Date) Valid() bool {
	return d.Year >= 1 && d.Month >= time.January && d.Month <= time.December &&
		d.Day >= 1 && d.Day <= DaysInMonth(d.Year, d.Month)
}

// IsLeapYear applies the Gregorian rule.
func IsLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// DaysInMonth returns the length of month m in year.
func DaysInMonth(year int, m time.Month) int {
	switch m {
	case time.February:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// AllDatesInYear returns every date of year from Jan 1 to Dec 31 in order.
func AllDatesInYear(year int) []Date {
	out := make([]Date, 0, DaysInYear(year))
	for m := time.January; m <= time.December; m++ {
		n := DaysInMonth(year, m)
		for d := 1; d <= n; d++ {
			out = append(out, Date{Year: year, Month: m, Day: d})
		}
	}
	return out
}

// GroupByMonth buckets dates by month, keeping input order inside each bucket.
func GroupByMonth(ds []Date) map[time.Month][]Date {
	out := make(map[time.Month][]Date, 12)
	for _, d := range ds {
		out[d.Month] = append(out[d.Month], d)
	}
	return out
}

// FormatDateKey renders d as YYYY-MM-DD.
func FormatDateKey(d Date) string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDateKey parses an exact NNNN-NN-NN key. Anything else, including
// impossible days such as 2023-02-29, fails with errs.ErrInvalidFormat.
func ParseDateKey(s string) (Date, error) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return Date{}, fmt.Errorf("date key %q: %w", s, errs.ErrInvalidFormat)
	}
	y, ok1 := atoi(s[0:4])
	m, ok2 := atoi(s[5:7])
	d, ok3 := atoi(s[8:10])
	if !ok1 || !ok2 || !ok3 {
		return Date{}, fmt.Errorf("date key %q: %w", s, errs.ErrInvalidFormat)
	}
	out := Date{Year: y, Month: time.Month(m), Day: d}
	if !out.Valid() {
		return Date{}, fmt.Errorf("date key %q out of range: %w", s, errs.ErrInvalidFormat)
	}
	return out, nil
}

// MustParse is ParseDateKey for literals known to be valid.
func MustParse(s string) Date {
	d, err := ParseDateKey(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DayOfWeekAbbrev returns one of Su, Mo, Tu, We, Th, Fr, Sa.
func DayOfWeekAbbrev(d Date) string { return weekdayAbbrev[d.Weekday()] }

// MonthAbbrev returns Jan..Dec for a zero-based month index, or "" when out of range.
func MonthAbbrev(index int) string {
	if index < 0 || index >= len(monthAbbrev) {
		return ""
	}
	return monthAbbrev[index]
}

// IsWeekend reports whether d falls on Saturday or Sunday.
func IsWeekend(d Date) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsToday reports whether d is the civil date of now in now's location.
// Callers pass a fresh clock reading on every call.
func IsToday(d Date, now time.Time) bool {
	return d == FromTime(now)
}

// IsPast reports whether d is strictly before the calendar day of referenceNow.
func IsPast(d Date, referenceNow time.Time) bool {
	return d.Before(FromTime(referenceNow))
}

func atoi(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
