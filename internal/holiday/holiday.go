// Package holiday decides whether a date is a user-declared holiday or an
// extended-weekend (bridge) day, and which label describes it.
//
// A bridge day is a plain weekday whose two neighbours are each a weekend day
// or a holiday. The check only looks one day either side.
package holiday

import (
	"time"

	"github.com/karthikpasupathy/yearview/internal/dates"
	"github.com/karthikpasupathy/yearview/internal/model"
)

type monthDay struct {
	m time.Month
	d int
}

type index struct {
	byKey      map[string]int
	byMonthDay map[monthDay]int
}

func newIndex() index {
	return index{byKey: map[string]int{}, byMonthDay: map[monthDay]int{}}
}

func (ix index) add(i int, d dates.Date, recurring bool) {
	if recurring {
		md := monthDay{d.Month, d.Day}
		if _, ok := ix.byMonthDay[md]; !ok {
			ix.byMonthDay[md] = i
		}
		return
	}
	if _, ok := ix.byKey[d.Key()]; !ok {
		ix.byKey[d.Key()] = i
	}
}

// lookup returns the position of the earliest entry matching d.
func (ix index) lookup(d dates.Date) (int, bool) {
	best, found := 0, false
	if i, ok := ix.byKey[d.Key()]; ok {
		best, found = i, true
	}
	if i, ok := ix.byMonthDay[monthDay{d.Month, d.Day}]; ok && (!found || i < best) {
		best, found = i, true
	}
	return best, found
}

// Set is an indexed view over one user's custom holidays. Entries keep the
// order they were supplied in; the first match wins when several apply.
// A Set is read-only after construction and safe for concurrent use.
type Set struct {
	entries  []model.CustomHoliday
	holidays index
	bridges  index
}

// NewSet indexes hs. Entries with an unparsable date are ignored.
func NewSet(hs []model.CustomHoliday) *Set {
	s := &Set{
		entries:  append([]model.CustomHoliday(nil), hs...),
		holidays: newIndex(),
		bridges:  newIndex(),
	}
	for i, h := range s.entries {
		d, err := dates.ParseDateKey(h.Date)
		if err != nil {
			continue
		}
		if h.Kind == model.HolidayKindBridge {
			s.bridges.add(i, d, h.Recurring)
			continue
		}
		s.holidays.add(i, d, h.Recurring)
	}
	return s
}

// IsHoliday reports whether some holiday entry matches d.
func (s *Set) IsHoliday(d dates.Date) bool {
	_, ok := s.holidays.lookup(d)
	return ok
}

// HolidayName returns the label of the first holiday entry matching d.
func (s *Set) HolidayName(d dates.Date) (string, bool) {
	i, ok := s.holidays.lookup(d)
	if !ok {
		return "", false
	}
	return s.entries[i].Label, true
}

// isOff reports whether d is a weekend day or a holiday.
func (s *Set) isOff(d dates.Date) bool {
	return dates.IsWeekend(d) || s.IsHoliday(d)
}

// IsExtendedWeekend reports whether d is a plain weekday, not a holiday,
// that either bridges two days off or is a declared bridge day touching at
// least one day off.
func (s *Set) IsExtendedWeekend(d dates.Date) bool {
	if dates.IsWeekend(d) || s.IsHoliday(d) {
		return false
	}
	before, after := s.isOff(d.AddDays(-1)), s.isOff(d.AddDays(1))
	if _, ok := s.bridges.lookup(d); ok {
		return before || after
	}
	return before && after
}

// ExtendedWeekendHolidayName names the holiday adjacent to a bridge day. When
// both neighbours are holidays the earlier one wins. A declared bridge day
// with no adjacent holiday falls back to its own label.
func (s *Set) ExtendedWeekendHolidayName(d dates.Date) (string, bool) {
	if !s.IsExtendedWeekend(d) {
		return "", false
	}
	for _, n := range []dates.Date{d.AddDays(-1), d.AddDays(1)} {
		if name, ok := s.HolidayName(n); ok {
			return name, true
		}
	}
	if i, ok := s.bridges.lookup(d); ok {
		return s.entries[i].Label, true
	}
	return "", false
}

// IsHoliday reports whether some entry of hs declares d a holiday.
func IsHoliday(d dates.Date, hs []model.CustomHoliday) bool {
	return NewSet(hs).IsHoliday(d)
}

// HolidayName returns the label of the first entry of hs matching d.
func HolidayName(d dates.Date, hs []model.CustomHoliday) (string, bool) {
	return NewSet(hs).HolidayName(d)
}

// IsExtendedWeekend reports whether d is a bridge day under hs.
func IsExtendedWeekend(d dates.Date, hs []model.CustomHoliday) bool {
	return NewSet(hs).IsExtendedWeekend(d)
}

// ExtendedWeekendHolidayName names the holiday responsible for a bridge day.
func ExtendedWeekendHolidayName(d dates.Date, hs []model.CustomHoliday) (string, bool) {
	return NewSet(hs).ExtendedWeekendHolidayName(d)
}
