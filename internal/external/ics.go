package external

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/karthikpasupathy/yearview/internal/dates"
	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

const defaultMaxOccurrences = 1000

// ICSOptions bounds recurrence expansion.
type ICSOptions struct {
	// Year limits the returned instances to those overlapping it.
	Year int
	// Location converts timed instances to civil dates. Nil means UTC.
	Location *time.Location
	// MaxOccurrences caps instances per recurring event. Zero uses a default.
	MaxOccurrences int
}

type vevent struct {
	uid         string
	seq         int
	summary     string
	description string
	allDay      bool
	start       time.Time
	end         time.Time
	rrule       string
	exdates     []time.Time
	recurrence  *time.Time
}

// DecodeICS parses an iCalendar payload, expands recurrences inside
// opts.Year and returns one external event per instance. Instance ids are
// the UID, suffixed with the instance start for recurring events, so they
// are stable across imports.
func DecodeICS(r io.Reader, opts ICSOptions) ([]model.ExternalEvent, error) {
	if opts.Year < 1 {
		return nil, fmt.Errorf("%w: year %d", errs.ErrValidation, opts.Year)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse ics: %v", errs.ErrFetchFailed, err)
	}

	var bases, overrides []vevent
	latest := map[string]int{}
	for i, comp := range cal.Events() {
		ev, err := parseVEvent(comp)
		if err != nil {
			return nil, fmt.Errorf("%w: vevent %d: %v", errs.ErrFetchFailed, i, err)
		}
		if ev.recurrence != nil {
			overrides = append(overrides, ev)
			continue
		}
		// Several versions of one UID: keep the highest SEQUENCE.
		if j, ok := latest[ev.uid]; ok {
			if ev.seq >= bases[j].seq {
				bases[j] = ev
			}
			continue
		}
		latest[ev.uid] = len(bases)
		bases = append(bases, ev)
	}

	from, to := dates.New(opts.Year, time.January, 1), dates.New(opts.Year, time.December, 31)
	x := expander{opts: opts, from: from, to: to, byID: map[string]int{}}
	for _, ev := range bases {
		if err := x.expand(ev); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrFetchFailed, err)
		}
	}
	for _, ov := range overrides {
		x.override(ov)
	}
	out := x.out[:0]
	for _, e := range x.out {
		if e.ID != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

type expander struct {
	opts     ICSOptions
	from, to dates.Date
	out      []model.ExternalEvent
	byID     map[string]int
}

func (x *expander) expand(ev vevent) error {
	if ev.rrule == "" {
		x.put(ev.uid, ev, ev.start, ev.end)
		return nil
	}

	rule, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		return fmt.Errorf("rrule of %s: %v", ev.uid, err)
	}
	rule.DTStart(ev.start)
	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	dur := ev.end.Sub(ev.start)
	// Widened by a day each side; toExternal trims to the year.
	lo := x.from.AddDays(-1).In(x.opts.Location).Add(-dur).In(ev.start.Location())
	hi := x.to.AddDays(2).In(x.opts.Location).In(ev.start.Location())
	occ := set.Between(lo, hi, true)
	if len(occ) > x.opts.MaxOccurrences {
		occ = occ[:x.opts.MaxOccurrences]
	}
	for _, s := range occ {
		x.put(instanceID(ev.uid, s, ev.allDay), ev, s, s.Add(dur))
	}
	return nil
}

// override replaces the instance named by RECURRENCE-ID, or adds it when the
// base instance fell outside the year.
func (x *expander) override(ov vevent) {
	id := instanceID(ov.uid, *ov.recurrence, ov.allDay)
	if i, ok := x.byID[id]; ok {
		if ev, in := x.toExternal(id, ov, ov.start, ov.end); in {
			x.out[i] = ev
		} else {
			x.out[i].ID = "" // moved out of the year
		}
		return
	}
	x.put(id, ov, ov.start, ov.end)
}

func (x *expander) put(id string, ev vevent, start, end time.Time) {
	e, in := x.toExternal(id, ev, start, end)
	if !in {
		return
	}
	x.byID[id] = len(x.out)
	x.out = append(x.out, e)
}

// toExternal shapes one instance and reports whether it overlaps the year.
// All-day ends are exclusive in iCalendar; the last covered day is emitted.
func (x *expander) toExternal(id string, ev vevent, start, end time.Time) (model.ExternalEvent, bool) {
	e := model.ExternalEvent{ID: id, Summary: ev.summary, Description: ev.description}
	var first, last dates.Date
	if ev.allDay {
		first = dates.New(start.Year(), start.Month(), start.Day())
		last = dates.New(end.Year(), end.Month(), end.Day()).AddDays(-1)
		if last.Before(first) {
			last = first
		}
		e.Start = model.ExternalTime{Date: first.Key()}
		e.End = model.ExternalTime{Date: last.Key()}
	} else {
		first = dates.FromTime(start.In(x.opts.Location))
		last = dates.FromTime(end.In(x.opts.Location))
		e.Start = model.ExternalTime{DateTime: start.Format(time.RFC3339)}
		e.End = model.ExternalTime{DateTime: end.Format(time.RFC3339)}
	}
	return e, !first.After(x.to) && !last.Before(x.from)
}

func instanceID(uid string, start time.Time, allDay bool) string {
	if allDay {
		return uid + "_" + start.Format("20060102")
	}
	return uid + "_" + start.UTC().Format("20060102T150405Z")
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var out vevent
	p := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if p == nil || p.Value == "" {
		return out, fmt.Errorf("missing UID")
	}
	out.uid = p.Value
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		out.seq, _ = strconv.Atoi(strings.TrimSpace(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.description = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.uid)
	}
	out.allDay = isDateValue(dtStart)

	var err error
	if out.allDay {
		if out.start, err = parseDate(dtStart.Value); err != nil {
			return out, fmt.Errorf("%s: DTSTART: %v", out.uid, err)
		}
		out.end = out.start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if out.end, err = parseDate(dtEnd.Value); err != nil {
				return out, fmt.Errorf("%s: DTEND: %v", out.uid, err)
			}
		}
	} else {
		if out.start, err = ve.GetStartAt(); err != nil {
			return out, fmt.Errorf("%s: DTSTART: %v", out.uid, err)
		}
		out.end = out.start
		if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
			if out.end, err = ve.GetEndAt(); err != nil {
				return out, fmt.Errorf("%s: DTEND: %v", out.uid, err)
			}
		}
	}
	if out.end.Before(out.start) {
		return out, fmt.Errorf("%s: ends before it starts", out.uid)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseStamp(strings.TrimSpace(part), out.start.Location()); err == nil {
				out.exdates = append(out.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		t, err := parseStamp(p.Value, out.start.Location())
		if err != nil {
			return out, fmt.Errorf("%s: RECURRENCE-ID: %v", out.uid, err)
		}
		out.recurrence = &t
	}
	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseDate(v string) (time.Time, error) {
	return time.ParseInLocation("20060102", strings.TrimSpace(v), time.UTC)
}

// parseStamp reads DATE, local DATE-TIME or UTC DATE-TIME forms.
func parseStamp(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return parseDate(v)
	}
}
