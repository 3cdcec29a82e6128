// Package convert maps domain values to and from the structpb payloads of
// the YearView gRPC service.
package convert

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/karthikpasupathy/yearview/internal/classify"
	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/service"
)

// --- helpers ---

func str(v string) *structpb.Value  { return structpb.NewStringValue(v) }
func boolean(v bool) *structpb.Value { return structpb.NewBoolValue(v) }
func num(v int) *structpb.Value      { return structpb.NewNumberValue(float64(v)) }

func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return str(t.UTC().Format(time.RFC3339Nano))
}

func strList(vs []string) *structpb.Value {
	out := make([]*structpb.Value, 0, len(vs))
	for _, v := range vs {
		out = append(out, str(v))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: out})
}

func list(vs []*structpb.Value) *structpb.Value {
	if vs == nil {
		vs = []*structpb.Value{}
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vs})
}

func object(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}

// String returns the string field key, or "" when absent.
func String(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	}
	return "", fmt.Errorf("%w: field %q is not a string", errs.ErrValidation, key)
}

// Bool returns the bool field key, or false when absent.
func Bool(s *structpb.Struct, key string) (bool, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	case *structpb.Value_NullValue:
		return false, nil
	}
	return false, fmt.Errorf("%w: field %q is not a bool", errs.ErrValidation, key)
}

// Int returns the integral number field key, or 0 when absent.
func Int(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: field %q is not an integer", errs.ErrValidation, key)
		}
		return int(f), nil
	case *structpb.Value_NullValue:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: field %q is not a number", errs.ErrValidation, key)
}

// Strings returns the string list field key. Absent yields nil, which callers
// read as "no filter"; an explicit empty list yields an empty non-nil slice.
func Strings(s *structpb.Struct, key string) ([]string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	lv := v.GetListValue()
	if lv == nil {
		return nil, fmt.Errorf("%w: field %q is not a list", errs.ErrValidation, key)
	}
	out := make([]string, 0, len(lv.GetValues()))
	for i, item := range lv.GetValues() {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not a string", errs.ErrValidation, key, i)
		}
		out = append(out, sv.StringValue)
	}
	return out, nil
}

// Object returns the nested struct field key, or nil when absent.
func Object(s *structpb.Struct, key string) (*structpb.Struct, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StructValue:
		return k.StructValue, nil
	case *structpb.Value_NullValue:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: field %q is not an object", errs.ErrValidation, key)
}

// fields reads several string fields at once.
func fields(s *structpb.Struct, keys ...string) ([]string, error) {
	out := make([]string, len(keys))
	for i, k := range keys {
		v, err := String(s, k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// --- Category ---

// ToStructCategory converts a category.
func ToStructCategory(c model.Category) *structpb.Struct {
	return object(map[string]*structpb.Value{
		"id":        str(c.ID),
		"name":      str(c.Name),
		"color":     str(c.Color),
		"createdAt": ts(c.CreatedAt),
	})
}

// ToStructCategories wraps categories under "categories".
func ToStructCategories(cs []model.Category) *structpb.Struct {
	out := make([]*structpb.Value, 0, len(cs))
	for _, c := range cs {
		out = append(out, structpb.NewStructValue(ToStructCategory(c)))
	}
	return object(map[string]*structpb.Value{"categories": list(out)})
}

// FromStructCategory reads id, name and color.
func FromStructCategory(s *structpb.Struct) (model.Category, error) {
	f, err := fields(s, "id", "name", "color")
	if err != nil {
		return model.Category{}, err
	}
	return model.Category{ID: f[0], Name: f[1], Color: f[2]}, nil
}

// --- Event ---

// ToStructEvent converts an event. endDate is omitted for single-day events.
func ToStructEvent(e model.Event) *structpb.Struct {
	m := map[string]*structpb.Value{
		"id":          str(e.ID),
		"title":       str(e.Title),
		"description": str(e.Description),
		"date":        str(e.Date),
		"categoryId":  str(e.CategoryID),
		"createdAt":   ts(e.CreatedAt),
		"updatedAt":   ts(e.UpdatedAt),
	}
	if e.EndDate != "" {
		m["endDate"] = str(e.EndDate)
	}
	return object(m)
}

// ToStructEvents wraps events under "events".
func ToStructEvents(es []model.Event) *structpb.Struct {
	return object(map[string]*structpb.Value{"events": eventList(es)})
}

func eventList(es []model.Event) *structpb.Value {
	out := make([]*structpb.Value, 0, len(es))
	for _, e := range es {
		out = append(out, structpb.NewStructValue(ToStructEvent(e)))
	}
	return list(out)
}

// FromStructEvent reads the client-settable event fields.
func FromStructEvent(s *structpb.Struct) (model.Event, error) {
	f, err := fields(s, "id", "title", "description", "date", "endDate", "categoryId")
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{
		ID: f[0], Title: f[1], Description: f[2], Date: f[3], EndDate: f[4], CategoryID: f[5],
	}, nil
}

// --- Holiday ---

// ToStructHoliday converts a custom holiday.
func ToStructHoliday(h model.CustomHoliday) *structpb.Struct {
	return object(map[string]*structpb.Value{
		"id":        str(h.ID),
		"date":      str(h.Date),
		"recurring": boolean(h.Recurring),
		"label":     str(h.Label),
		"kind":      str(string(h.Kind)),
		"createdAt": ts(h.CreatedAt),
	})
}

// ToStructHolidays wraps holidays under "holidays".
func ToStructHolidays(hs []model.CustomHoliday) *structpb.Struct {
	out := make([]*structpb.Value, 0, len(hs))
	for _, h := range hs {
		out = append(out, structpb.NewStructValue(ToStructHoliday(h)))
	}
	return object(map[string]*structpb.Value{"holidays": list(out)})
}

// FromStructHoliday reads the client-settable holiday fields.
func FromStructHoliday(s *structpb.Struct) (model.CustomHoliday, error) {
	f, err := fields(s, "id", "date", "label", "kind")
	if err != nil {
		return model.CustomHoliday{}, err
	}
	rec, err := Bool(s, "recurring")
	if err != nil {
		return model.CustomHoliday{}, err
	}
	return model.CustomHoliday{ID: f[0], Date: f[1], Label: f[2], Kind: model.HolidayKind(f[3]), Recurring: rec}, nil
}

// --- Sync ---

// ToStructSyncResult reports an import or clear.
func ToStructSyncResult(r service.SyncResult) *structpb.Struct {
	deleted := r.Deleted
	if deleted == nil {
		deleted = []string{}
	}
	return object(map[string]*structpb.Value{
		"categoryId":      str(r.CategoryID),
		"categoryCreated": boolean(r.CategoryCreated),
		"deleted":         strList(deleted),
		"created":         eventList(r.Created),
	})
}

// --- Year view ---

// FromStructOptions reads display toggles. Absent toggles default to on.
func FromStructOptions(s *structpb.Struct) (classify.Options, error) {
	o := classify.DefaultOptions()
	for key, dst := range map[string]*bool{
		"showHolidays":        &o.ShowHolidays,
		"showLongWeekends":    &o.ShowLongWeekends,
		"showPastDatesAsGray": &o.ShowPastDatesAsGray,
	} {
		if _, ok := s.GetFields()[key]; !ok {
			continue
		}
		v, err := Bool(s, key)
		if err != nil {
			return classify.Options{}, err
		}
		*dst = v
	}
	return o, nil
}

// ToStructDay converts one classified day.
func ToStructDay(d service.Day) *structpb.Struct {
	ids := d.EventIDs
	if ids == nil {
		ids = []string{}
	}
	m := map[string]*structpb.Value{
		"date":              str(d.DateKey),
		"day":               num(d.Date.Day),
		"label":             str(d.Label),
		"category":          str(string(d.Category)),
		"tag":               str(d.Tag()),
		"isToday":           boolean(d.IsToday),
		"isPast":            boolean(d.IsPast),
		"isWeekend":         boolean(d.IsWeekend),
		"isHoliday":         boolean(d.IsHoliday),
		"isExtendedWeekend": boolean(d.IsExtendedWeekend),
		"eventIds":          strList(ids),
	}
	if d.HolidayName != "" {
		m["holidayName"] = str(d.HolidayName)
	}
	if d.BridgeName != "" {
		m["bridgeName"] = str(d.BridgeName)
	}
	return object(m)
}

// ToStructYearView converts a rendered year.
func ToStructYearView(v service.YearView) *structpb.Struct {
	months := make([]*structpb.Value, 0, len(v.Months))
	for _, m := range v.Months {
		days := make([]*structpb.Value, 0, len(m.Days))
		for _, d := range m.Days {
			days = append(days, structpb.NewStructValue(ToStructDay(d)))
		}
		months = append(months, structpb.NewStructValue(object(map[string]*structpb.Value{
			"month":  num(int(m.Month)),
			"abbrev": str(m.Abbrev),
			"days":   list(days),
		})))
	}
	events := make(map[string]*structpb.Value, len(v.Events))
	for id, e := range v.Events {
		events[id] = structpb.NewStructValue(ToStructEvent(e))
	}
	return object(map[string]*structpb.Value{
		"year":   num(v.Year),
		"today":  str(v.Today),
		"months": list(months),
		"events": structpb.NewStructValue(object(events)),
	})
}
