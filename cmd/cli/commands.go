package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/karthikpasupathy/yearview/internal/model"
	grpcserver "github.com/karthikpasupathy/yearview/internal/server/grpc"
	"github.com/karthikpasupathy/yearview/internal/viewstate"
)

var errUsage = errors.New("usage")

// client runs subcommands against a YearView connection.
type client struct {
	cc         grpc.ClientConnInterface
	out        io.Writer
	viewPath   string
	importName string
}

// ------- transport -------

func (c *client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, grpcserver.FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// decode maps a response onto a plain Go value via its JSON form.
func decode(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type categoryJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (c *client) categories(ctx context.Context) ([]model.Category, error) {
	resp, err := c.call(ctx, "ListCategories", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Categories []categoryJSON `json:"categories"`
	}
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	out := make([]model.Category, 0, len(body.Categories))
	for _, cj := range body.Categories {
		out = append(out, model.Category{ID: cj.ID, Name: cj.Name, Color: cj.Color})
	}
	return out, nil
}

// view loads the local visibility set, seeding it from the server on first use.
func (c *client) view(ctx context.Context) (*viewstate.Visible, error) {
	v, err := viewstate.Load(c.viewPath)
	if err != nil {
		return nil, err
	}
	if !v.Initialised() {
		cats, err := c.categories(ctx)
		if err != nil {
			return nil, err
		}
		v.Init(cats, c.importName)
	}
	return v, nil
}

// ------- dispatch -------

func (c *client) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "categories":
		return c.listCategories(ctx)
	case "add-category":
		return c.addCategory(ctx, args)
	case "rm-category":
		return c.rmCategory(ctx, args)
	case "events":
		return c.listEvents(ctx, args)
	case "add-event":
		return c.addEvent(ctx, args)
	case "rm-event":
		return c.rmByID(ctx, "rm-event", "DeleteEvent", args)
	case "holidays":
		return c.printCall(ctx, "ListHolidays", nil)
	case "add-holiday":
		return c.addHoliday(ctx, args)
	case "rm-holiday":
		return c.rmByID(ctx, "rm-holiday", "DeleteHoliday", args)
	case "import":
		return c.importExternal(ctx, args)
	case "clear-import":
		return c.clearImport(ctx)
	case "toggle":
		return c.toggle(ctx, args)
	case "year":
		return c.year(ctx, args)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func (c *client) printCall(ctx context.Context, method string, req map[string]any) error {
	resp, err := c.call(ctx, method, req)
	if err != nil {
		return err
	}
	printJSON(c.out, resp.AsMap())
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

// ------- categories -------

func (c *client) listCategories(ctx context.Context) error {
	cats, err := c.categories(ctx)
	if err != nil {
		return err
	}
	v, err := viewstate.Load(c.viewPath)
	if err != nil {
		return err
	}
	v.Init(cats, c.importName)
	v.Prune(cats)
	if err := v.Save(c.viewPath); err != nil {
		return err
	}
	type row struct {
		categoryJSON
		Visible bool `json:"visible"`
	}
	rows := make([]row, 0, len(cats))
	for _, cat := range cats {
		rows = append(rows, row{categoryJSON{cat.ID, cat.Name, cat.Color}, v.Has(cat.ID)})
	}
	printJSON(c.out, rows)
	return nil
}

func (c *client) addCategory(ctx context.Context, args []string) error {
	fs := newFlagSet("add-category")
	id := fs.String("id", "", "category id (update)")
	name := fs.String("name", "", "name")
	color := fs.String("color", "", "#RRGGBB")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *name == "" || *color == "" {
		return fmt.Errorf("%w: add-category needs -name and -color", errUsage)
	}
	resp, err := c.call(ctx, "SaveCategory", map[string]any{"id": *id, "name": *name, "color": *color})
	if err != nil {
		return err
	}
	if *id == "" {
		v, err := c.view(ctx)
		if err != nil {
			return err
		}
		v.Show(resp.GetFields()["id"].GetStringValue())
		if err := v.Save(c.viewPath); err != nil {
			return err
		}
	}
	printJSON(c.out, resp.AsMap())
	return nil
}

func (c *client) rmCategory(ctx context.Context, args []string) error {
	fs := newFlagSet("rm-category")
	id := fs.String("id", "", "category id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%w: rm-category needs -id", errUsage)
	}
	resp, err := c.call(ctx, "DeleteCategory", map[string]any{"id": *id})
	if err != nil {
		return err
	}
	v, err := viewstate.Load(c.viewPath)
	if err != nil {
		return err
	}
	if v.Initialised() {
		v.Hide(*id)
		if err := v.Save(c.viewPath); err != nil {
			return err
		}
	}
	printJSON(c.out, resp.AsMap())
	return nil
}

func (c *client) toggle(ctx context.Context, args []string) error {
	fs := newFlagSet("toggle")
	id := fs.String("id", "", "category id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%w: toggle needs -id", errUsage)
	}
	v, err := c.view(ctx)
	if err != nil {
		return err
	}
	state := "hidden"
	if v.Toggle(*id) {
		state = "shown"
	}
	if err := v.Save(c.viewPath); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s\n", *id, state)
	return nil
}

// ------- events -------

func (c *client) listEvents(ctx context.Context, args []string) error {
	fs := newFlagSet("events")
	year := fs.Int("year", 0, "year (default current)")
	day := fs.String("day", "", "single day YYYY-MM-DD")
	if err := parse(fs, args); err != nil {
		return err
	}
	req := map[string]any{}
	if *day != "" {
		req["day"] = *day
	} else if *year != 0 {
		req["year"] = *year
	}
	return c.printCall(ctx, "ListEvents", req)
}

func (c *client) addEvent(ctx context.Context, args []string) error {
	fs := newFlagSet("add-event")
	id := fs.String("id", "", "event id (update)")
	title := fs.String("title", "", "title")
	desc := fs.String("desc", "", "description")
	date := fs.String("date", "", "start YYYY-MM-DD")
	end := fs.String("end", "", "end YYYY-MM-DD, inclusive")
	cat := fs.String("category", "", "category id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *title == "" || *date == "" || *cat == "" {
		return fmt.Errorf("%w: add-event needs -title, -date and -category", errUsage)
	}
	return c.printCall(ctx, "SaveEvent", map[string]any{
		"id": *id, "title": *title, "description": *desc,
		"date": *date, "endDate": *end, "categoryId": *cat,
	})
}

func (c *client) rmByID(ctx context.Context, name, method string, args []string) error {
	fs := newFlagSet(name)
	id := fs.String("id", "", "id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%w: %s needs -id", errUsage, name)
	}
	if _, err := c.call(ctx, method, map[string]any{"id": *id}); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "deleted", *id)
	return nil
}

// ------- holidays -------

func (c *client) addHoliday(ctx context.Context, args []string) error {
	fs := newFlagSet("add-holiday")
	id := fs.String("id", "", "holiday id (update)")
	date := fs.String("date", "", "YYYY-MM-DD")
	label := fs.String("label", "", "label")
	recurring := fs.Bool("recurring", false, "repeat every year on the same month and day")
	bridge := fs.Bool("bridge", false, "a planned day off between a holiday and a weekend")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *date == "" || *label == "" {
		return fmt.Errorf("%w: add-holiday needs -date and -label", errUsage)
	}
	kind := model.HolidayKindHoliday
	if *bridge {
		kind = model.HolidayKindBridge
	}
	return c.printCall(ctx, "SaveHoliday", map[string]any{
		"id": *id, "date": *date, "label": *label, "recurring": *recurring, "kind": string(kind),
	})
}

// ------- import -------

func (c *client) importExternal(ctx context.Context, args []string) error {
	fs := newFlagSet("import")
	google := fs.String("google", "", "Google Calendar events JSON ('-' for stdin)")
	ics := fs.String("ics", "", "iCalendar file ('-' for stdin)")
	year := fs.Int("year", 0, "year recurring ICS events expand into")
	if err := parse(fs, args); err != nil {
		return err
	}
	var format, path string
	switch {
	case *google != "" && *ics == "":
		format, path = grpcserver.FormatGoogle, *google
	case *ics != "" && *google == "":
		format, path = grpcserver.FormatICS, *ics
	default:
		return fmt.Errorf("%w: import needs exactly one of -google or -ics", errUsage)
	}
	b, err := readAll(path)
	if err != nil {
		return err
	}
	req := map[string]any{"format": format, "payload": string(b)}
	if *year != 0 {
		req["year"] = *year
	}
	resp, err := c.call(ctx, "ImportExternal", req)
	if err != nil {
		return err
	}
	var res struct {
		Deleted []string `json:"deleted"`
		Created []any    `json:"created"`
	}
	if err := decode(resp, &res); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "imported: %d created, %d removed\n", len(res.Created), len(res.Deleted))
	return nil
}

func (c *client) clearImport(ctx context.Context) error {
	resp, err := c.call(ctx, "ClearExternal", nil)
	if err != nil {
		return err
	}
	id := resp.GetFields()["categoryId"].GetStringValue()
	if id != "" {
		v, err := viewstate.Load(c.viewPath)
		if err != nil {
			return err
		}
		if v.Initialised() {
			v.Hide(id)
			if err := v.Save(c.viewPath); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(c.out, "cleared: %d removed\n", len(resp.GetFields()["deleted"].GetListValue().GetValues()))
	return nil
}

// ------- year grid -------

type dayJSON struct {
	Date     string   `json:"date"`
	Day      int      `json:"day"`
	Tag      string   `json:"tag"`
	EventIDs []string `json:"eventIds"`
}

type yearJSON struct {
	Year   int    `json:"year"`
	Today  string `json:"today"`
	Months []struct {
		Abbrev string    `json:"abbrev"`
		Days   []dayJSON `json:"days"`
	} `json:"months"`
	Events map[string]struct {
		Title string `json:"title"`
		Date  string `json:"date"`
		End   string `json:"endDate"`
	} `json:"events"`
}

var tagMarks = map[string]byte{
	"today":           '@',
	"holiday":         'H',
	"extendedWeekend": 'L',
	"weekend":         'W',
	"normal":          '.',
}

// mark renders a day tag as one character; past days print in lower case.
func mark(tag string) byte {
	base, dimmed := strings.CutSuffix(tag, "-dimmed")
	m, ok := tagMarks[base]
	if !ok {
		return '?'
	}
	if dimmed {
		if m == '.' {
			return ' '
		}
		return m + ('a' - 'A')
	}
	return m
}

func (c *client) year(ctx context.Context, args []string) error {
	fs := newFlagSet("year")
	year := fs.Int("year", 0, "year (default current)")
	all := fs.Bool("all", false, "show events of every category")
	noHol := fs.Bool("no-holidays", false, "hide holidays")
	noLW := fs.Bool("no-long-weekends", false, "hide long weekends")
	noGray := fs.Bool("no-gray", false, "do not dim past days")
	if err := parse(fs, args); err != nil {
		return err
	}
	req := map[string]any{
		"options": map[string]any{
			"showHolidays":        !*noHol,
			"showLongWeekends":    !*noLW,
			"showPastDatesAsGray": !*noGray,
		},
	}
	if *year != 0 {
		req["year"] = *year
	}
	if !*all {
		v, err := c.view(ctx)
		if err != nil {
			return err
		}
		ids := v.IDs()
		visible := make([]any, len(ids))
		for i, id := range ids {
			visible[i] = id
		}
		req["visible"] = visible
	}
	resp, err := c.call(ctx, "YearView", req)
	if err != nil {
		return err
	}
	var yv yearJSON
	if err := decode(resp, &yv); err != nil {
		return err
	}
	renderYear(c.out, yv)
	return nil
}

func renderYear(w io.Writer, yv yearJSON) {
	fmt.Fprintf(w, "%d  (today %s)\n", yv.Year, yv.Today)
	fmt.Fprintf(w, "    %s\n", dayRuler())
	for _, m := range yv.Months {
		line := make([]byte, 0, 31)
		events := 0
		for _, d := range m.Days {
			line = append(line, mark(d.Tag))
			events += len(d.EventIDs)
		}
		fmt.Fprintf(w, "%-3s %-31s", m.Abbrev, line)
		if events > 0 {
			fmt.Fprintf(w, "  %d", events)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "@ today  H holiday  L long weekend  W weekend  lower case: past")

	type row struct{ date, end, title string }
	rows := make([]row, 0, len(yv.Events))
	for _, e := range yv.Events {
		rows = append(rows, row{e.Date, e.End, e.Title})
	}
	slices.SortFunc(rows, func(a, b row) int {
		if a.date != b.date {
			return strings.Compare(a.date, b.date)
		}
		return strings.Compare(a.title, b.title)
	})
	for _, r := range rows {
		if r.end != "" {
			fmt.Fprintf(w, "%s..%s  %s\n", r.date, r.end, r.title)
			continue
		}
		fmt.Fprintf(w, "%s              %s\n", r.date, r.title)
	}
}

func dayRuler() string {
	var b strings.Builder
	for d := 1; d <= 31; d++ {
		b.WriteByte(byte('0' + d%10))
	}
	return b.String()
}
