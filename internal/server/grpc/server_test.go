package grpcserver

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/karthikpasupathy/yearview/internal/classify"
	"github.com/karthikpasupathy/yearview/internal/metrics"
	"github.com/karthikpasupathy/yearview/internal/registry"
	"github.com/karthikpasupathy/yearview/internal/repository/memory"
	"github.com/karthikpasupathy/yearview/internal/service"
)

const bufSize = 1 << 20

var now = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)

type harness struct {
	cc     *grpc.ClientConn
	tokens *service.TokenServiceImpl
	store  *memory.Store
}

func startBufGRPC(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New()
	clock := service.WithClock(func() time.Time { return now })
	opts := []service.Option{service.WithLogger(log), clock}
	reserved := registry.Default()

	tokens := service.NewTokenService([]byte("test-secret"), time.Hour)
	srv := New(Services{
		Categories: service.NewCategoryService(store, reserved, opts...),
		Events:     service.NewEventService(store, store, opts...),
		Holidays:   service.NewHolidayService(store, opts...),
		Sync:       service.NewSyncService(store, store, reserved, opts, service.WithMaxBatch(10)),
		Calendar:   service.NewCalendarService(store, store, time.UTC, classify.DefaultOptions(), opts...),
	}, time.UTC, log)
	srv.now = func() time.Time { return now }

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log), MetricsUnary(metrics.New()), LoggingUnary(log), AuthUnary(tokens),
	))
	srv.Register(gs)
	healthpb.RegisterHealthServer(gs, health.NewServer())
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return &harness{cc: cc, tokens: tokens, store: store}
}

/************ helpers ************/

func (h *harness) login(t *testing.T) context.Context {
	t.Helper()
	tk, err := h.tokens.Issue(uuid.Must(uuid.NewV4()).String())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tk.AccessToken)
}

func (h *harness) call(ctx context.Context, t *testing.T, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	out := new(structpb.Struct)
	err = h.cc.Invoke(ctx, FullMethod(method), req, out)
	return out, err
}

func (h *harness) mustCall(ctx context.Context, t *testing.T, method string, in map[string]any) map[string]any {
	t.Helper()
	out, err := h.call(ctx, t, method, in)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return out.AsMap()
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if st, ok := status.FromError(err); !ok || st.Code() != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}

/************ tests ************/

func TestServer_RequiresAuth(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t)

	_, err := h.call(context.Background(), t, "ListCategories", nil)
	wantCode(t, err, codes.Unauthenticated)

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer garbage")
	_, err = h.call(bad, t, "YearView", map[string]any{"year": 2025})
	wantCode(t, err, codes.Unauthenticated)

	resp, err := healthpb.NewHealthClient(h.cc).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health: %v %v", resp, err)
	}
}

func TestServer_CategoryEventFlow(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t)
	ctx := h.login(t)

	cat := h.mustCall(ctx, t, "SaveCategory", map[string]any{"name": "Work", "color": "#FF0000"})
	catID, _ := cat["id"].(string)
	if catID == "" {
		t.Fatalf("no category id: %v", cat)
	}

	_, err := h.call(ctx, t, "SaveCategory", map[string]any{"name": "Bad", "color": "red"})
	wantCode(t, err, codes.InvalidArgument)

	ev := h.mustCall(ctx, t, "SaveEvent", map[string]any{
		"title": "Trip", "date": "2025-03-13", "endDate": "2025-03-15", "categoryId": catID,
	})
	evID, _ := ev["id"].(string)
	if evID == "" || ev["endDate"] != "2025-03-15" {
		t.Fatalf("bad event: %v", ev)
	}

	_, err = h.call(ctx, t, "SaveEvent", map[string]any{"title": "x", "date": "2025-02-30", "categoryId": catID})
	wantCode(t, err, codes.InvalidArgument)

	list := h.mustCall(ctx, t, "ListEvents", map[string]any{"year": 2025})
	if evs := list["events"].([]any); len(evs) != 1 {
		t.Fatalf("want 1 event, got %v", evs)
	}
	day := h.mustCall(ctx, t, "ListEvents", map[string]any{"day": "2025-03-14"})
	if evs := day["events"].([]any); len(evs) != 1 {
		t.Fatalf("want event covering the day, got %v", evs)
	}

	// other users see nothing
	other := h.login(t)
	empty := h.mustCall(other, t, "ListEvents", map[string]any{"year": 2025})
	if evs := empty["events"].([]any); len(evs) != 0 {
		t.Fatalf("leaked events: %v", evs)
	}
	_, err = h.call(other, t, "DeleteEvent", map[string]any{"id": evID})
	wantCode(t, err, codes.NotFound)

	del := h.mustCall(ctx, t, "DeleteCategory", map[string]any{"id": catID})
	if del["eventsDeleted"] != 1.0 {
		t.Fatalf("cascade count: %v", del)
	}
	_, err = h.call(ctx, t, "DeleteCategory", map[string]any{})
	wantCode(t, err, codes.InvalidArgument)
}

func TestServer_UpdatesReturnCreatedAt(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t)
	ctx := h.login(t)
	want := now.Format(time.RFC3339Nano)

	cat := h.mustCall(ctx, t, "SaveCategory", map[string]any{"name": "Work", "color": "#FF0000"})
	ev := h.mustCall(ctx, t, "SaveEvent", map[string]any{"title": "Trip", "date": "2025-03-13", "categoryId": cat["id"]})
	up := h.mustCall(ctx, t, "SaveEvent", map[string]any{
		"id": ev["id"], "title": "Trip", "date": "2025-03-14", "categoryId": cat["id"],
	})
	if up["createdAt"] != want || up["date"] != "2025-03-14" {
		t.Fatalf("updated event: %v", up)
	}

	hol := h.mustCall(ctx, t, "SaveHoliday", map[string]any{"date": "2025-12-25", "label": "Christmas"})
	hup := h.mustCall(ctx, t, "SaveHoliday", map[string]any{"id": hol["id"], "date": "2025-12-26", "label": "Boxing"})
	if hup["createdAt"] != want || hup["label"] != "Boxing" {
		t.Fatalf("updated holiday: %v", hup)
	}
}

func TestServer_HolidaysAndYearView(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t)
	ctx := h.login(t)

	h.mustCall(ctx, t, "SaveHoliday", map[string]any{"date": "2025-04-17", "label": "Maundy Thursday"})
	hs := h.mustCall(ctx, t, "ListHolidays", nil)
	if n := len(hs["holidays"].([]any)); n != 1 {
		t.Fatalf("want 1 holiday, got %d", n)
	}
	_, err := h.call(ctx, t, "SaveHoliday", map[string]any{"date": "2025-04-17", "kind": "vacation"})
	wantCode(t, err, codes.InvalidArgument)

	view := h.mustCall(ctx, t, "YearView", map[string]any{"year": 2025})
	if view["today"] != "2025-03-14" {
		t.Fatalf("today: %v", view["today"])
	}
	months := view["months"].([]any)
	if len(months) != 12 {
		t.Fatalf("months: %d", len(months))
	}
	april := months[3].(map[string]any)["days"].([]any)
	thu := april[16].(map[string]any)
	fri := april[17].(map[string]any)
	if thu["category"] != "holiday" || thu["holidayName"] != "Maundy Thursday" {
		t.Fatalf("thursday: %v", thu)
	}
	if fri["category"] != "extendedWeekend" || fri["tag"] != "extendedWeekend" {
		t.Fatalf("friday: %v", fri)
	}
	jan1 := months[0].(map[string]any)["days"].([]any)[0].(map[string]any)
	if jan1["tag"] != "normal-dimmed" {
		t.Fatalf("past day tag: %v", jan1["tag"])
	}

	plain := h.mustCall(ctx, t, "YearView", map[string]any{
		"year": 2025, "options": map[string]any{"showHolidays": false, "showLongWeekends": false},
	})
	thu = plain["months"].([]any)[3].(map[string]any)["days"].([]any)[16].(map[string]any)
	if thu["category"] != "normal" {
		t.Fatalf("holidays disabled: %v", thu)
	}

	_, err = h.call(ctx, t, "YearView", map[string]any{"year": 1.5})
	wantCode(t, err, codes.InvalidArgument)
}

const googleJSON = `{"items": [
  {"id": "g1", "summary": "Conf", "start": {"date": "2025-05-01"}, "end": {"date": "2025-05-03"}},
  {"id": "g2", "start": {"dateTime": "2025-05-10T23:30:00Z"}, "end": {"dateTime": "2025-05-11T00:30:00Z"}}
]}`

func TestServer_ImportAndClear(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t)
	ctx := h.login(t)

	res := h.mustCall(ctx, t, "ImportExternal", map[string]any{"format": "google", "payload": googleJSON})
	if res["categoryCreated"] != true {
		t.Fatalf("first import must create the category: %v", res)
	}
	catID := res["categoryId"].(string)
	if n := len(res["created"].([]any)); n != 2 {
		t.Fatalf("created: %d", n)
	}

	cats := h.mustCall(ctx, t, "ListCategories", nil)["categories"].([]any)
	if len(cats) != 1 || cats[0].(map[string]any)["name"] != registry.DefaultName {
		t.Fatalf("categories: %v", cats)
	}

	again := h.mustCall(ctx, t, "ImportExternal", map[string]any{"format": "google", "payload": googleJSON})
	if again["categoryCreated"] != false || again["categoryId"] != catID {
		t.Fatalf("second import: %v", again)
	}
	if n := len(again["deleted"].([]any)); n != 2 {
		t.Fatalf("deleted: %d", n)
	}

	// broken payload never touches the store
	_, err := h.call(ctx, t, "ImportExternal", map[string]any{"format": "google", "payload": "{not json"})
	wantCode(t, err, codes.Unavailable)
	if n := len(h.mustCall(ctx, t, "ListEvents", map[string]any{"year": 2025})["events"].([]any)); n != 2 {
		t.Fatalf("events after failed fetch: %d", n)
	}

	_, err = h.call(ctx, t, "ImportExternal", map[string]any{"format": "csv", "payload": ""})
	wantCode(t, err, codes.InvalidArgument)

	ics := strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:i1
DTSTAMP:20250101T000000Z
DTSTART;VALUE=DATE:20250601
DTEND;VALUE=DATE:20250602
SUMMARY:Picnic
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")
	fromICS := h.mustCall(ctx, t, "ImportExternal", map[string]any{"format": "ics", "payload": ics, "year": 2025})
	if n := len(fromICS["created"].([]any)); n != 1 {
		t.Fatalf("ics created: %d", n)
	}

	cleared := h.mustCall(ctx, t, "ClearExternal", nil)
	if cleared["categoryId"] != catID || len(cleared["deleted"].([]any)) != 1 {
		t.Fatalf("clear: %v", cleared)
	}
	if n := len(h.mustCall(ctx, t, "ListEvents", map[string]any{"year": 2025})["events"].([]any)); n != 0 {
		t.Fatalf("events after clear: %d", n)
	}
}

func TestServer_ImportBatchTooLarge(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t)
	ctx := h.login(t)

	var b strings.Builder
	b.WriteString(`{"items": [`)
	for i := 0; i < 11; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"id": "x` + string(rune('a'+i)) + `", "start": {"date": "2025-01-01"}}`)
	}
	b.WriteString("]}")

	_, err := h.call(ctx, t, "ImportExternal", map[string]any{"format": "google", "payload": b.String()})
	wantCode(t, err, codes.InvalidArgument)
}
