// Package grpcserver exposes the YearView gRPC API handlers.
//
// Messages are google.protobuf.Struct on both sides, so the service is
// declared by hand instead of generated from a .proto file.
package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/karthikpasupathy/yearview/internal/convert"
	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/external"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/service"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "yearview.v1.YearView"

// Payload formats accepted by ImportExternal.
const (
	FormatGoogle = "google"
	FormatICS    = "ics"
)

// Services bundles the application services behind the API.
type Services struct {
	Categories service.CategoryService
	Events     service.EventService
	Holidays   service.HolidayService
	Sync       service.SyncService
	Calendar   service.CalendarService
}

// Server wires services into gRPC handlers.
type Server struct {
	svc Services
	loc *time.Location
	now func() time.Time
	log *zap.Logger
}

// New constructs a gRPC server with injected services. loc is the zone
// iCalendar timestamps without a TZID are read in.
func New(svc Services, loc *time.Location, log *zap.Logger) *Server {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, loc: loc, now: time.Now, log: log}
}

// Register attaches the server to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&ServiceDesc, s)
}

// YearViewServer is the handler set behind ServiceDesc.
type YearViewServer interface {
	ListCategories(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveCategory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteCategory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListHolidays(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveHoliday(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteHoliday(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ImportExternal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearExternal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	YearView(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ YearViewServer = (*Server)(nil)

type handlerFunc func(YearViewServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, h handlerFunc) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				return h(srv.(YearViewServer), ctx, req.(*structpb.Struct))
			}
			if ic == nil {
				return call(ctx, in)
			}
			return ic(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, call)
		},
	}
}

// ServiceDesc describes the YearView service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*YearViewServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListCategories", YearViewServer.ListCategories),
		unary("SaveCategory", YearViewServer.SaveCategory),
		unary("DeleteCategory", YearViewServer.DeleteCategory),
		unary("ListEvents", YearViewServer.ListEvents),
		unary("SaveEvent", YearViewServer.SaveEvent),
		unary("DeleteEvent", YearViewServer.DeleteEvent),
		unary("ListHolidays", YearViewServer.ListHolidays),
		unary("SaveHoliday", YearViewServer.SaveHoliday),
		unary("DeleteHoliday", YearViewServer.DeleteHoliday),
		unary("ImportExternal", YearViewServer.ImportExternal),
		unary("ClearExternal", YearViewServer.ClearExternal),
		unary("YearView", YearViewServer.YearView),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "yearview/v1/yearview.proto",
}

// FullMethod returns the invoke path of a YearView method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, errs.ErrPartialReconciliation):
		return status.Errorf(codes.Aborted, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotAuthenticated):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrInvalidFormat):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrFetchFailed):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Errorf(codes.AlreadyExists, "%s: %v", op, err)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Errorf(codes.Internal, "%s: internal", op)
}

func (s *Server) user(ctx context.Context) (string, error) {
	id, ok := UserIDFromCtx(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

func requireID(req *structpb.Struct) (string, error) {
	id, err := convert.String(req, "id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "empty id")
	}
	return id, nil
}

// --- Categories ---

// ListCategories returns the caller's categories in creation order.
func (s *Server) ListCategories(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := s.svc.Categories.List(ctx, userID)
	if err != nil {
		return nil, toStatus("list categories", err)
	}
	return convert.ToStructCategories(cs), nil
}

// SaveCategory creates a category when id is empty and updates it otherwise.
func (s *Server) SaveCategory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	c, err := convert.FromStructCategory(req)
	if err != nil {
		return nil, toStatus("save category", err)
	}
	var out model.Category
	if c.ID == "" {
		out, err = s.svc.Categories.Create(ctx, userID, c.Name, c.Color)
	} else {
		out, err = s.svc.Categories.Update(ctx, userID, c.ID, c.Name, c.Color)
	}
	if err != nil {
		return nil, toStatus("save category", err)
	}
	return convert.ToStructCategory(out), nil
}

// DeleteCategory removes a category together with its events.
func (s *Server) DeleteCategory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireID(req)
	if err != nil {
		return nil, toStatus("delete category", err)
	}
	n, err := s.svc.Categories.Delete(ctx, userID, id)
	if err != nil {
		return nil, toStatus("delete category", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"eventsDeleted": structpb.NewNumberValue(float64(n)),
	}}, nil
}

// --- Events ---

// ListEvents returns events of a year, or of a single day when "day" is set.
func (s *Server) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	day, err := convert.String(req, "day")
	if err != nil {
		return nil, toStatus("list events", err)
	}
	var evs []model.Event
	if day != "" {
		evs, err = s.svc.Events.OnDay(ctx, userID, day)
	} else {
		var year int
		if year, err = s.yearOf(req); err == nil {
			evs, err = s.svc.Events.ListYear(ctx, userID, year)
		}
	}
	if err != nil {
		return nil, toStatus("list events", err)
	}
	return convert.ToStructEvents(evs), nil
}

// SaveEvent creates an event when id is empty and updates it otherwise.
func (s *Server) SaveEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	e, err := convert.FromStructEvent(req)
	if err != nil {
		return nil, toStatus("save event", err)
	}
	out, err := s.svc.Events.Save(ctx, userID, e)
	if err != nil {
		return nil, toStatus("save event", err)
	}
	return convert.ToStructEvent(out), nil
}

// DeleteEvent removes one event.
func (s *Server) DeleteEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireID(req)
	if err != nil {
		return nil, toStatus("delete event", err)
	}
	if err := s.svc.Events.Delete(ctx, userID, id); err != nil {
		return nil, toStatus("delete event", err)
	}
	return &structpb.Struct{}, nil
}

// --- Holidays ---

// ListHolidays returns custom holidays in creation order.
func (s *Server) ListHolidays(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	hs, err := s.svc.Holidays.List(ctx, userID)
	if err != nil {
		return nil, toStatus("list holidays", err)
	}
	return convert.ToStructHolidays(hs), nil
}

// SaveHoliday creates or updates a custom holiday or bridge day.
func (s *Server) SaveHoliday(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	h, err := convert.FromStructHoliday(req)
	if err != nil {
		return nil, toStatus("save holiday", err)
	}
	out, err := s.svc.Holidays.Save(ctx, userID, h)
	if err != nil {
		return nil, toStatus("save holiday", err)
	}
	return convert.ToStructHoliday(out), nil
}

// DeleteHoliday removes one custom holiday.
func (s *Server) DeleteHoliday(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireID(req)
	if err != nil {
		return nil, toStatus("delete holiday", err)
	}
	if err := s.svc.Holidays.Delete(ctx, userID, id); err != nil {
		return nil, toStatus("delete holiday", err)
	}
	return &structpb.Struct{}, nil
}

// --- Sync ---

// ImportExternal decodes an external calendar payload and mirrors it into
// the import category. A payload that fails to decode never reaches the
// store.
func (s *Server) ImportExternal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	format, err := convert.String(req, "format")
	if err != nil {
		return nil, toStatus("import", err)
	}
	payload, err := convert.String(req, "payload")
	if err != nil {
		return nil, toStatus("import", err)
	}

	var batch []model.ExternalEvent
	switch strings.ToLower(format) {
	case FormatGoogle, "":
		batch, err = external.DecodeGoogleEvents(strings.NewReader(payload))
	case FormatICS:
		var year int
		if year, err = s.yearOf(req); err == nil {
			batch, err = external.DecodeICS(strings.NewReader(payload), external.ICSOptions{Year: year, Location: s.loc})
		}
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown format %q", format)
	}
	if err != nil {
		s.log.Warn("import payload rejected", zap.String("user_id", userID), zap.String("format", format), zap.Error(err))
		return nil, toStatus("import", err)
	}

	res, err := s.svc.Sync.ImportExternal(ctx, userID, batch)
	if err != nil {
		return nil, toStatus("import", err)
	}
	return convert.ToStructSyncResult(res), nil
}

// ClearExternal deletes every imported event.
func (s *Server) ClearExternal(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Sync.ClearExternal(ctx, userID)
	if err != nil {
		return nil, toStatus("clear import", err)
	}
	return convert.ToStructSyncResult(res), nil
}

// --- Year view ---

// YearView classifies every day of the requested year.
func (s *Server) YearView(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	year, err := s.yearOf(req)
	if err != nil {
		return nil, toStatus("year view", err)
	}
	visible, err := convert.Strings(req, "visible")
	if err != nil {
		return nil, toStatus("year view", err)
	}
	vr := service.YearViewRequest{Year: year, Visible: visible}

	raw, err := convert.Object(req, "options")
	if err != nil {
		return nil, toStatus("year view", err)
	}
	if raw != nil {
		opts, err := convert.FromStructOptions(raw)
		if err != nil {
			return nil, toStatus("year view", err)
		}
		vr.Options = &opts
	}

	v, err := s.svc.Calendar.YearView(ctx, userID, vr)
	if err != nil {
		return nil, toStatus("year view", err)
	}
	return convert.ToStructYearView(v), nil
}

// yearOf reads "year", defaulting to the current year in the server zone.
func (s *Server) yearOf(req *structpb.Struct) (int, error) {
	y, err := convert.Int(req, "year")
	if err != nil {
		return 0, err
	}
	if y == 0 {
		y = s.now().In(s.loc).Year()
	}
	return y, nil
}
