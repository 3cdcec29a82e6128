package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/karthikpasupathy/yearview/internal/dates"
	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/repository"
)

// EventService manages manually created events.
type EventService interface {
	// ListYear returns events overlapping the given year.
	ListYear(ctx context.Context, userID string, year int) ([]model.Event, error)
	// OnDay returns events covering the given date key.
	OnDay(ctx context.Context, userID, day string) ([]model.Event, error)
	// Save creates e when e.ID is empty and updates it otherwise.
	Save(ctx context.Context, userID string, e model.Event) (model.Event, error)
	// Delete removes one event.
	Delete(ctx context.Context, userID, id string) error
}

type EventServiceImpl struct {
	base
	events     repository.EventRepository
	categories repository.CategoryRepository
}

// NewEventService constructs EventService.
func NewEventService(events repository.EventRepository, categories repository.CategoryRepository, opts ...Option) *EventServiceImpl {
	return &EventServiceImpl{base: newBase(opts), events: events, categories: categories}
}

// YearRange returns the first and last date keys of year.
func YearRange(year int) (from, to string, err error) {
	if year < 1 || year > 9999 {
		return "", "", fmt.Errorf("%w: year %d", errs.ErrValidation, year)
	}
	return dates.New(year, time.January, 1).Key(), dates.New(year, time.December, 31).Key(), nil
}

// ListYear implements EventService.
func (s *EventServiceImpl) ListYear(ctx context.Context, userID string, year int) ([]model.Event, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	from, to, err := YearRange(year)
	if err != nil {
		return nil, err
	}
	return s.events.ListEvents(ctx, userID, from, to)
}

// OnDay implements EventService.
func (s *EventServiceImpl) OnDay(ctx context.Context, userID, day string) ([]model.Event, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	d, err := dates.ParseDateKey(day)
	if err != nil {
		return nil, err
	}
	return s.events.ListEvents(ctx, userID, d.Key(), d.Key())
}

// Covers reports whether e spans the date key day.
func Covers(e model.Event, day string) bool {
	if e.EndDate == "" {
		return e.Date == day
	}
	return e.Date <= day && day <= e.EndDate
}

// Save implements EventService.
func (s *EventServiceImpl) Save(ctx context.Context, userID string, e model.Event) (model.Event, error) {
	if err := requireUser(userID); err != nil {
		return model.Event{}, err
	}
	if err := s.validate(ctx, userID, &e); err != nil {
		return model.Event{}, err
	}

	now := s.now()
	e.UserID, e.UpdatedAt = userID, now
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV4()).String()
		e.CreatedAt = now
		if err := s.events.CreateEvent(ctx, e); err != nil {
			return model.Event{}, fmt.Errorf("create event: %w", err)
		}
		s.log.Info("event created", zap.String("user_id", userID), zap.String("event_id", e.ID))
		return e, nil
	}
	stored, err := s.events.UpdateEvent(ctx, e)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Event{}, err
		}
		return model.Event{}, fmt.Errorf("update event: %w", err)
	}
	s.log.Info("event updated", zap.String("user_id", userID), zap.String("event_id", e.ID))
	return stored, nil
}

// Delete implements EventService.
func (s *EventServiceImpl) Delete(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := s.events.DeleteEvent(ctx, userID, id); err != nil {
		return err
	}
	s.log.Info("event deleted", zap.String("user_id", userID), zap.String("event_id", id))
	return nil
}

func (s *EventServiceImpl) validate(ctx context.Context, userID string, e *model.Event) error {
	title, err := validateName("title", e.Title)
	if err != nil {
		return err
	}
	e.Title = title

	start, err := dates.ParseDateKey(e.Date)
	if err != nil {
		return err
	}
	if e.EndDate != "" {
		end, err := dates.ParseDateKey(e.EndDate)
		if err != nil {
			return err
		}
		if end.Before(start) {
			return fmt.Errorf("%w: end date %s before %s", errs.ErrValidation, e.EndDate, e.Date)
		}
		if end == start {
			e.EndDate = ""
		}
	}

	if e.CategoryID == "" {
		return fmt.Errorf("%w: empty category", errs.ErrValidation)
	}
	if _, err := s.categories.GetCategory(ctx, userID, e.CategoryID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("%w: unknown category %s", errs.ErrValidation, e.CategoryID)
		}
		return err
	}
	return nil
}
