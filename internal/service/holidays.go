package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/karthikpasupathy/yearview/internal/dates"
	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/repository"
)

// HolidayService manages custom holidays and declared bridge days.
type HolidayService interface {
	// List returns entries in creation order, which decides label ties.
	List(ctx context.Context, userID string) ([]model.CustomHoliday, error)
	// Save creates h when h.ID is empty and updates it otherwise.
	Save(ctx context.Context, userID string, h model.CustomHoliday) (model.CustomHoliday, error)
	// Delete removes one entry.
	Delete(ctx context.Context, userID, id string) error
}

type HolidayServiceImpl struct {
	base
	repo repository.HolidayRepository
}

// NewHolidayService constructs HolidayService.
func NewHolidayService(repo repository.HolidayRepository, opts ...Option) *HolidayServiceImpl {
	return &HolidayServiceImpl{base: newBase(opts), repo: repo}
}

// List implements HolidayService.
func (s *HolidayServiceImpl) List(ctx context.Context, userID string) ([]model.CustomHoliday, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.repo.ListHolidays(ctx, userID)
}

// Save implements HolidayService.
func (s *HolidayServiceImpl) Save(ctx context.Context, userID string, h model.CustomHoliday) (model.CustomHoliday, error) {
	if err := requireUser(userID); err != nil {
		return model.CustomHoliday{}, err
	}
	d, err := dates.ParseDateKey(h.Date)
	if err != nil {
		return model.CustomHoliday{}, err
	}
	h.Date = d.Key()
	h.Label = strings.TrimSpace(h.Label)
	switch h.Kind {
	case "":
		h.Kind = model.HolidayKindHoliday
	case model.HolidayKindHoliday, model.HolidayKindBridge:
	default:
		return model.CustomHoliday{}, fmt.Errorf("%w: holiday kind %q", errs.ErrValidation, h.Kind)
	}
	h.UserID = userID

	if h.ID == "" {
		h.ID = uuid.Must(uuid.NewV4()).String()
		h.CreatedAt = s.now()
		if err := s.repo.CreateHoliday(ctx, h); err != nil {
			return model.CustomHoliday{}, fmt.Errorf("create holiday: %w", err)
		}
		s.log.Info("holiday created", zap.String("user_id", userID), zap.String("holiday_id", h.ID))
		return h, nil
	}
	stored, err := s.repo.UpdateHoliday(ctx, h)
	if err != nil {
		return model.CustomHoliday{}, err
	}
	s.log.Info("holiday updated", zap.String("user_id", userID), zap.String("holiday_id", h.ID))
	return stored, nil
}

// Delete implements HolidayService.
func (s *HolidayServiceImpl) Delete(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := s.repo.DeleteHoliday(ctx, userID, id); err != nil {
		return err
	}
	s.log.Info("holiday deleted", zap.String("user_id", userID), zap.String("holiday_id", id))
	return nil
}
