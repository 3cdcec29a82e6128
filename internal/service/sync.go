package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/metrics"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/reconcile"
	"github.com/karthikpasupathy/yearview/internal/registry"
	"github.com/karthikpasupathy/yearview/internal/repository"
)

// SyncResult reports what one import or clear did.
type SyncResult struct {
	CategoryID string
	// CategoryCreated is set when the import category did not exist yet.
	// A freshly created category starts hidden.
	CategoryCreated bool
	Deleted         []string
	Created         []model.Event
}

// SyncService mirrors an external calendar into the import category.
type SyncService interface {
	// ImportExternal replaces the import category's events with external,
	// creating the category on first use. external must come from a
	// successful fetch; an empty slice clears the category.
	ImportExternal(ctx context.Context, userID string, external []model.ExternalEvent) (SyncResult, error)
	// Reconcile replaces the events of categoryID with external.
	Reconcile(ctx context.Context, userID, categoryID string, external []model.ExternalEvent) (SyncResult, error)
	// ClearExternal removes every imported event. The category itself stays.
	ClearExternal(ctx context.Context, userID string) (SyncResult, error)
}

type SyncServiceImpl struct {
	base
	categories repository.CategoryRepository
	events     repository.EventRepository
	reserved   registry.Reserved
	loc        *time.Location
	maxBatch   int
	metrics    *metrics.Metrics
	locks      *keyedMutex
}

// SyncOption customises SyncServiceImpl.
type SyncOption func(*SyncServiceImpl)

// WithLocation sets the zone timed external events are truncated in.
func WithLocation(loc *time.Location) SyncOption {
	return func(s *SyncServiceImpl) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMaxBatch caps the external batch size.
func WithMaxBatch(n int) SyncOption {
	return func(s *SyncServiceImpl) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithMetrics records reconciliation metrics.
func WithMetrics(m *metrics.Metrics) SyncOption {
	return func(s *SyncServiceImpl) { s.metrics = m }
}

// NewSyncService constructs SyncService.
func NewSyncService(
	categories repository.CategoryRepository,
	events repository.EventRepository,
	reserved registry.Reserved,
	opts []Option,
	syncOpts ...SyncOption,
) *SyncServiceImpl {
	s := &SyncServiceImpl{
		base:       newBase(opts),
		categories: categories,
		events:     events,
		reserved:   reserved,
		loc:        time.UTC,
		maxBatch:   5000,
		locks:      newKeyedMutex(),
	}
	for _, o := range syncOpts {
		o(s)
	}
	return s
}

// ImportExternal implements SyncService.
func (s *SyncServiceImpl) ImportExternal(ctx context.Context, userID string, external []model.ExternalEvent) (SyncResult, error) {
	if err := requireUser(userID); err != nil {
		return SyncResult{}, err
	}
	if len(external) > s.maxBatch {
		return SyncResult{}, fmt.Errorf("%w: batch too large (%d > %d)", errs.ErrValidation, len(external), s.maxBatch)
	}

	catID, created, err := s.ensureReserved(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}
	res, err := s.Reconcile(ctx, userID, catID, external)
	res.CategoryID, res.CategoryCreated = catID, created
	return res, err
}

// ensureReserved serialises lookup-then-create per user so concurrent first
// imports cannot create two import categories.
func (s *SyncServiceImpl) ensureReserved(ctx context.Context, userID string) (string, bool, error) {
	unlock := s.locks.Lock(lockKey("reserved", userID))
	defer unlock()

	cats, err := s.categories.ListCategories(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("list categories: %w", err)
	}
	id, created, err := s.reserved.Ensure(ctx, cats, userID, s.now(), s.categories.CreateCategory)
	if err != nil {
		return "", false, err
	}
	if created {
		s.log.Info("import category created", zap.String("user_id", userID), zap.String("category_id", id))
	}
	return id, created, nil
}

// Reconcile implements SyncService.
func (s *SyncServiceImpl) Reconcile(ctx context.Context, userID, categoryID string, external []model.ExternalEvent) (SyncResult, error) {
	if err := requireUser(userID); err != nil {
		return SyncResult{}, err
	}
	if _, err := s.categories.GetCategory(ctx, userID, categoryID); err != nil {
		return SyncResult{}, err
	}

	unlock := s.locks.Lock(lockKey("category", userID, categoryID))
	defer unlock()

	start := s.now()
	current, err := s.events.ListAllEvents(ctx, userID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list events: %w", err)
	}
	plan, err := reconcile.Reconcile(external, categoryID, current, reconcile.Params{
		UserID: userID, Now: start, Location: s.loc,
	})
	if err != nil {
		s.metrics.ObserveReconcile(metrics.ResultFailed, 0, 0, 0)
		return SyncResult{}, err
	}

	applied, err := s.events.ReplaceCategoryEvents(ctx, userID, categoryID, plan.Created)
	took := s.now().Sub(start)
	if err != nil {
		var perr *errs.PartialReconciliationError
		if errors.As(err, &perr) {
			s.metrics.ObserveReconcile(metrics.ResultPartial, perr.Deleted, perr.Created, took)
		} else {
			s.metrics.ObserveReconcile(metrics.ResultFailed, 0, 0, took)
		}
		s.log.Warn("reconcile failed",
			zap.String("user_id", userID), zap.String("category_id", categoryID), zap.Error(err))
		return SyncResult{CategoryID: categoryID}, err
	}

	s.metrics.ObserveReconcile(metrics.ResultOK, len(applied.Deleted), len(applied.Created), took)
	s.log.Info("reconciled",
		zap.String("user_id", userID),
		zap.String("category_id", categoryID),
		zap.Int("deleted", len(applied.Deleted)),
		zap.Int("created", len(applied.Created)),
		zap.Duration("duration", took),
	)
	return SyncResult{CategoryID: categoryID, Deleted: applied.Deleted, Created: applied.Created}, nil
}

// ClearExternal implements SyncService.
func (s *SyncServiceImpl) ClearExternal(ctx context.Context, userID string) (SyncResult, error) {
	if err := requireUser(userID); err != nil {
		return SyncResult{}, err
	}
	cats, err := s.categories.ListCategories(ctx, userID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list categories: %w", err)
	}
	c, ok := s.reserved.Find(cats, userID)
	if !ok {
		return SyncResult{Deleted: []string{}, Created: []model.Event{}}, nil
	}
	return s.Reconcile(ctx, userID, c.ID, nil)
}
