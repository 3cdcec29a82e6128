// Package memory is an in-process implementation of repository.Store used
// when no database DSN is configured, and by service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type entry[T any] struct {
	seq uint64
	v   T
}

// Store keeps everything in maps guarded by one RWMutex. Values are copied
// in and out so callers never share memory with the store.
type Store struct {
	mu         sync.RWMutex
	seq        uint64
	categories map[string]entry[model.Category]
	events     map[string]entry[model.Event]
	holidays   map[string]entry[model.CustomHoliday]
}

// New returns an empty store.
func New() *Store {
	return &Store{
		categories: map[string]entry[model.Category]{},
		events:     map[string]entry[model.Event]{},
		holidays:   map[string]entry[model.CustomHoliday]{},
	}
}

func (s *Store) next() uint64 {
	s.seq++
	return s.seq
}

func sorted[T any](m map[string]entry[T], keep func(T) bool) []T {
	es := make([]entry[T], 0, len(m))
	for _, e := range m {
		if keep(e.v) {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]T, len(es))
	for i, e := range es {
		out[i] = e.v
	}
	return out
}

// CreateCategory implements repository.CategoryRepository.
func (s *Store) CreateCategory(_ context.Context, c model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[c.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.categories[c.ID] = entry[model.Category]{seq: s.next(), v: c}
	return nil
}

// UpdateCategory implements repository.CategoryRepository.
func (s *Store) UpdateCategory(_ context.Context, c model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.categories[c.ID]
	if !ok || cur.v.UserID != c.UserID {
		return errs.ErrNotFound
	}
	cur.v.Name, cur.v.Color = c.Name, c.Color
	s.categories[c.ID] = cur
	return nil
}

// DeleteCategory implements repository.CategoryRepository.
func (s *Store) DeleteCategory(_ context.Context, userID, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.categories[id]
	if !ok || cur.v.UserID != userID {
		return 0, errs.ErrNotFound
	}
	n := 0
	for eid, e := range s.events {
		if e.v.UserID == userID && e.v.CategoryID == id {
			delete(s.events, eid)
			n++
		}
	}
	delete(s.categories, id)
	return n, nil
}

// GetCategory implements repository.CategoryRepository.
func (s *Store) GetCategory(_ context.Context, userID, id string) (model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.categories[id]
	if !ok || cur.v.UserID != userID {
		return model.Category{}, errs.ErrNotFound
	}
	return cur.v, nil
}

// ListCategories implements repository.CategoryRepository.
func (s *Store) ListCategories(_ context.Context, userID string) ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.categories, func(c model.Category) bool { return c.UserID == userID }), nil
}

// CreateEvent implements repository.EventRepository.
func (s *Store) CreateEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.events[e.ID] = entry[model.Event]{seq: s.next(), v: e}
	return nil
}

// UpdateEvent implements repository.EventRepository.
func (s *Store) UpdateEvent(_ context.Context, e model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[e.ID]
	if !ok || cur.v.UserID != e.UserID {
		return model.Event{}, errs.ErrNotFound
	}
	e.CreatedAt = cur.v.CreatedAt
	cur.v = e
	s.events[e.ID] = cur
	return e, nil
}

// DeleteEvent implements repository.EventRepository.
func (s *Store) DeleteEvent(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[id]
	if !ok || cur.v.UserID != userID {
		return errs.ErrNotFound
	}
	delete(s.events, id)
	return nil
}

// ListEvents implements repository.EventRepository.
func (s *Store) ListEvents(_ context.Context, userID, from, to string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := sorted(s.events, func(e model.Event) bool {
		return e.UserID == userID && e.Date <= to && max(e.Date, e.EndDate) >= from
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListAllEvents implements repository.EventRepository.
func (s *Store) ListAllEvents(_ context.Context, userID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.events, func(e model.Event) bool { return e.UserID == userID }), nil
}

// ReplaceCategoryEvents implements repository.EventRepository. The category
// and the delete set are read under the write lock, and the batch is checked
// before anything changes, so it either applies fully or not at all.
func (s *Store) ReplaceCategoryEvents(_ context.Context, userID, categoryID string, create []model.Event) (model.ReplaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.categories[categoryID]; !ok || cur.v.UserID != userID {
		return model.ReplaceResult{}, fmt.Errorf("category %q: %w", categoryID, errs.ErrNotFound)
	}

	old := sorted(s.events, func(e model.Event) bool {
		return e.UserID == userID && e.CategoryID == categoryID
	})
	gone := make(map[string]bool, len(old))
	for _, e := range old {
		gone[e.ID] = true
	}
	fresh := make(map[string]bool, len(create))
	for _, e := range create {
		if _, ok := s.events[e.ID]; (ok && !gone[e.ID]) || fresh[e.ID] {
			return model.ReplaceResult{}, &errs.PartialReconciliationError{
				CategoryID: categoryID,
				WantDelete: len(old),
				WantCreate: len(create),
				RolledBack: true,
				Err:        fmt.Errorf("event %q: %w", e.ID, errs.ErrAlreadyExists),
			}
		}
		fresh[e.ID] = true
	}

	res := model.ReplaceResult{Deleted: make([]string, 0, len(old)), Created: make([]model.Event, 0, len(create))}
	for _, e := range old {
		delete(s.events, e.ID)
		res.Deleted = append(res.Deleted, e.ID)
	}
	for _, e := range create {
		s.events[e.ID] = entry[model.Event]{seq: s.next(), v: e}
		res.Created = append(res.Created, e)
	}
	return res, nil
}

// CreateHoliday implements repository.HolidayRepository.
func (s *Store) CreateHoliday(_ context.Context, h model.CustomHoliday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holidays[h.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.holidays[h.ID] = entry[model.CustomHoliday]{seq: s.next(), v: h}
	return nil
}

// UpdateHoliday implements repository.HolidayRepository.
func (s *Store) UpdateHoliday(_ context.Context, h model.CustomHoliday) (model.CustomHoliday, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.holidays[h.ID]
	if !ok || cur.v.UserID != h.UserID {
		return model.CustomHoliday{}, errs.ErrNotFound
	}
	h.CreatedAt = cur.v.CreatedAt
	cur.v = h
	s.holidays[h.ID] = cur
	return h, nil
}

// DeleteHoliday implements repository.HolidayRepository.
func (s *Store) DeleteHoliday(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.holidays[id]
	if !ok || cur.v.UserID != userID {
		return errs.ErrNotFound
	}
	delete(s.holidays, id)
	return nil
}

// ListHolidays implements repository.HolidayRepository.
func (s *Store) ListHolidays(_ context.Context, userID string) ([]model.CustomHoliday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.holidays, func(h model.CustomHoliday) bool { return h.UserID == userID }), nil
}
