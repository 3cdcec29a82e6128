package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/metrics"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/registry"
	"github.com/karthikpasupathy/yearview/internal/repository"
	"github.com/karthikpasupathy/yearview/internal/repository/memory"
)

// failingEvents wraps a store and fails ReplaceCategoryEvents.
type failingEvents struct {
	*memory.Store
	replaceErr error
	calls      int
}

var _ repository.EventRepository = (*failingEvents)(nil)

func (f *failingEvents) ReplaceCategoryEvents(ctx context.Context, userID, categoryID string, create []model.Event) (model.ReplaceResult, error) {
	f.calls++
	if f.replaceErr != nil {
		return model.ReplaceResult{}, f.replaceErr
	}
	return f.Store.ReplaceCategoryEvents(ctx, userID, categoryID, create)
}

// interleavedStore runs a hook once right after GetCategory or ListAllEvents
// returns, standing in for a request that lands between those reads and the
// replacement.
type interleavedStore struct {
	*memory.Store
	afterGet  func()
	afterList func()
}

var (
	_ repository.CategoryRepository = (*interleavedStore)(nil)
	_ repository.EventRepository    = (*interleavedStore)(nil)
)

func (s *interleavedStore) GetCategory(ctx context.Context, userID, id string) (model.Category, error) {
	c, err := s.Store.GetCategory(ctx, userID, id)
	if s.afterGet != nil {
		hook := s.afterGet
		s.afterGet = nil
		hook()
	}
	return c, err
}

func (s *interleavedStore) ListAllEvents(ctx context.Context, userID string) ([]model.Event, error) {
	evs, err := s.Store.ListAllEvents(ctx, userID)
	if s.afterList != nil {
		hook := s.afterList
		s.afterList = nil
		hook()
	}
	return evs, err
}

func allDay(id, summary, start, end string) model.ExternalEvent {
	return model.ExternalEvent{
		ID: id, Summary: summary,
		Start: model.ExternalTime{Date: start},
		End:   model.ExternalTime{Date: end},
	}
}

func newSyncSvc(t *testing.T, events repository.EventRepository, store *memory.Store, syncOpts ...SyncOption) *SyncServiceImpl {
	t.Helper()
	return NewSyncService(store, events, registry.Default(),
		[]Option{WithLogger(zaptest.NewLogger(t)), WithClock(fixedClock(t0))}, syncOpts...)
}

func TestSyncService_ImportCreatesReservedCategory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSyncSvc(t, store, store)

	res, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{
		allDay("g1", "Conference", "2025-04-10", "2025-04-12"),
		{ID: "g2", Start: model.ExternalTime{Date: "2025-04-20"}},
	})
	require.NoError(t, err)
	require.True(t, res.CategoryCreated)
	require.NotEmpty(t, res.CategoryID)
	require.Empty(t, res.Deleted)
	require.Len(t, res.Created, 2)

	cats, err := store.ListCategories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	require.Equal(t, registry.DefaultName, cats[0].Name)
	require.Equal(t, registry.DefaultColor, cats[0].Color)

	evs, err := store.ListAllEvents(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "g1", evs[0].ID)
	require.Equal(t, "2025-04-10", evs[0].Date)
	require.Equal(t, "2025-04-12", evs[0].EndDate)
	require.Equal(t, "(No title)", evs[1].Title)
	for _, e := range evs {
		require.Equal(t, res.CategoryID, e.CategoryID)
	}
}

func TestSyncService_ImportReplacesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSyncSvc(t, store, store)

	manual := model.Category{ID: "manual", Name: "Work", Color: "#FF0000", UserID: "u1", CreatedAt: t0}
	require.NoError(t, store.CreateCategory(ctx, manual))
	require.NoError(t, store.CreateEvent(ctx, model.Event{ID: "m1", Title: "mine", Date: "2025-01-01", CategoryID: "manual", UserID: "u1"}))

	first, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{
		allDay("g1", "A", "2025-02-01", "2025-02-01"),
		allDay("g2", "B", "2025-02-02", "2025-02-02"),
	})
	require.NoError(t, err)

	batch := []model.ExternalEvent{allDay("g2", "B2", "2025-02-03", "2025-02-03"), allDay("g3", "C", "2025-03-01", "2025-03-01")}
	second, err := s.ImportExternal(ctx, "u1", batch)
	require.NoError(t, err)
	require.False(t, second.CategoryCreated)
	require.Equal(t, first.CategoryID, second.CategoryID)
	require.ElementsMatch(t, []string{"g1", "g2"}, second.Deleted)
	require.Len(t, second.Created, 2)

	third, err := s.ImportExternal(ctx, "u1", batch)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"g2", "g3"}, third.Deleted)

	evs, err := store.ListAllEvents(ctx, "u1")
	require.NoError(t, err)
	byID := map[string]model.Event{}
	for _, e := range evs {
		byID[e.ID] = e
	}
	require.Len(t, byID, 3)
	require.Equal(t, "mine", byID["m1"].Title)
	require.Equal(t, "B2", byID["g2"].Title)
	require.Equal(t, "2025-02-03", byID["g2"].Date)
	require.Contains(t, byID, "g3")
}

func TestSyncService_EmptyBatchClears(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSyncSvc(t, store, store)

	_, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{allDay("g1", "A", "2025-02-01", "")})
	require.NoError(t, err)

	res, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{})
	require.NoError(t, err)
	require.Equal(t, []string{"g1"}, res.Deleted)
	require.Empty(t, res.Created)

	evs, err := store.ListAllEvents(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestSyncService_RejectedBatchLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := metrics.New()
	s := newSyncSvc(t, store, store, WithMaxBatch(2), WithMetrics(m))

	_, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{allDay("g1", "A", "2025-02-01", "")})
	require.NoError(t, err)

	cases := []struct {
		name  string
		batch []model.ExternalEvent
		want  error
	}{
		{"too large", []model.ExternalEvent{allDay("a", "", "2025-01-01", ""), allDay("b", "", "2025-01-01", ""), allDay("c", "", "2025-01-01", "")}, errs.ErrValidation},
		{"duplicate id", []model.ExternalEvent{allDay("a", "", "2025-01-01", ""), allDay("a", "", "2025-01-02", "")}, errs.ErrValidation},
		{"bad date", []model.ExternalEvent{allDay("a", "", "2025/01/01", "")}, errs.ErrInvalidFormat},
		{"ends before start", []model.ExternalEvent{allDay("a", "", "2025-01-05", "2025-01-01")}, errs.ErrInvalidFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ImportExternal(ctx, "u1", tc.batch)
			require.ErrorIs(t, err, tc.want)

			evs, err := store.ListAllEvents(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, evs, 1)
			require.Equal(t, "g1", evs[0].ID)
		})
	}
	n, err := testutil.GatherAndCount(m.Registry(), "yearview_reconciliations_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 3.0, reconciliations(t, m, metrics.ResultFailed))
}

func TestSyncService_IDClashWithManualEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSyncSvc(t, store, store)

	require.NoError(t, store.CreateCategory(ctx, model.Category{ID: "manual", Name: "Work", Color: "#FF0000", UserID: "u1"}))
	require.NoError(t, store.CreateEvent(ctx, model.Event{ID: "g1", Title: "mine", Date: "2025-01-01", CategoryID: "manual", UserID: "u1"}))

	_, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{allDay("g1", "A", "2025-02-01", "")})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	e, err := store.ListEvents(ctx, "u1", "2025-01-01", "2025-01-01")
	require.NoError(t, err)
	require.Len(t, e, 1)
	require.Equal(t, "mine", e[0].Title)
}

func TestSyncService_PartialFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	perr := &errs.PartialReconciliationError{Deleted: 1, WantDelete: 2, WantCreate: 1, RolledBack: true, Err: errors.New("disk full")}
	events := &failingEvents{Store: store, replaceErr: perr}
	m := metrics.New()
	s := newSyncSvc(t, events, store, WithMetrics(m))

	res, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{allDay("g1", "A", "2025-02-01", "")})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrPartialReconciliation)
	require.NotEmpty(t, res.CategoryID)
	require.Equal(t, 1, events.calls)

	var got *errs.PartialReconciliationError
	require.True(t, errors.As(err, &got))
	require.True(t, got.RolledBack)

	require.Equal(t, 1.0, reconciliations(t, m, metrics.ResultPartial))
}

func reconciliations(t *testing.T, m *metrics.Metrics, result string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "yearview_reconciliations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSyncService_ClearExternal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSyncSvc(t, store, store)

	res, err := s.ClearExternal(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, res.CategoryID, "nothing imported yet")
	require.Empty(t, res.Deleted)

	imp, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{
		allDay("g1", "A", "2025-02-01", ""),
		allDay("g2", "B", "2025-02-02", ""),
	})
	require.NoError(t, err)

	res, err = s.ClearExternal(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, imp.CategoryID, res.CategoryID)
	require.ElementsMatch(t, []string{"g1", "g2"}, res.Deleted)

	_, err = store.GetCategory(ctx, "u1", imp.CategoryID)
	require.NoError(t, err, "the category itself survives")

	_, err = s.ClearExternal(ctx, "")
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
}

func TestSyncService_ReconcileUnknownCategory(t *testing.T) {
	store := memory.New()
	s := newSyncSvc(t, store, store)
	_, err := s.Reconcile(context.Background(), "u1", "nope", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSyncService_ConcurrentFirstImports(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSyncSvc(t, store, store)

	var wg sync.WaitGroup
	errc := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ImportExternal(ctx, "u1", []model.ExternalEvent{allDay("g1", "A", "2025-02-01", "")})
			errc <- err
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	cats, err := store.ListCategories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	evs, err := store.ListAllEvents(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestSyncService_ReconcileCategoryDeletedConcurrently(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateCategory(ctx, model.Category{ID: "catG", Name: "Trips", Color: "#00FF00", UserID: "u1", CreatedAt: t0}))

	cats := NewCategoryService(store, registry.Default(), WithLogger(zaptest.NewLogger(t)))
	is := &interleavedStore{Store: store}
	is.afterGet = func() {
		_, err := cats.Delete(ctx, "u1", "catG")
		require.NoError(t, err)
	}
	s := newSyncSvc(t, is, is.Store)
	s.categories = is

	_, err := s.Reconcile(ctx, "u1", "catG", []model.ExternalEvent{allDay("g1", "Trip", "2024-07-04", "2024-07-06")})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NotErrorIs(t, err, errs.ErrPartialReconciliation)

	left, err := store.ListCategories(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, left)
	evs, err := store.ListAllEvents(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, evs, "no event may point at a deleted category")
}

func TestSyncService_ReconcileDropsEventsWrittenAfterRead(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateCategory(ctx, model.Category{ID: "catG", Name: "Trips", Color: "#00FF00", UserID: "u1", CreatedAt: t0}))
	require.NoError(t, store.CreateEvent(ctx, model.Event{ID: "old", Title: "old", Date: "2024-01-01", CategoryID: "catG", UserID: "u1"}))

	is := &interleavedStore{Store: store}
	is.afterList = func() {
		require.NoError(t, store.CreateEvent(ctx, model.Event{ID: "late", Title: "late", Date: "2024-02-01", CategoryID: "catG", UserID: "u1"}))
	}
	s := newSyncSvc(t, is, store)

	res, err := s.Reconcile(ctx, "u1", "catG", []model.ExternalEvent{allDay("g1", "Trip", "2024-07-04", "2024-07-06")})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"old", "late"}, res.Deleted)

	evs, err := store.ListAllEvents(ctx, "u1")
	require.NoError(t, err)
	ids := make([]string, 0, len(evs))
	for _, e := range evs {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{"g1"}, ids)
}
