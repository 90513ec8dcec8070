package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slotly-backend/config"
	"slotly-backend/internal/db"
	"slotly-backend/internal/model"
	"slotly-backend/internal/pricing"
	"slotly-backend/internal/store"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	gdb    *gorm.DB
	store  store.Store
	svc    *Service
	events *recordingPublisher
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	f := &fixture{gdb: gdb, store: store.NewGormStore(gdb), events: &recordingPublisher{}, now: t0}
	f.svc = NewService(config.BookingConfig{}, f.store, f.events)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) user(t *testing.T, id int64) int64 {
	t.Helper()
	require.NoError(t, f.store.UpsertUser(context.Background(), &model.User{ID: id, Username: fmt.Sprintf("user%d", id)}))
	return id
}

func (f *fixture) lot(t *testing.T, name string, rate float64, spots int) *model.Lot {
	t.Helper()
	lot, err := f.svc.CreateLot(context.Background(), LotInput{
		Name: name, Address: "1 Main St", PostalCode: "10001", HourlyRate: rate, Capacity: spots, Spots: spots,
	})
	require.NoError(t, err)
	return lot
}

func (f *fixture) available(t *testing.T, lotID int64) int {
	t.Helper()
	status := model.SpotAvailable
	spots, err := f.store.ListSpots(context.Background(), lotID, &status)
	require.NoError(t, err)
	return len(spots)
}

func at(hour, minute int) *time.Time {
	t := time.Date(2026, 10, 17, hour, minute, 0, 0, time.UTC)
	return &t
}

func TestBook_DowntownScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 2.50, 2)
	u1, u2, u3 := f.user(t, 1), f.user(t, 2), f.user(t, 3)

	r1, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1})
	require.NoError(t, err)
	assert.Equal(t, lot.Spots[0].ID, r1.SpotID)
	assert.Equal(t, 2.50, r1.CostPerHour)
	assert.True(t, t0.Equal(r1.StartTime))
	assert.Nil(t, r1.EndTime)
	assert.Equal(t, 1, f.available(t, lot.ID))

	r2, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u2})
	require.NoError(t, err)
	assert.Equal(t, lot.Spots[1].ID, r2.SpotID)

	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u3})
	assert.ErrorIs(t, err, ErrNoCapacity)

	f.now = t0.Add(2 * time.Hour)
	released, err := f.svc.Release(ctx, ReleaseRequest{UserID: u1})
	require.NoError(t, err)
	require.NotNil(t, released.EndTime)
	cost, err := pricing.Cost(*released)
	require.NoError(t, err)
	assert.Equal(t, 5.00, pricing.Round(cost))
	assert.Equal(t, "Downtown", released.LotName())

	spot, err := f.store.GetSpot(ctx, r1.SpotID)
	require.NoError(t, err)
	assert.Equal(t, model.SpotAvailable, spot.Status)
	assert.Equal(t, 1, f.available(t, lot.ID))

	// The freed spot is the first candidate again.
	r3, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u3})
	require.NoError(t, err)
	assert.Equal(t, r1.SpotID, r3.SpotID)

	assert.Equal(t, []EventType{EventBooked, EventBooked, EventReleased, EventBooked}, f.events.types())
}

func TestBook_NoCapacityLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Tiny", 1, 1)
	u1, u2 := f.user(t, 1), f.user(t, 2)

	_, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1})
	require.NoError(t, err)
	before, err := f.store.ListReservations(ctx, store.ReservationFilter{})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u2})
	require.ErrorIs(t, err, ErrNoCapacity)

	after, err := f.store.ListReservations(ctx, store.ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Equal(t, 0, f.available(t, lot.ID))
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 2.50, 2)
	u1 := f.user(t, 1)

	_, err := f.svc.Book(ctx, BookRequest{LotID: 999, UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: 42})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(11, 0), End: at(10, 0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(11, 0), End: at(11, 0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, 2, f.available(t, lot.ID))
	assert.Empty(t, f.events.types())
}

func TestBook_ConcurrentClaimsNeverDoubleBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const spots, callers = 3, 8
	lot := f.lot(t, "Stadium", 4, spots)
	for i := 1; i <= callers; i++ {
		f.user(t, int64(i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []*model.Reservation
		failures  []error
	)
	for i := 1; i <= callers; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			r, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: uid})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes = append(successes, r)
		}(int64(i))
	}
	wg.Wait()

	require.Len(t, successes, spots)
	require.Len(t, failures, callers-spots)
	for _, err := range failures {
		assert.True(t, errors.Is(err, ErrNoCapacity) || errors.Is(err, ErrConflict), "unexpected error %v", err)
	}

	claimed := make(map[int64]bool)
	for _, r := range successes {
		assert.False(t, claimed[r.SpotID], "spot %d claimed twice", r.SpotID)
		claimed[r.SpotID] = true
	}
	assert.Equal(t, 0, f.available(t, lot.ID))
}

func TestBook_RetriesConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 2.50, 1)
	u1 := f.user(t, 1)

	flaky := &flakyStore{Store: f.store, failures: 1}
	svc := NewService(config.BookingConfig{MaxAttempts: 2}, flaky, nil)
	svc.now = f.svc.now

	_, err := svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1})
	require.NoError(t, err)

	flaky.failures = 2
	_, err = svc.Release(ctx, ReleaseRequest{UserID: u1})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, f.available(t, lot.ID))
}

func TestRelease_TwiceIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 2.50, 2)
	u1 := f.user(t, 1)

	r, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1})
	require.NoError(t, err)

	f.now = t0.Add(30 * time.Minute)
	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u1})
	require.NoError(t, err)

	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, f.available(t, lot.ID))
}

func TestRelease_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 2.50, 2)
	u1, u2 := f.user(t, 1), f.user(t, 2)

	r, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1})
	require.NoError(t, err)

	missing := int64(999)
	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &missing, UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u2})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u1, End: at(8, 0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	got, err := f.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EndTime)
	assert.Equal(t, 1, f.available(t, lot.ID))
}

func TestRelease_ExplicitEndAndFutureStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 10, 2)
	u1, u2 := f.user(t, 1), f.user(t, 2)

	r, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1})
	require.NoError(t, err)
	released, err := f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u1, End: at(10, 30)})
	require.NoError(t, err)
	assert.True(t, at(10, 30).Equal(*released.EndTime))
	require.NotNil(t, released.ReleasedAt)
	assert.False(t, released.ActiveAt(f.now))

	// An end still in the future does not keep it releasable.
	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)

	// The freed spot goes to the next caller and stays theirs.
	taken, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u2, Start: at(9, 0), End: at(9, 30)})
	require.NoError(t, err)
	assert.Equal(t, r.SpotID, taken.SpotID)
	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)
	spot, err := f.store.GetSpot(ctx, r.SpotID)
	require.NoError(t, err)
	assert.Equal(t, model.SpotOccupied, spot.Status)

	// Releasing before the start closes the reservation at its start.
	future, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(15, 0)})
	require.NoError(t, err)
	released, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1})
	require.NoError(t, err)
	assert.Equal(t, future.ID, released.ID)
	assert.True(t, at(15, 0).Equal(*released.EndTime))
	cost, err := pricing.Cost(*released)
	require.NoError(t, err)
	assert.Zero(t, cost)

	_, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.available(t, lot.ID))
}

func TestRelease_FutureEndThenRebookKeepsNewHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Tiny", 2.5, 1)
	u1, u2, u3 := f.user(t, 1), f.user(t, 2), f.user(t, 3)

	r, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1})
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1, End: at(12, 0)})
	require.NoError(t, err)

	taken, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u2})
	require.NoError(t, err)
	assert.Equal(t, r.SpotID, taken.SpotID)

	_, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.available(t, lot.ID))

	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u3})
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestExtend_ReleasedOrElapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Tiny", 10, 1)
	u1, u2 := f.user(t, 1), f.user(t, 2)

	r, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(9, 0), End: at(11, 0)})
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, ReleaseRequest{ReservationID: &r.ID, UserID: u1, End: at(10, 0)})
	require.NoError(t, err)
	taken, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u2, Start: at(9, 0), End: at(13, 0)})
	require.NoError(t, err)
	require.Equal(t, r.SpotID, taken.SpotID)

	_, err = f.svc.Extend(ctx, ExtendRequest{ReservationID: r.ID, UserID: u1, NewEnd: *at(12, 0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.available(t, lot.ID))

	got, err := f.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, at(10, 0).Equal(*got.EndTime))

	// Once elapsed, the holder can no longer push the end out either.
	f.now = *at(13, 30)
	_, err = f.svc.Extend(ctx, ExtendRequest{ReservationID: taken.ID, UserID: u2, NewEnd: *at(15, 0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRelease_ElapsedReservationIsNotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 10, 1)
	u1 := f.user(t, 1)

	_, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(9, 0), End: at(10, 0)})
	require.NoError(t, err)

	// An unelapsed end still counts as active.
	f.now = *at(10, 0)
	_, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1, End: at(10, 0)})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(10, 0), End: at(11, 0)})
	require.NoError(t, err)
	f.now = *at(11, 1)
	_, err = f.svc.Release(ctx, ReleaseRequest{UserID: u1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 10, 2)
	u1, u2 := f.user(t, 1), f.user(t, 2)

	r, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(9, 0), End: at(11, 0)})
	require.NoError(t, err)
	cost, err := pricing.Cost(*r)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cost)

	extended, err := f.svc.Extend(ctx, ExtendRequest{ReservationID: r.ID, UserID: u1, NewEnd: *at(12, 0)})
	require.NoError(t, err)
	assert.True(t, at(12, 0).Equal(*extended.EndTime))
	cost, err = pricing.Cost(*extended)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cost)

	for _, end := range []*time.Time{at(10, 0), at(12, 0)} {
		_, err = f.svc.Extend(ctx, ExtendRequest{ReservationID: r.ID, UserID: u1, NewEnd: *end})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
	got, err := f.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, at(12, 0).Equal(*got.EndTime))

	_, err = f.svc.Extend(ctx, ExtendRequest{ReservationID: r.ID, UserID: u2, NewEnd: *at(13, 0)})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Extend(ctx, ExtendRequest{ReservationID: 999, UserID: u1, NewEnd: *at(13, 0)})
	assert.ErrorIs(t, err, ErrNotFound)

	open, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u2})
	require.NoError(t, err)
	_, err = f.svc.Extend(ctx, ExtendRequest{ReservationID: open.ID, UserID: u2, NewEnd: *at(13, 0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Contains(t, f.events.types(), EventExtended)
}

func TestExpireElapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 10, 3)
	u1, u2, u3 := f.user(t, 1), f.user(t, 2), f.user(t, 3)

	boxed, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(9, 0), End: at(10, 0)})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u2, Start: at(9, 0), End: at(12, 0)})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u3})
	require.NoError(t, err)
	require.Equal(t, 0, f.available(t, lot.ID))

	freed, err := f.svc.ExpireElapsed(ctx, *at(10, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, freed)

	spot, err := f.store.GetSpot(ctx, boxed.SpotID)
	require.NoError(t, err)
	assert.Equal(t, model.SpotAvailable, spot.Status)

	freed, err = f.svc.ExpireElapsed(ctx, *at(10, 45))
	require.NoError(t, err)
	assert.Zero(t, freed)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, EventExpired, last.Type)
	assert.Equal(t, boxed.ID, last.ReservationID)
	assert.Equal(t, lot.ID, last.LotID)
}

func TestHistoryAndReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(t, "Downtown", 10, 2)
	u1, u2 := f.user(t, 1), f.user(t, 2)

	first, err := f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(8, 0), End: at(9, 0)})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookRequest{LotID: lot.ID, UserID: u1, Start: at(10, 0)})
	require.NoError(t, err)

	rs, err := f.svc.History(ctx, store.ReservationFilter{UserID: &u1})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Nil(t, rs[0].EndTime, "newest first")

	got, err := f.svc.Reservation(ctx, first.ID, u1)
	require.NoError(t, err)
	assert.Equal(t, "Downtown", got.LotName())

	_, err = f.svc.Reservation(ctx, first.ID, u2)
	assert.ErrorIs(t, err, ErrForbidden)
}

// flakyStore fails the first WithTx calls with a conflict.
type flakyStore struct {
	store.Store
	failures int
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("commit: %w", store.ErrConflict)
	}
	return s.Store.WithTx(ctx, fn)
}
