package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/database/dbtest"
	"ms-booking/internal/models"
	"ms-booking/internal/sweeper"
)

var t0 = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	events    []models.SeatStatusChangeEvent
	incidents []models.Incident
}

func (r *recorder) PublishSeatStatus(_ context.Context, ev models.SeatStatusChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Record(_ context.Context, inc models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
	return nil
}

func setupStore(t *testing.T) *bookingdb.DB {
	t.Helper()
	db := dbtest.New(t)
	dbtest.SeedTrip(t, db, "trip-1", 40)
	return &bookingdb.DB{Bun: db}
}

func insertHold(t *testing.T, store *bookingdb.DB, seat int, expires time.Time) string {
	t.Helper()
	h := &models.SeatHold{
		ID:         uuid.NewString(),
		TripID:     "trip-1",
		SeatNumber: seat,
		HolderID:   "holder",
		ExpiresAt:  expires,
		Status:     models.HoldActive,
		CreatedAt:  t0.Add(-time.Hour),
		UpdatedAt:  t0.Add(-time.Hour),
	}
	require.NoError(t, store.Reader().InsertHold(context.Background(), h))
	return h.ID
}

func holdStatus(t *testing.T, store *bookingdb.DB, id string) models.HoldStatus {
	t.Helper()
	h, err := store.Reader().HoldByID(context.Background(), id)
	require.NoError(t, err)
	return h.Status
}

func TestSweepOnce_ExpiresOnlyLapsedHolds(t *testing.T) {
	store := setupStore(t)
	rec := &recorder{}

	lapsed := insertHold(t, store, 1, t0.Add(-time.Second))
	boundary := insertHold(t, store, 2, t0)
	live := insertHold(t, store, 3, t0.Add(time.Second))

	w := sweeper.NewWorker(store, rec, rec, nil, nil, sweeper.Options{Batch: 10}).
		WithClock(func() time.Time { return t0 })

	n, err := w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, models.HoldExpired, holdStatus(t, store, lapsed))
	assert.Equal(t, models.HoldExpired, holdStatus(t, store, boundary))
	assert.Equal(t, models.HoldActive, holdStatus(t, store, live))

	require.Len(t, rec.events, 2)
	for _, ev := range rec.events {
		assert.Equal(t, models.SeatFree, ev.State)
		assert.Equal(t, "hold_expired", ev.Reason)
	}
	assert.Empty(t, rec.incidents)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(2), stats.Expired)
	assert.Equal(t, t0, stats.LastRun)

	n, err = w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a second sweep finds nothing")
}

func TestSweepOnce_DrainsInBatches(t *testing.T) {
	store := setupStore(t)

	for seat := 1; seat <= 7; seat++ {
		insertHold(t, store, seat, t0.Add(-time.Duration(seat)*time.Second))
	}

	w := sweeper.NewWorker(store, nil, nil, nil, nil, sweeper.Options{Batch: 3}).
		WithClock(func() time.Time { return t0 })

	n, err := w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	left, err := store.ListLapsedHolds(context.Background(), t0, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSweepOnce_AbandonmentIncident(t *testing.T) {
	store := setupStore(t)
	rec := &recorder{}

	for seat := 1; seat <= 3; seat++ {
		insertHold(t, store, seat, t0.Add(-time.Minute))
	}
	outcomes := func() sweeper.HoldOutcomes { return sweeper.HoldOutcomes{Consumed: 1} }

	w := sweeper.NewWorker(store, rec, rec, outcomes, nil, sweeper.Options{Batch: 10, AbandonAlert: 3}).
		WithClock(func() time.Time { return t0 })

	_, err := w.SweepOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.incidents, 1)
	inc := rec.incidents[0]
	assert.Equal(t, models.IncidentAbandonedHold, inc.Type)
	assert.Equal(t, models.EntityHold, inc.EntityType)
	assert.Contains(t, inc.Note, "75.0%")

	assert.InDelta(t, 75.0, w.Stats().AbandonmentPct, 0.001)
}

func TestStats_CountsHoldsExpiredOnAccess(t *testing.T) {
	store := setupStore(t)
	insertHold(t, store, 1, t0.Add(-time.Minute))

	// 1 swept + 3 expired on access, against 4 consumed.
	outcomes := func() sweeper.HoldOutcomes {
		return sweeper.HoldOutcomes{Consumed: 4, LazilyExpired: 3}
	}
	w := sweeper.NewWorker(store, nil, nil, outcomes, nil, sweeper.Options{Batch: 10}).
		WithClock(func() time.Time { return t0 })

	n, err := w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Expired)
	assert.InDelta(t, 50.0, stats.AbandonmentPct, 0.001)
}

func TestStats_NoOutcomesYet(t *testing.T) {
	w := sweeper.NewWorker(setupStore(t), nil, nil, nil, nil, sweeper.Options{})
	assert.Zero(t, w.Stats().AbandonmentPct)
}

type failingStore struct {
	holds []models.SeatHold
	calls int
}

func (f *failingStore) ListLapsedHolds(context.Context, time.Time, int) ([]models.SeatHold, error) {
	return f.holds, nil
}

func (f *failingStore) ExpireLapsedHold(context.Context, string, time.Time) (bool, error) {
	f.calls++
	return false, errors.New("connection reset")
}

func TestSweepOnce_FailuresAreCountedAndDoNotSpin(t *testing.T) {
	store := &failingStore{holds: []models.SeatHold{{ID: "a"}, {ID: "b"}}}

	w := sweeper.NewWorker(store, nil, nil, nil, nil, sweeper.Options{Batch: 2})

	n, err := w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, int64(2), w.Stats().Failed)
}

type listErrorStore struct{}

func (listErrorStore) ListLapsedHolds(context.Context, time.Time, int) ([]models.SeatHold, error) {
	return nil, errors.New("database is down")
}

func (listErrorStore) ExpireLapsedHold(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func TestSweepOnce_ListError(t *testing.T) {
	w := sweeper.NewWorker(listErrorStore{}, nil, nil, nil, nil, sweeper.Options{})

	_, err := w.SweepOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(1), w.Stats().Runs)
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	store := setupStore(t)
	id := insertHold(t, store, 1, time.Now().UTC().Add(-time.Minute).Truncate(time.Second))

	w := sweeper.NewWorker(store, nil, nil, nil, nil, sweeper.Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return w.Stats().Expired == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.Equal(t, models.HoldExpired, holdStatus(t, store, id))
}
