package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	"ms-booking/internal/booking"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/database/dbtest"
	"ms-booking/internal/fare"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/seatlock"
	"ms-booking/internal/seatmap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.SeatStatusChangeEvent
}

func (r *eventRecorder) PublishSeatStatus(_ context.Context, ev models.SeatStatusChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) states(seat int) []models.SeatState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SeatState
	for _, ev := range r.events {
		if ev.SeatNumber == seat {
			out = append(out, ev.State)
		}
	}
	return out
}

type incidentRecorder struct {
	mu        sync.Mutex
	incidents []models.Incident
}

func (r *incidentRecorder) Record(_ context.Context, inc models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
	return nil
}

func (r *incidentRecorder) types() []models.IncidentType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.IncidentType
	for _, inc := range r.incidents {
		out = append(out, inc.Type)
	}
	return out
}

type MockPricer struct {
	mock.Mock
}

func (m *MockPricer) Quote(ctx context.Context, req fare.QuoteRequest, timeout time.Duration) (fare.Quote, error) {
	args := m.Called(ctx, req, timeout)
	return args.Get(0).(fare.Quote), args.Error(1)
}

type fixture struct {
	svc       *booking.Service
	db        *bun.DB
	store     *bookingdb.DB
	clock     *fakeClock
	events    *eventRecorder
	incidents *incidentRecorder
}

const tripID = "trip-1"

type fixtureOption func(*booking.Deps)

func withPricer(p booking.Pricer) fixtureOption {
	return func(d *booking.Deps) { d.Fares = p }
}

func withLocker(l seatlock.Locker) fixtureOption {
	return func(d *booking.Deps) { d.Locker = l }
}

func newFixture(t *testing.T, seats int, opts ...fixtureOption) *fixture {
	t.Helper()

	db := dbtest.New(t)
	dbtest.SeedTrip(t, db, tripID, seats)
	dbtest.SeedFare(t, db, "route-1", "stop-a", "stop-c", 2500, false)

	store := &bookingdb.DB{Bun: db}
	clock := newFakeClock()
	events := &eventRecorder{}
	incidents := &incidentRecorder{}
	log := logger.NewNopLogger()

	deps := booking.Deps{
		Store:     store,
		Locker:    seatlock.NewLocal(2 * time.Second),
		SeatMaps:  seatmap.NewService(&seatmap.DB{Bun: db}),
		Fares:     fare.NewCalculator(&fare.DBLookup{Bun: db}, log),
		Incidents: incidents,
		Events:    events,
		Logger:    log,
	}
	for _, o := range opts {
		o(&deps)
	}

	svc := booking.NewService(deps, booking.Options{
		DefaultHoldTTL: 5 * time.Minute,
		MaxHoldTTL:     30 * time.Minute,
		FareTimeout:    time.Second,
	}).WithClock(clock.Now)

	return &fixture{svc: svc, db: db, store: store, clock: clock, events: events, incidents: incidents}
}

func walkUp(seat int, passenger string) booking.IssueRequest {
	return booking.IssueRequest{
		TripID:        tripID,
		SeatNumber:    seat,
		PassengerID:   passenger,
		FromStopID:    "stop-a",
		ToStopID:      "stop-c",
		PaymentMethod: models.PaymentCash,
	}
}

func withHold(seat int, passenger, holdID string) booking.IssueRequest {
	req := walkUp(seat, passenger)
	req.HoldID = holdID
	req.PaymentMethod = models.PaymentCard
	return req
}

func (f *fixture) stateOf(t *testing.T, seat int) models.SeatState {
	t.Helper()
	occ, err := f.svc.Occupancy(context.Background(), tripID)
	if err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	for _, o := range occ {
		if o.SeatNumber == seat {
			return o.State
		}
	}
	t.Fatalf("seat %d not in occupancy", seat)
	return ""
}

func (f *fixture) countTickets(t *testing.T, seat int, statuses ...models.TicketStatus) int {
	t.Helper()
	q := f.db.NewSelect().Model((*models.Ticket)(nil)).Where("trip_id = ?", tripID).Where("seat_number = ?", seat)
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	n, err := q.Count(context.Background())
	if err != nil {
		t.Fatalf("count tickets: %v", err)
	}
	return n
}
