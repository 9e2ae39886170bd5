// Package booking is the seat allocation engine. It guarantees that a
// (trip, seat) has at most one ACTIVE hold or SOLD/USED ticket at any time.
//
// Every write runs the same way: resolve the seat map, take the per-seat
// lock, then re-read and change the seat inside one store transaction.
// Lapsed holds are expired on the spot, so correctness never waits for the
// sweeper.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ms-booking/internal/fare"
	"ms-booking/internal/incident"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/seatlock"
	"ms-booking/internal/seatmap"
)

type SeatMaps interface {
	ForTrip(ctx context.Context, tripID string) (*seatmap.SeatMap, error)
	Bookable(ctx context.Context, tripID string, seatNumber int) (*seatmap.SeatMap, error)
}

type Pricer interface {
	Quote(ctx context.Context, req fare.QuoteRequest, timeout time.Duration) (fare.Quote, error)
}

type SeatEventPublisher interface {
	PublishSeatStatus(ctx context.Context, ev models.SeatStatusChangeEvent) error
}

// Publishers fans a seat event out to several publishers and joins their
// errors.
type Publishers []SeatEventPublisher

func (p Publishers) PublishSeatStatus(ctx context.Context, ev models.SeatStatusChangeEvent) error {
	var errs []error
	for _, pub := range p {
		if err := pub.PublishSeatStatus(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Options struct {
	DefaultHoldTTL time.Duration
	MaxHoldTTL     time.Duration
	FareTimeout    time.Duration
	PricingMode    models.PricingMode
}

func DefaultOptions() Options {
	return Options{
		DefaultHoldTTL: 5 * time.Minute,
		MaxHoldTTL:     30 * time.Minute,
		FareTimeout:    2 * time.Second,
		PricingMode:    models.PricingStandard,
	}
}

// Deps are the collaborators of a Service. Incidents and Events may be nil.
type Deps struct {
	Store     Store
	Locker    seatlock.Locker
	SeatMaps  SeatMaps
	Fares     Pricer
	Incidents incident.Sink
	Events    SeatEventPublisher
	Logger    *logger.Logger
}

// HoldCounters track hold outcomes since the service started.
type HoldCounters struct {
	Consumed      int64 `json:"consumed"`
	LazilyExpired int64 `json:"lazily_expired"`
	Released      int64 `json:"released"`
}

type Service struct {
	store     Store
	locker    seatlock.Locker
	seats     SeatMaps
	fares     Pricer
	incidents incident.Sink
	events    SeatEventPublisher
	logger    *logger.Logger
	opts      Options
	now       func() time.Time

	consumed      atomic.Int64
	lazilyExpired atomic.Int64
	released      atomic.Int64
}

func NewService(deps Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.DefaultHoldTTL <= 0 {
		opts.DefaultHoldTTL = def.DefaultHoldTTL
	}
	if opts.MaxHoldTTL <= 0 {
		opts.MaxHoldTTL = def.MaxHoldTTL
	}
	if opts.MaxHoldTTL < opts.DefaultHoldTTL {
		opts.MaxHoldTTL = opts.DefaultHoldTTL
	}
	if opts.FareTimeout <= 0 {
		opts.FareTimeout = def.FareTimeout
	}
	if opts.PricingMode == "" {
		opts.PricingMode = def.PricingMode
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Service{
		store:     deps.Store,
		locker:    deps.Locker,
		seats:     deps.SeatMaps,
		fares:     deps.Fares,
		incidents: deps.Incidents,
		events:    deps.Events,
		logger:    log,
		opts:      opts,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Tests use it to move past hold expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) Counters() HoldCounters {
	return HoldCounters{
		Consumed:      s.consumed.Load(),
		LazilyExpired: s.lazilyExpired.Load(),
		Released:      s.released.Load(),
	}
}

// withSeat runs fn in a store transaction while holding the seat lock. The
// lock is always taken before the transaction begins.
func (s *Service) withSeat(ctx context.Context, tripID string, seatNumber int, fn func(ctx context.Context, q Queries, now time.Time) error) error {
	unlock, err := s.locker.Acquire(ctx, seatlock.SeatKey(tripID, seatNumber))
	if err != nil {
		switch {
		case errors.Is(err, seatlock.ErrLockTimeout):
			return fmt.Errorf("%w: seat %d on trip %s is busy", ErrSeatUnavailable, seatNumber, tripID)
		case errors.Is(err, seatlock.ErrBackendUnavailable):
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		default:
			return err
		}
	}
	defer unlock()

	now := s.Now()
	return s.store.RunInTx(ctx, func(ctx context.Context, q Queries) error {
		return fn(ctx, q, now)
	})
}

// liveHold returns the hold blocking a seat at now. A lapsed ACTIVE hold is
// expired in the same transaction and reported as no hold.
func (s *Service) liveHold(ctx context.Context, q Queries, tripID string, seatNumber int, now time.Time) (*models.SeatHold, error) {
	h, err := q.ActiveHold(ctx, tripID, seatNumber)
	if err != nil || h == nil {
		return nil, err
	}
	if h.Live(now) {
		return h, nil
	}
	if err := s.expire(ctx, q, h, now); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Service) expire(ctx context.Context, q Queries, h *models.SeatHold, now time.Time) error {
	ok, err := q.TransitionHold(ctx, h.ID, models.HoldActive, models.HoldExpired, now)
	if err != nil {
		return err
	}
	if ok {
		s.lazilyExpired.Add(1)
		s.logger.LogHold("EXPIRE", h.ID, fmt.Sprintf("lapsed hold on trip %s seat %d expired on access", h.TripID, h.SeatNumber))
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev models.SeatStatusChangeEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSeatStatus(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("Failed to publish seat event %s/%d %s: %v", ev.TripID, ev.SeatNumber, ev.State, err))
	}
}

func (s *Service) record(ctx context.Context, entity models.EntityType, entityID string, typ models.IncidentType, note string) {
	if s.incidents == nil {
		return
	}
	inc := models.Incident{EntityType: entity, EntityID: entityID, Type: typ, Note: note, CreatedAt: s.Now()}
	if err := s.incidents.Record(context.WithoutCancel(ctx), inc); err != nil {
		s.logger.Warn("INCIDENT", fmt.Sprintf("Failed to record %s incident: %v", typ, err))
	}
}

// seatMapError converts seat map source failures into storage failures and
// passes everything else through.
func seatMapError(err error) error {
	if errors.Is(err, seatmap.ErrSourceUnavailable) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}
