// Package seatmap turns a trip and its bus into the addressable seat space
// the booking engine allocates from.
package seatmap

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"ms-booking/internal/models"
)

var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrTripNotBookable = errors.New("trip not open for booking")
	ErrSeatNotOnTrip   = errors.New("seat does not exist on trip")
	// ErrSourceUnavailable wraps failures reading trips or seats.
	ErrSourceUnavailable = errors.New("seat map source unavailable")
)

// Source is the read-only catalog of trips, buses and seats.
type Source interface {
	TripByID(ctx context.Context, tripID string) (*models.Trip, error)
	BusByID(ctx context.Context, busID string) (*models.Bus, error)
	SeatsForBus(ctx context.Context, busID string) ([]models.Seat, error)
}

type SeatSpec struct {
	Number int             `json:"number"`
	Type   models.SeatType `json:"type"`
}

type SeatMap struct {
	Trip  models.Trip
	Seats []SeatSpec
	index map[int]int
}

func newSeatMap(trip models.Trip, seats []SeatSpec) *SeatMap {
	sort.Slice(seats, func(i, j int) bool { return seats[i].Number < seats[j].Number })
	index := make(map[int]int, len(seats))
	for i, s := range seats {
		index[s.Number] = i
	}
	return &SeatMap{Trip: trip, Seats: seats, index: index}
}

func (m *SeatMap) Capacity() int {
	return len(m.Seats)
}

func (m *SeatMap) Contains(number int) bool {
	_, ok := m.index[number]
	return ok
}

func (m *SeatMap) Type(number int) models.SeatType {
	if i, ok := m.index[number]; ok {
		return m.Seats[i].Type
	}
	return ""
}

func (m *SeatMap) Numbers() []int {
	out := make([]int, len(m.Seats))
	for i, s := range m.Seats {
		out[i] = s.Number
	}
	return out
}

// Service resolves seat maps. The seat layout of a trip never changes, so
// it is cached per trip; the trip row itself is re-read so status changes
// such as cancellation are seen immediately.
type Service struct {
	source Source
	layout *xsync.MapOf[string, []SeatSpec]
}

func NewService(source Source) *Service {
	return &Service{
		source: source,
		layout: xsync.NewMapOf[string, []SeatSpec](),
	}
}

// ForTrip returns the seat map of a trip regardless of its status.
func (s *Service) ForTrip(ctx context.Context, tripID string) (*SeatMap, error) {
	trip, err := s.source.TripByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if seats, ok := s.layout.Load(tripID); ok {
		return newSeatMap(*trip, append([]SeatSpec(nil), seats...)), nil
	}

	seats, err := s.loadLayout(ctx, trip)
	if err != nil {
		return nil, err
	}
	s.layout.Store(tripID, seats)
	return newSeatMap(*trip, append([]SeatSpec(nil), seats...)), nil
}

// Bookable resolves the seat map and verifies that the trip accepts new
// holds and sales and that the seat exists on it.
func (s *Service) Bookable(ctx context.Context, tripID string, seatNumber int) (*SeatMap, error) {
	m, err := s.ForTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !m.Trip.Bookable() {
		return nil, fmt.Errorf("%w: trip %s is %s", ErrTripNotBookable, tripID, m.Trip.Status)
	}
	if !m.Contains(seatNumber) {
		return nil, fmt.Errorf("%w: seat %d on trip %s", ErrSeatNotOnTrip, seatNumber, tripID)
	}
	return m, nil
}

func (s *Service) loadLayout(ctx context.Context, trip *models.Trip) ([]SeatSpec, error) {
	rows, err := s.source.SeatsForBus(ctx, trip.BusID)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		seats := make([]SeatSpec, 0, len(rows))
		for _, r := range rows {
			st := r.Type
			if st == "" {
				st = models.SeatStandard
			}
			seats = append(seats, SeatSpec{Number: r.Number, Type: st})
		}
		return seats, nil
	}

	bus, err := s.source.BusByID(ctx, trip.BusID)
	if err != nil {
		return nil, err
	}
	seats := make([]SeatSpec, 0, bus.Capacity)
	for n := 1; n <= bus.Capacity; n++ {
		seats = append(seats, SeatSpec{Number: n, Type: models.SeatStandard})
	}
	return seats, nil
}
