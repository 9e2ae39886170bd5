package booking

import (
	"context"

	"ms-booking/internal/models"
)

// Occupancy returns the state of every seat of a trip, ordered by seat
// number. It only reads: a lapsed hold shows as FREE without being written.
func (s *Service) Occupancy(ctx context.Context, tripID string) ([]models.SeatOccupancy, error) {
	sm, err := s.seats.ForTrip(ctx, tripID)
	if err != nil {
		return nil, seatMapError(err)
	}

	// Holds are read before tickets. A hold consumed between the two reads
	// then still finds its ticket, so a sold seat never reads FREE.
	r := s.store.Reader()
	holds, err := r.ActiveHoldsForTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	tickets, err := r.LiveTicketsForTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	sold := make(map[int]bool, len(tickets))
	for _, t := range tickets {
		sold[t.SeatNumber] = true
	}

	now := s.Now()
	held := make(map[int]models.SeatHold, len(holds))
	for _, h := range holds {
		if h.Live(now) {
			held[h.SeatNumber] = h
		}
	}

	out := make([]models.SeatOccupancy, 0, sm.Capacity())
	for _, seat := range sm.Seats {
		occ := models.SeatOccupancy{SeatNumber: seat.Number, SeatType: seat.Type, State: models.SeatFree}
		if sold[seat.Number] {
			occ.State = models.SeatSold
		} else if h, ok := held[seat.Number]; ok {
			occ.State = models.SeatHeld
			expires := h.ExpiresAt
			occ.HoldExpiresAt = &expires
		}
		out = append(out, occ)
	}
	return out, nil
}

// OccupiedSeatCount returns how many seats of the trip are sold.
func (s *Service) OccupiedSeatCount(ctx context.Context, tripID string) (int, error) {
	if _, err := s.seats.ForTrip(ctx, tripID); err != nil {
		return 0, seatMapError(err)
	}
	return s.store.Reader().CountSold(ctx, tripID)
}

func (s *Service) Summary(ctx context.Context, tripID string) (*models.OccupancySummary, error) {
	seats, err := s.Occupancy(ctx, tripID)
	if err != nil {
		return nil, err
	}
	sum := &models.OccupancySummary{TripID: tripID, Capacity: len(seats)}
	for _, o := range seats {
		switch o.State {
		case models.SeatFree:
			sum.Free++
		case models.SeatHeld:
			sum.Held++
		case models.SeatSold:
			sum.Sold++
		}
	}
	return sum, nil
}
