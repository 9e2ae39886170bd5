package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-booking/internal/models"
)

func (s *Service) holdTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.opts.DefaultHoldTTL
	}
	if ttl > s.opts.MaxHoldTTL {
		return s.opts.MaxHoldTTL
	}
	return ttl
}

// PlaceHold reserves a free seat for holderID until now+ttl. It fails with
// ErrSeatUnavailable when the seat is sold or held by a live hold.
func (s *Service) PlaceHold(ctx context.Context, tripID string, seatNumber int, holderID string, ttl time.Duration) (*models.SeatHold, error) {
	if holderID == "" {
		return nil, fmt.Errorf("%w: holder is required", ErrInvalidRequest)
	}
	sm, err := s.seats.Bookable(ctx, tripID, seatNumber)
	if err != nil {
		return nil, seatMapError(err)
	}
	ttl = s.holdTTL(ttl)

	var hold *models.SeatHold
	err = s.withSeat(ctx, tripID, seatNumber, func(ctx context.Context, q Queries, now time.Time) error {
		ticket, err := q.LiveTicket(ctx, tripID, seatNumber)
		if err != nil {
			return err
		}
		if ticket != nil {
			return fmt.Errorf("%w: seat %d is sold", ErrSeatUnavailable, seatNumber)
		}

		existing, err := s.liveHold(ctx, q, tripID, seatNumber, now)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: seat %d is held until %s", ErrSeatUnavailable, seatNumber, existing.ExpiresAt.Format(time.RFC3339))
		}

		sold, err := q.CountSold(ctx, tripID)
		if err != nil {
			return err
		}
		if sold >= sm.Capacity() {
			return fmt.Errorf("%w: %d of %d seats sold", ErrCapacityExceeded, sold, sm.Capacity())
		}

		hold = &models.SeatHold{
			ID:         uuid.NewString(),
			TripID:     tripID,
			SeatNumber: seatNumber,
			HolderID:   holderID,
			ExpiresAt:  now.Add(ttl),
			Status:     models.HoldActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return q.InsertHold(ctx, hold)
	})
	if err != nil {
		s.onWriteFailure(ctx, models.EntityTrip, tripID, err)
		return nil, err
	}

	s.logger.LogHold("PLACE", hold.ID, fmt.Sprintf("trip %s seat %d held by %s until %s", tripID, seatNumber, holderID, hold.ExpiresAt.Format(time.RFC3339)))
	s.publish(ctx, models.SeatStatusChangeEvent{
		TripID: tripID, SeatNumber: seatNumber, State: models.SeatHeld,
		HoldID: hold.ID, Reason: "hold_placed", At: hold.CreatedAt,
	})
	return hold, nil
}

// RenewHold moves the expiry of a live hold to now+ttl. When holderID is
// not empty it must match the hold's holder.
func (s *Service) RenewHold(ctx context.Context, holdID, holderID string, ttl time.Duration) (*models.SeatHold, error) {
	current, err := s.store.Reader().HoldByID(ctx, holdID)
	if err != nil {
		return nil, err
	}
	ttl = s.holdTTL(ttl)

	var (
		renewed *models.SeatHold
		lapsed  bool
	)
	err = s.withSeat(ctx, current.TripID, current.SeatNumber, func(ctx context.Context, q Queries, now time.Time) error {
		h, err := q.HoldByID(ctx, holdID)
		if err != nil {
			return err
		}
		if h.Status != models.HoldActive {
			return fmt.Errorf("%w: hold is %s", ErrHoldExpired, h.Status)
		}
		if holderID != "" && h.HolderID != holderID {
			return fmt.Errorf("%w: hold belongs to another holder", ErrHoldMismatch)
		}
		if h.Lapsed(now) {
			lapsed = true
			return s.expire(ctx, q, h, now)
		}

		ok, err := q.ExtendHold(ctx, h.ID, now.Add(ttl), now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrHoldExpired
		}
		h.ExpiresAt = now.Add(ttl)
		h.UpdatedAt = now
		renewed = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		s.publish(ctx, models.SeatStatusChangeEvent{
			TripID: current.TripID, SeatNumber: current.SeatNumber, State: models.SeatFree,
			HoldID: holdID, Reason: "hold_expired", At: s.Now(),
		})
		return nil, fmt.Errorf("%w: hold lapsed at %s", ErrHoldExpired, current.ExpiresAt.Format(time.RFC3339))
	}

	s.logger.LogHold("RENEW", holdID, fmt.Sprintf("extended until %s", renewed.ExpiresAt.Format(time.RFC3339)))
	return renewed, nil
}

// ReleaseHold frees the seat of an ACTIVE hold. Releasing a hold that is
// already released, expired or consumed succeeds without change.
func (s *Service) ReleaseHold(ctx context.Context, holdID string) error {
	current, err := s.store.Reader().HoldByID(ctx, holdID)
	if err != nil {
		return err
	}
	if current.Status != models.HoldActive {
		return nil
	}

	var freed bool
	err = s.withSeat(ctx, current.TripID, current.SeatNumber, func(ctx context.Context, q Queries, now time.Time) error {
		h, err := q.HoldByID(ctx, holdID)
		if err != nil {
			return err
		}
		if h.Status != models.HoldActive {
			return nil
		}
		if h.Lapsed(now) {
			freed = true
			return s.expire(ctx, q, h, now)
		}
		ok, err := q.TransitionHold(ctx, h.ID, models.HoldActive, models.HoldReleased, now)
		if err != nil {
			return err
		}
		if ok {
			freed = true
			s.released.Add(1)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if freed {
		s.logger.LogHold("RELEASE", holdID, fmt.Sprintf("trip %s seat %d freed", current.TripID, current.SeatNumber))
		s.publish(ctx, models.SeatStatusChangeEvent{
			TripID: current.TripID, SeatNumber: current.SeatNumber, State: models.SeatFree,
			HoldID: holdID, Reason: "hold_released", At: s.Now(),
		})
	}
	return nil
}

func (s *Service) GetHold(ctx context.Context, holdID string) (*models.SeatHold, error) {
	return s.store.Reader().HoldByID(ctx, holdID)
}

// ListHolds returns the holds of a trip that are live right now.
func (s *Service) ListHolds(ctx context.Context, tripID string) ([]models.SeatHold, error) {
	if _, err := s.seats.ForTrip(ctx, tripID); err != nil {
		return nil, seatMapError(err)
	}
	holds, err := s.store.Reader().ActiveHoldsForTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	live := make([]models.SeatHold, 0, len(holds))
	for _, h := range holds {
		if h.Live(now) {
			live = append(live, h)
		}
	}
	return live, nil
}
