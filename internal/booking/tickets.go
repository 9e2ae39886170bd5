package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-booking/internal/fare"
	"ms-booking/internal/models"
)

type IssueRequest struct {
	TripID        string               `json:"trip_id"`
	SeatNumber    int                  `json:"seat_number"`
	PassengerID   string               `json:"passenger_id"`
	FromStopID    string               `json:"from_stop_id"`
	ToStopID      string               `json:"to_stop_id"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	// HoldID is empty for walk-up sales.
	HoldID      string             `json:"hold_id,omitempty"`
	PricingMode models.PricingMode `json:"pricing_mode,omitempty"`
	// FareTimeout overrides the configured fare lookup timeout.
	FareTimeout time.Duration `json:"-"`
}

func (r IssueRequest) validate() error {
	var missing []string
	if r.TripID == "" {
		missing = append(missing, "trip_id")
	}
	if r.PassengerID == "" {
		missing = append(missing, "passenger_id")
	}
	if r.FromStopID == "" {
		missing = append(missing, "from_stop_id")
	}
	if r.ToStopID == "" {
		missing = append(missing, "to_stop_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if r.FromStopID == r.ToStopID {
		return fmt.Errorf("%w: boarding and alighting stop are the same", ErrInvalidRequest)
	}
	if !r.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, r.PaymentMethod)
	}
	return nil
}

// IssueTicket sells a seat. The price is fixed before the seat is locked;
// then, in one transaction, the supplied hold (if any) is consumed and the
// ticket is created. A walk-up sale goes through the same lock and checks,
// and consumes a live hold only when it belongs to the same passenger.
func (s *Service) IssueTicket(ctx context.Context, req IssueRequest) (*models.Ticket, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	sm, err := s.seats.Bookable(ctx, req.TripID, req.SeatNumber)
	if err != nil {
		return nil, seatMapError(err)
	}

	quote, err := s.quote(ctx, req, sm.Trip.RouteID, sm.Type(req.SeatNumber), sm.Capacity())
	if err != nil {
		return nil, err
	}

	var (
		ticket       *models.Ticket
		holdLapsed   bool
		consumedHold string
	)
	err = s.withSeat(ctx, req.TripID, req.SeatNumber, func(ctx context.Context, q Queries, now time.Time) error {
		var (
			hold *models.SeatHold
			err  error
		)
		if req.HoldID != "" {
			hold, err = q.HoldByID(ctx, req.HoldID)
			if err != nil {
				return err
			}
			if hold.TripID != req.TripID || hold.SeatNumber != req.SeatNumber {
				return fmt.Errorf("%w: hold is for trip %s seat %d", ErrHoldMismatch, hold.TripID, hold.SeatNumber)
			}
			if hold.Status != models.HoldActive {
				return fmt.Errorf("%w: hold is %s", ErrHoldExpired, hold.Status)
			}
			if hold.Lapsed(now) {
				holdLapsed = true
				return s.expire(ctx, q, hold, now)
			}
			if hold.HolderID != req.PassengerID {
				return fmt.Errorf("%w: hold belongs to another holder", ErrHoldMismatch)
			}
		} else {
			hold, err = s.liveHold(ctx, q, req.TripID, req.SeatNumber, now)
			if err != nil {
				return err
			}
			if hold != nil && hold.HolderID != req.PassengerID {
				return fmt.Errorf("%w: seat %d is held", ErrSeatUnavailable, req.SeatNumber)
			}
		}

		live, err := q.LiveTicket(ctx, req.TripID, req.SeatNumber)
		if err != nil {
			return err
		}
		if live != nil {
			return fmt.Errorf("%w: seat %d is sold", ErrSeatUnavailable, req.SeatNumber)
		}

		sold, err := q.CountSold(ctx, req.TripID)
		if err != nil {
			return err
		}
		if sold >= sm.Capacity() {
			return fmt.Errorf("%w: %d of %d seats sold", ErrCapacityExceeded, sold, sm.Capacity())
		}

		if hold != nil {
			ok, err := q.TransitionHold(ctx, hold.ID, models.HoldActive, models.HoldConsumed, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: hold was consumed concurrently", ErrHoldExpired)
			}
			consumedHold = hold.ID
		}

		ticketID := uuid.New()
		ticket = &models.Ticket{
			ID:            ticketID.String(),
			Code:          ticketCode(ticketID),
			TripID:        req.TripID,
			SeatNumber:    req.SeatNumber,
			PassengerID:   req.PassengerID,
			FromStopID:    req.FromStopID,
			ToStopID:      req.ToStopID,
			PriceCents:    quote.PriceCents,
			PaymentMethod: req.PaymentMethod,
			Status:        models.TicketSold,
			HoldID:        consumedHold,
			PurchasedAt:   now,
		}
		return q.InsertTicket(ctx, ticket)
	})
	if err != nil {
		s.onWriteFailure(ctx, models.EntityTrip, req.TripID, err)
		return nil, err
	}
	if holdLapsed {
		s.publish(ctx, models.SeatStatusChangeEvent{
			TripID: req.TripID, SeatNumber: req.SeatNumber, State: models.SeatFree,
			HoldID: req.HoldID, Reason: "hold_expired", At: s.Now(),
		})
		return nil, fmt.Errorf("%w: hold %s lapsed", ErrHoldExpired, req.HoldID)
	}

	if consumedHold != "" {
		s.consumed.Add(1)
	}
	s.logger.LogTicket("ISSUE", ticket.ID, fmt.Sprintf("trip %s seat %d sold to %s for %d cents (hold=%q)",
		ticket.TripID, ticket.SeatNumber, ticket.PassengerID, ticket.PriceCents, consumedHold))
	s.publish(ctx, models.SeatStatusChangeEvent{
		TripID: ticket.TripID, SeatNumber: ticket.SeatNumber, State: models.SeatSold,
		HoldID: consumedHold, TicketID: ticket.ID, Reason: "ticket_issued", At: ticket.PurchasedAt,
	})
	return ticket, nil
}

func (s *Service) quote(ctx context.Context, req IssueRequest, routeID string, seatType models.SeatType, capacity int) (fare.Quote, error) {
	mode := req.PricingMode
	if mode == "" {
		mode = s.opts.PricingMode
	}

	var load float64
	if mode == models.PricingDynamic && capacity > 0 {
		sold, err := s.store.Reader().CountSold(ctx, req.TripID)
		if err != nil {
			return fare.Quote{}, err
		}
		load = float64(sold) / float64(capacity)
	}

	timeout := req.FareTimeout
	if timeout <= 0 {
		timeout = s.opts.FareTimeout
	}

	q, err := s.fares.Quote(ctx, fare.QuoteRequest{
		RouteID:    routeID,
		FromStopID: req.FromStopID,
		ToStopID:   req.ToStopID,
		SeatType:   seatType,
		Mode:       mode,
		LoadFactor: load,
	}, timeout)
	if err != nil {
		if errors.Is(err, fare.ErrFareTimeout) {
			s.logger.Warn("TICKET", fmt.Sprintf("Fare lookup timed out for trip %s seat %d, nothing sold", req.TripID, req.SeatNumber))
		}
		return fare.Quote{}, err
	}
	return q, nil
}

// CancelTicket cancels a SOLD ticket and frees its seat.
func (s *Service) CancelTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	current, err := s.store.Reader().TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var cancelled *models.Ticket
	err = s.withSeat(ctx, current.TripID, current.SeatNumber, func(ctx context.Context, q Queries, now time.Time) error {
		t, err := q.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		switch t.Status {
		case models.TicketCancelled:
			return ErrAlreadyCancelled
		case models.TicketUsed:
			return fmt.Errorf("%w: passenger boarded at %s", ErrTicketNotCancellable, t.BoardedAt.Format(time.RFC3339))
		}

		ok, err := q.TransitionTicket(ctx, t.ID, models.TicketSold, models.TicketCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyCancelled
		}
		t.Status = models.TicketCancelled
		t.CancelledAt = now
		cancelled = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogTicket("CANCEL", ticketID, fmt.Sprintf("trip %s seat %d freed", cancelled.TripID, cancelled.SeatNumber))
	s.publish(ctx, models.SeatStatusChangeEvent{
		TripID: cancelled.TripID, SeatNumber: cancelled.SeatNumber, State: models.SeatFree,
		TicketID: ticketID, Reason: "ticket_cancelled", At: cancelled.CancelledAt,
	})
	return cancelled, nil
}

// MarkBoarded records that the passenger boarded. The seat stays occupied.
// Boarding an already boarded ticket returns it unchanged.
func (s *Service) MarkBoarded(ctx context.Context, ticketID string) (*models.Ticket, error) {
	current, err := s.store.Reader().TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var boarded *models.Ticket
	err = s.withSeat(ctx, current.TripID, current.SeatNumber, func(ctx context.Context, q Queries, now time.Time) error {
		t, err := q.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		switch t.Status {
		case models.TicketCancelled:
			return ErrAlreadyCancelled
		case models.TicketUsed:
			boarded = t
			return nil
		}
		ok, err := q.TransitionTicket(ctx, t.ID, models.TicketSold, models.TicketUsed, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyCancelled
		}
		t.Status = models.TicketUsed
		t.BoardedAt = now
		boarded = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogTicket("BOARD", ticketID, fmt.Sprintf("trip %s seat %d", boarded.TripID, boarded.SeatNumber))
	return boarded, nil
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.store.Reader().TicketByID(ctx, ticketID)
}

// ListSoldTickets returns the SOLD and USED tickets of a trip by seat
// number, as used for the boarding manifest.
func (s *Service) ListSoldTickets(ctx context.Context, tripID string) ([]models.Ticket, error) {
	if _, err := s.seats.ForTrip(ctx, tripID); err != nil {
		return nil, seatMapError(err)
	}
	return s.store.Reader().LiveTicketsForTrip(ctx, tripID)
}

// onWriteFailure records incidents for failures operators need to see.
func (s *Service) onWriteFailure(ctx context.Context, entity models.EntityType, entityID string, err error) {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		s.logger.Warn("BOOKING", fmt.Sprintf("Overbook attempt on %s: %v", entityID, err))
		s.record(ctx, entity, entityID, models.IncidentOverbook, err.Error())
	case errors.Is(err, ErrStorageUnavailable):
		s.logger.Error("BOOKING", fmt.Sprintf("Storage failure on %s: %v", entityID, err))
		s.record(ctx, entity, entityID, models.IncidentBookingFailure, err.Error())
	}
}

// ticketCode derives the printed reference from the ticket ID.
func ticketCode(id uuid.UUID) string {
	return "TKT-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}
