package booking

import (
	"context"
	"time"

	"ms-booking/internal/models"
)

// Queries are the storage operations the engine needs. Implementations must
// return ErrHoldNotFound and ErrTicketNotFound for missing rows, map
// exclusivity constraint violations to ErrSeatUnavailable, and wrap every
// other storage failure in ErrStorageUnavailable.
type Queries interface {
	HoldByID(ctx context.Context, holdID string) (*models.SeatHold, error)
	// ActiveHold returns the ACTIVE hold of a seat regardless of expiry, or nil.
	ActiveHold(ctx context.Context, tripID string, seatNumber int) (*models.SeatHold, error)
	ActiveHoldsForTrip(ctx context.Context, tripID string) ([]models.SeatHold, error)
	InsertHold(ctx context.Context, hold *models.SeatHold) error
	// TransitionHold moves a hold from one status to another and reports
	// whether the row was still in the expected status.
	TransitionHold(ctx context.Context, holdID string, from, to models.HoldStatus, at time.Time) (bool, error)
	// ExtendHold sets a new expiry on an ACTIVE hold that has not lapsed at now.
	ExtendHold(ctx context.Context, holdID string, expiresAt, now time.Time) (bool, error)

	TicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	// LiveTicket returns the SOLD or USED ticket of a seat, or nil.
	LiveTicket(ctx context.Context, tripID string, seatNumber int) (*models.Ticket, error)
	LiveTicketsForTrip(ctx context.Context, tripID string) ([]models.Ticket, error)
	InsertTicket(ctx context.Context, ticket *models.Ticket) error
	TransitionTicket(ctx context.Context, ticketID string, from, to models.TicketStatus, at time.Time) (bool, error)
	CountSold(ctx context.Context, tripID string) (int, error)
}

// Store runs Queries either directly or inside one transaction. A non-nil
// error from fn rolls the transaction back.
type Store interface {
	Reader() Queries
	RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
