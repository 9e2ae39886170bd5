package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketSold      TicketStatus = "SOLD"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketUsed      TicketStatus = "USED"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentQR       PaymentMethod = "QR"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentQR:
		return true
	}
	return false
}

// Ticket is a sold seat for a boarding/alighting segment of a trip.
// At most one SOLD or USED ticket exists per (trip_id, seat_number).
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID            string        `bun:"id,pk" json:"id"`
	Code          string        `bun:"code,unique,notnull" json:"code"`
	TripID        string        `bun:"trip_id,notnull" json:"trip_id"`
	SeatNumber    int           `bun:"seat_number,notnull" json:"seat_number"`
	PassengerID   string        `bun:"passenger_id,notnull" json:"passenger_id"`
	FromStopID    string        `bun:"from_stop_id,notnull" json:"from_stop_id"`
	ToStopID      string        `bun:"to_stop_id,notnull" json:"to_stop_id"`
	PriceCents    int64         `bun:"price_cents,notnull" json:"price_cents"`
	PaymentMethod PaymentMethod `bun:"payment_method,notnull" json:"payment_method"`
	Status        TicketStatus  `bun:"status,notnull" json:"status"`
	HoldID        string        `bun:"hold_id,nullzero" json:"hold_id,omitempty"`
	PurchasedAt   time.Time     `bun:"purchased_at,notnull" json:"purchased_at"`
	CancelledAt   time.Time     `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
	BoardedAt     time.Time     `bun:"boarded_at,nullzero" json:"boarded_at,omitempty"`
}

// Occupies reports whether the ticket still takes its seat.
func (t *Ticket) Occupies() bool {
	return t.Status == TicketSold || t.Status == TicketUsed
}
