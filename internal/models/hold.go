package models

import (
	"time"

	"github.com/uptrace/bun"
)

type HoldStatus string

const (
	HoldActive   HoldStatus = "ACTIVE"
	HoldExpired  HoldStatus = "EXPIRED"
	HoldConsumed HoldStatus = "CONSUMED"
	HoldReleased HoldStatus = "RELEASED"
)

// SeatHold is a time-bounded exclusive reservation of one seat on one trip.
// At most one ACTIVE hold exists per (trip_id, seat_number).
type SeatHold struct {
	bun.BaseModel `bun:"table:seat_holds"`

	ID         string     `bun:"id,pk" json:"id"`
	TripID     string     `bun:"trip_id,notnull" json:"trip_id"`
	SeatNumber int        `bun:"seat_number,notnull" json:"seat_number"`
	HolderID   string     `bun:"holder_id,notnull" json:"holder_id"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	Status     HoldStatus `bun:"status,notnull" json:"status"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Live reports whether the hold still blocks its seat at the given instant.
// An ACTIVE hold whose expiry has passed is free even before the sweeper
// marks it EXPIRED.
func (h *SeatHold) Live(now time.Time) bool {
	return h.Status == HoldActive && h.ExpiresAt.After(now)
}

// Lapsed reports an ACTIVE hold whose expiry has passed.
func (h *SeatHold) Lapsed(now time.Time) bool {
	return h.Status == HoldActive && !h.ExpiresAt.After(now)
}
