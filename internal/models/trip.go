package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TripStatus string

const (
	TripScheduled TripStatus = "SCHEDULED"
	TripBoarding  TripStatus = "BOARDING"
	TripDeparted  TripStatus = "DEPARTED"
	TripArrived   TripStatus = "ARRIVED"
	TripCancelled TripStatus = "CANCELLED"
)

// Trip is one scheduled run of a bus over a route. The seat universe comes
// from the assigned bus and never changes once the trip exists.
type Trip struct {
	bun.BaseModel `bun:"table:trips"`

	ID          string     `bun:"id,pk" json:"id"`
	RouteID     string     `bun:"route_id,notnull" json:"route_id"`
	BusID       string     `bun:"bus_id,notnull" json:"bus_id"`
	DepartureAt time.Time  `bun:"departure_at,notnull" json:"departure_at"`
	ArrivalAt   time.Time  `bun:"arrival_at,nullzero" json:"arrival_at,omitempty"`
	Status      TripStatus `bun:"status,notnull,default:'SCHEDULED'" json:"status"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Bookable reports whether new holds and sales may be placed on the trip.
func (t *Trip) Bookable() bool {
	switch t.Status {
	case TripScheduled, TripBoarding, "":
		return true
	default:
		return false
	}
}

type BusStatus string

const (
	BusActive      BusStatus = "ACTIVE"
	BusMaintenance BusStatus = "MAINTENANCE"
	BusRetired     BusStatus = "RETIRED"
)

type Bus struct {
	bun.BaseModel `bun:"table:buses"`

	ID       string    `bun:"id,pk" json:"id"`
	Plate    string    `bun:"plate,unique,notnull" json:"plate"`
	Capacity int       `bun:"capacity,notnull" json:"capacity"`
	Status   BusStatus `bun:"status,notnull,default:'ACTIVE'" json:"status"`
}

type SeatType string

const (
	SeatStandard     SeatType = "STANDARD"
	SeatPreferential SeatType = "PREFERENTIAL"
)

// Seat is a physical seat on a bus. Buses without seat rows fall back to
// seats 1..Capacity, all standard.
type Seat struct {
	bun.BaseModel `bun:"table:seats"`

	ID     string   `bun:"id,pk" json:"id"`
	BusID  string   `bun:"bus_id,notnull,unique:bus_seat" json:"bus_id"`
	Number int      `bun:"number,notnull,unique:bus_seat" json:"number"`
	Type   SeatType `bun:"type,notnull,default:'STANDARD'" json:"type"`
}
