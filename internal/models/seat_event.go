package models

import "time"

// SeatState is the derived occupancy of a seat. It is never stored.
type SeatState string

const (
	SeatFree SeatState = "FREE"
	SeatHeld SeatState = "HELD"
	SeatSold SeatState = "SOLD"
)

type SeatOccupancy struct {
	SeatNumber    int        `json:"seat_number"`
	SeatType      SeatType   `json:"seat_type"`
	State         SeatState  `json:"state"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

type OccupancySummary struct {
	TripID   string `json:"trip_id"`
	Capacity int    `json:"capacity"`
	Free     int    `json:"free"`
	Held     int    `json:"held"`
	Sold     int    `json:"sold"`
}

// SeatStatusChangeEvent is published to Kafka after every committed seat
// transition.
type SeatStatusChangeEvent struct {
	TripID     string    `json:"trip_id"`
	SeatNumber int       `json:"seat_number"`
	State      SeatState `json:"state"`
	HoldID     string    `json:"hold_id,omitempty"`
	TicketID   string    `json:"ticket_id,omitempty"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}
