package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EntityType string

const (
	EntityTrip   EntityType = "TRIP"
	EntityTicket EntityType = "TICKET"
	EntityHold   EntityType = "HOLD"
	EntityParcel EntityType = "PARCEL"
)

type IncidentType string

const (
	IncidentSecurity       IncidentType = "SECURITY"
	IncidentDeliveryFail   IncidentType = "DELIVERY_FAIL"
	IncidentOverbook       IncidentType = "OVERBOOK"
	IncidentVehicle        IncidentType = "VEHICLE"
	IncidentAbandonedHold  IncidentType = "ABANDONED_HOLD"
	IncidentBookingFailure IncidentType = "BOOKING_FAILURE"
)

type Incident struct {
	bun.BaseModel `bun:"table:incidents"`

	ID         int64        `bun:"id,pk,autoincrement" json:"id,omitempty"`
	EntityType EntityType   `bun:"entity_type,notnull" json:"entity_type"`
	EntityID   string       `bun:"entity_id,notnull" json:"entity_id"`
	Type       IncidentType `bun:"type,notnull" json:"type"`
	Note       string       `bun:"note" json:"note"`
	CreatedAt  time.Time    `bun:"created_at,notnull" json:"created_at"`
}
