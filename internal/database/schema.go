package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// Models lists every table in creation order.
var Models = []interface{}{
	(*models.Bus)(nil),
	(*models.Seat)(nil),
	(*models.Trip)(nil),
	(*models.FareRule)(nil),
	(*models.SeatHold)(nil),
	(*models.Ticket)(nil),
	(*models.Incident)(nil),
}

type index struct {
	name    string
	model   interface{}
	unique  bool
	columns []string
	where   string
	args    []interface{}
}

// indexes holds the exclusivity backstops: one ACTIVE hold and one SOLD or
// USED ticket per (trip, seat).
var indexes = []index{
	{
		name: "ux_seat_holds_active_seat", model: (*models.SeatHold)(nil), unique: true,
		columns: []string{"trip_id", "seat_number"},
		where:   "status = ?", args: []interface{}{models.HoldActive},
	},
	{
		name: "ux_tickets_live_seat", model: (*models.Ticket)(nil), unique: true,
		columns: []string{"trip_id", "seat_number"},
		where:   "status IN (?, ?)", args: []interface{}{models.TicketSold, models.TicketUsed},
	},
	{
		name: "ix_seat_holds_status_expiry", model: (*models.SeatHold)(nil),
		columns: []string{"status", "expires_at"},
	},
	{
		name: "ix_tickets_trip", model: (*models.Ticket)(nil),
		columns: []string{"trip_id", "status"},
	},
}

// CreateSchema creates all tables and indexes from the bun models. It is
// used for SQLite and tests; postgres deployments go through migrations.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, m := range Models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", m, err)
		}
	}

	for _, ix := range indexes {
		q := db.NewCreateIndex().Model(ix.model).Index(ix.name).IfNotExists().Column(ix.columns...)
		if ix.unique {
			q = q.Unique()
		}
		if ix.where != "" {
			q = q.Where(ix.where, ix.args...)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", ix.name, err)
		}
	}
	return nil
}

// DropSchema drops all tables in reverse dependency order.
func DropSchema(ctx context.Context, db bun.IDB) error {
	for i := len(Models) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(Models[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table for %T: %w", Models[i], err)
		}
	}
	return nil
}
