package database

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// SeedDemo inserts a 40-seat bus, one scheduled trip and fares for its
// route. Existing rows are left untouched.
func SeedDemo(ctx context.Context, db bun.IDB) error {
	bus := models.Bus{ID: "bus-001", Plate: "ABC-1234", Capacity: 40, Status: models.BusActive}
	if _, err := db.NewInsert().Model(&bus).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed bus: %w", err)
	}

	seats := make([]models.Seat, 0, bus.Capacity)
	for n := 1; n <= bus.Capacity; n++ {
		st := models.SeatStandard
		if n <= 4 {
			st = models.SeatPreferential
		}
		seats = append(seats, models.Seat{ID: fmt.Sprintf("%s-%02d", bus.ID, n), BusID: bus.ID, Number: n, Type: st})
	}
	if _, err := db.NewInsert().Model(&seats).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed seats: %w", err)
	}

	trip := models.Trip{
		ID:          "trip-001",
		RouteID:     "route-north",
		BusID:       bus.ID,
		DepartureAt: time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour),
		Status:      models.TripScheduled,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := db.NewInsert().Model(&trip).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed trip: %w", err)
	}

	fares := []models.FareRule{
		{RouteID: "route-north", FromStopID: "stop-a", ToStopID: "stop-c", BasePriceCents: 2500},
		{RouteID: "route-north", FromStopID: "stop-a", ToStopID: "stop-b", BasePriceCents: 1200},
		{RouteID: "route-north", FromStopID: "stop-b", ToStopID: "stop-c", BasePriceCents: 1500, DynamicPricing: true},
	}
	if _, err := db.NewInsert().Model(&fares).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed fares: %w", err)
	}
	return nil
}
