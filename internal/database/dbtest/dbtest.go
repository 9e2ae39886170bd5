// Package dbtest provides an isolated in-memory SQLite database with the
// booking schema for package tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-booking/internal/database"
	"ms-booking/internal/models"
)

func New(t testing.TB) *bun.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])

	db, err := database.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.CreateSchema(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// SeedTrip inserts a bus with the given number of seats and a scheduled
// trip on route "route-1". Seats listed in preferential get that type.
func SeedTrip(t testing.TB, db *bun.DB, tripID string, seats int, preferential ...int) *models.Trip {
	t.Helper()
	ctx := context.Background()

	bus := &models.Bus{ID: "bus-" + tripID, Plate: "PLT-" + tripID, Capacity: seats, Status: models.BusActive}
	if _, err := db.NewInsert().Model(bus).Exec(ctx); err != nil {
		t.Fatalf("Failed to insert bus: %v", err)
	}

	if len(preferential) > 0 {
		pref := make(map[int]bool, len(preferential))
		for _, n := range preferential {
			pref[n] = true
		}
		rows := make([]models.Seat, 0, seats)
		for n := 1; n <= seats; n++ {
			st := models.SeatStandard
			if pref[n] {
				st = models.SeatPreferential
			}
			rows = append(rows, models.Seat{ID: fmt.Sprintf("%s-%d", bus.ID, n), BusID: bus.ID, Number: n, Type: st})
		}
		if _, err := db.NewInsert().Model(&rows).Exec(ctx); err != nil {
			t.Fatalf("Failed to insert seats: %v", err)
		}
	}

	trip := &models.Trip{
		ID:          tripID,
		RouteID:     "route-1",
		BusID:       bus.ID,
		DepartureAt: time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC),
		Status:      models.TripScheduled,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := db.NewInsert().Model(trip).Exec(ctx); err != nil {
		t.Fatalf("Failed to insert trip: %v", err)
	}
	return trip
}

func SeedFare(t testing.TB, db *bun.DB, routeID, from, to string, cents int64, dynamic bool) {
	t.Helper()
	rule := &models.FareRule{RouteID: routeID, FromStopID: from, ToStopID: to, BasePriceCents: cents, DynamicPricing: dynamic}
	if _, err := db.NewInsert().Model(rule).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to insert fare rule: %v", err)
	}
}
