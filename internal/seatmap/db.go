package seatmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// DB reads trips, buses and seats with bun.
type DB struct {
	Bun *bun.DB
}

func (d *DB) TripByID(ctx context.Context, tripID string) (*models.Trip, error) {
	var trip models.Trip
	err := d.Bun.NewSelect().Model(&trip).Where("id = ?", tripID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return &trip, nil
}

func (d *DB) BusByID(ctx context.Context, busID string) (*models.Bus, error) {
	var bus models.Bus
	err := d.Bun.NewSelect().Model(&bus).Where("id = ?", busID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bus %s missing", ErrTripNotFound, busID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return &bus, nil
}

func (d *DB) SeatsForBus(ctx context.Context, busID string) ([]models.Seat, error) {
	var seats []models.Seat
	err := d.Bun.NewSelect().
		Model(&seats).
		Where("bus_id = ?", busID).
		Order("number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return seats, nil
}
