package fare

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// DBLookup reads fare rules from the fare_rules table.
type DBLookup struct {
	Bun *bun.DB
}

func (d *DBLookup) Rule(ctx context.Context, routeID, fromStopID, toStopID string) (*models.FareRule, error) {
	var rule models.FareRule
	err := d.Bun.NewSelect().
		Model(&rule).
		Where("route_id = ?", routeID).
		Where("from_stop_id = ?", fromStopID).
		Where("to_stop_id = ?", toStopID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s->%s", ErrFareNotDefined, routeID, fromStopID, toStopID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFareUnavailable, err)
	}
	return &rule, nil
}
