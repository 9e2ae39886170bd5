package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-booking/internal/booking"
	"ms-booking/internal/models"
)

var liveTicketStatuses = []models.TicketStatus{models.TicketSold, models.TicketUsed}

// DB is the bun implementation of booking.Store.
type DB struct {
	Bun *bun.DB
}

func (d *DB) Reader() booking.Queries {
	return &queries{db: d.Bun}
}

func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, q booking.Queries) error) error {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &queries{db: tx})
	})
	if err == nil {
		return nil
	}
	return classify(err)
}

// ListLapsedHolds returns ACTIVE holds that expired at or before now,
// oldest first.
func (d *DB) ListLapsedHolds(ctx context.Context, now time.Time, limit int) ([]models.SeatHold, error) {
	var holds []models.SeatHold
	err := d.Bun.NewSelect().
		Model(&holds).
		Where("status = ?", models.HoldActive).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return holds, nil
}

// ExpireLapsedHold marks a hold EXPIRED only if it is still ACTIVE and
// lapsed, so a concurrent renew or consume always wins.
func (d *DB) ExpireLapsedHold(ctx context.Context, holdID string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.SeatHold)(nil)).
		Set("status = ?", models.HoldExpired).
		Set("updated_at = ?", now).
		Where("id = ?", holdID).
		Where("status = ?", models.HoldActive).
		Where("expires_at <= ?", now).
		Exec(ctx)
	return affected(res, err)
}

type queries struct {
	db bun.IDB
}

func (q *queries) HoldByID(ctx context.Context, holdID string) (*models.SeatHold, error) {
	var h models.SeatHold
	err := q.db.NewSelect().Model(&h).Where("id = ?", holdID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrHoldNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &h, nil
}

func (q *queries) ActiveHold(ctx context.Context, tripID string, seatNumber int) (*models.SeatHold, error) {
	var h models.SeatHold
	err := q.db.NewSelect().
		Model(&h).
		Where("trip_id = ?", tripID).
		Where("seat_number = ?", seatNumber).
		Where("status = ?", models.HoldActive).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &h, nil
}

func (q *queries) ActiveHoldsForTrip(ctx context.Context, tripID string) ([]models.SeatHold, error) {
	var holds []models.SeatHold
	err := q.db.NewSelect().
		Model(&holds).
		Where("trip_id = ?", tripID).
		Where("status = ?", models.HoldActive).
		Order("seat_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return holds, nil
}

func (q *queries) InsertHold(ctx context.Context, hold *models.SeatHold) error {
	if _, err := q.db.NewInsert().Model(hold).Exec(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (q *queries) TransitionHold(ctx context.Context, holdID string, from, to models.HoldStatus, at time.Time) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*models.SeatHold)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at).
		Where("id = ?", holdID).
		Where("status = ?", from).
		Exec(ctx)
	return affected(res, err)
}

func (q *queries) ExtendHold(ctx context.Context, holdID string, expiresAt, now time.Time) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*models.SeatHold)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated_at = ?", now).
		Where("id = ?", holdID).
		Where("status = ?", models.HoldActive).
		Where("expires_at > ?", now).
		Exec(ctx)
	return affected(res, err)
}

func (q *queries) TicketByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var t models.Ticket
	err := q.db.NewSelect().Model(&t).Where("id = ?", ticketID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrTicketNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func (q *queries) LiveTicket(ctx context.Context, tripID string, seatNumber int) (*models.Ticket, error) {
	var t models.Ticket
	err := q.db.NewSelect().
		Model(&t).
		Where("trip_id = ?", tripID).
		Where("seat_number = ?", seatNumber).
		Where("status IN (?)", bun.In(liveTicketStatuses)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func (q *queries) LiveTicketsForTrip(ctx context.Context, tripID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := q.db.NewSelect().
		Model(&tickets).
		Where("trip_id = ?", tripID).
		Where("status IN (?)", bun.In(liveTicketStatuses)).
		Order("seat_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return tickets, nil
}

func (q *queries) InsertTicket(ctx context.Context, ticket *models.Ticket) error {
	if _, err := q.db.NewInsert().Model(ticket).Exec(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (q *queries) TransitionTicket(ctx context.Context, ticketID string, from, to models.TicketStatus, at time.Time) (bool, error) {
	upd := q.db.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", to).
		Where("id = ?", ticketID).
		Where("status = ?", from)

	switch to {
	case models.TicketCancelled:
		upd = upd.Set("cancelled_at = ?", at)
	case models.TicketUsed:
		upd = upd.Set("boarded_at = ?", at)
	}

	res, err := upd.Exec(ctx)
	return affected(res, err)
}

func (q *queries) CountSold(ctx context.Context, tripID string) (int, error) {
	n, err := q.db.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("trip_id = ?", tripID).
		Where("status IN (?)", bun.In(liveTicketStatuses)).
		Count(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// classify leaves domain errors alone, turns exclusivity violations into
// ErrSeatUnavailable and everything else into ErrStorageUnavailable.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", booking.ErrSeatUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", booking.ErrStorageUnavailable, err)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		booking.ErrSeatUnavailable, booking.ErrHoldNotFound, booking.ErrHoldExpired,
		booking.ErrHoldMismatch, booking.ErrTicketNotFound, booking.ErrAlreadyCancelled,
		booking.ErrCapacityExceeded, booking.ErrStorageUnavailable, booking.ErrTicketNotCancellable,
		booking.ErrInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
