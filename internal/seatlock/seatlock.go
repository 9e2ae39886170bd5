// Package seatlock serializes writers per (trip, seat). Every booking write
// path takes the lock for exactly one seat, so contention on one seat never
// blocks the rest of the trip.
package seatlock

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout means another caller kept the seat for the whole wait.
	ErrLockTimeout = errors.New("seatlock: timed out waiting for seat")
	// ErrBackendUnavailable wraps failures of the lock store itself.
	ErrBackendUnavailable = errors.New("seatlock: backend unavailable")
)

// Unlock releases a lock. Calling it more than once is safe.
type Unlock func()

type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

func SeatKey(tripID string, seatNumber int) string {
	return fmt.Sprintf("trip:%s:seat:%d", tripID, seatNumber)
}
