package booking

import (
	"errors"

	"ms-booking/internal/fare"
	"ms-booking/internal/seatmap"
)

var (
	ErrSeatUnavailable    = errors.New("seat unavailable")
	ErrHoldNotFound       = errors.New("hold not found")
	ErrHoldExpired        = errors.New("hold expired")
	ErrHoldMismatch       = errors.New("hold does not match request")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrAlreadyCancelled   = errors.New("ticket already cancelled")
	ErrCapacityExceeded   = errors.New("trip capacity exceeded")
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrTicketNotCancellable = errors.New("ticket already used")
	ErrInvalidRequest       = errors.New("invalid request")

	ErrFareNotDefined  = fare.ErrFareNotDefined
	ErrFareTimeout     = fare.ErrFareTimeout
	ErrFareUnavailable = fare.ErrFareUnavailable
	ErrTripNotFound    = seatmap.ErrTripNotFound
	ErrTripNotBookable = seatmap.ErrTripNotBookable
	ErrInvalidSeat     = seatmap.ErrSeatNotOnTrip
)

// IsRetryable reports failures a caller may retry unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFareTimeout) ||
		errors.Is(err, ErrFareUnavailable) ||
		errors.Is(err, ErrStorageUnavailable)
}
