package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/booking"
	"ms-booking/internal/fare"
	"ms-booking/internal/models"
	"ms-booking/internal/seatlock"
)

func TestIssueTicket_ConsumesHold(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	hold, err := f.svc.PlaceHold(ctx, tripID, 8, "passenger-1", time.Minute)
	require.NoError(t, err)

	ticket, err := f.svc.IssueTicket(ctx, withHold(8, "passenger-1", hold.ID))
	require.NoError(t, err)

	assert.Equal(t, models.TicketSold, ticket.Status)
	assert.Equal(t, hold.ID, ticket.HoldID)
	assert.Equal(t, int64(2500), ticket.PriceCents)
	assert.Equal(t, models.PaymentCard, ticket.PaymentMethod)
	assert.Regexp(t, `^TKT-[0-9A-F]{12}$`, ticket.Code)

	stored, err := f.svc.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldConsumed, stored.Status)
	assert.Equal(t, models.SeatSold, f.stateOf(t, 8))
	assert.Equal(t, int64(1), f.svc.Counters().Consumed)
	assert.Equal(t, []models.SeatState{models.SeatHeld, models.SeatSold}, f.events.states(8))
}

func TestIssueTicket_DoubleConsumeNeverCreatesSecondTicket(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	hold, err := f.svc.PlaceHold(ctx, tripID, 8, "passenger-1", time.Minute)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.IssueTicket(context.Background(), withHold(8, "passenger-1", hold.ID))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range errs {
		assert.ErrorIs(t, err, booking.ErrHoldExpired)
	}
	assert.Equal(t, 1, f.countTickets(t, 8))
}

func TestIssueTicket_LapsedHold(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	hold, err := f.svc.PlaceHold(ctx, tripID, 8, "passenger-1", 2*time.Second)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Second)

	_, err = f.svc.IssueTicket(ctx, withHold(8, "passenger-1", hold.ID))
	assert.ErrorIs(t, err, booking.ErrHoldExpired)
	assert.Zero(t, f.countTickets(t, 8))

	stored, err := f.svc.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldExpired, stored.Status)
}

func TestIssueTicket_HoldMismatch(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	hold, err := f.svc.PlaceHold(ctx, tripID, 8, "passenger-1", time.Minute)
	require.NoError(t, err)

	_, err = f.svc.IssueTicket(ctx, withHold(9, "passenger-1", hold.ID))
	assert.ErrorIs(t, err, booking.ErrHoldMismatch, "hold for another seat")

	_, err = f.svc.IssueTicket(ctx, withHold(8, "passenger-2", hold.ID))
	assert.ErrorIs(t, err, booking.ErrHoldMismatch, "hold of another passenger")

	_, err = f.svc.IssueTicket(ctx, withHold(8, "passenger-1", "missing"))
	assert.ErrorIs(t, err, booking.ErrHoldNotFound)

	stored, err := f.svc.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, stored.Status, "failed attempts leave the hold untouched")
}

func TestIssueTicket_WalkUpRespectsOtherHolds(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	hold, err := f.svc.PlaceHold(ctx, tripID, 10, "passenger-1", time.Minute)
	require.NoError(t, err)

	_, err = f.svc.IssueTicket(ctx, walkUp(10, "passenger-2"))
	assert.ErrorIs(t, err, booking.ErrSeatUnavailable)

	// The holder buying at the counter without quoting the hold gets it consumed.
	ticket, err := f.svc.IssueTicket(ctx, walkUp(10, "passenger-1"))
	require.NoError(t, err)
	assert.Equal(t, hold.ID, ticket.HoldID)

	_, err = f.svc.IssueTicket(ctx, walkUp(10, "passenger-3"))
	assert.ErrorIs(t, err, booking.ErrSeatUnavailable)
}

func TestIssueTicket_ConcurrentWalkUpSameSeat(t *testing.T) {
	f := newFixture(t, 40)

	start := make(chan struct{})
	results := make(chan error, 2)
	for _, passenger := range []string{"passenger-a", "passenger-b"} {
		go func(p string) {
			<-start
			_, err := f.svc.IssueTicket(context.Background(), walkUp(12, p))
			results <- err
		}(passenger)
	}
	close(start)

	var wins, lost int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			wins++
		} else if assert.ErrorIs(t, err, booking.ErrSeatUnavailable) {
			lost++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 1, f.countTickets(t, 12, models.TicketSold))
}

func TestIssueTicket_FareTimeoutLeavesNothing(t *testing.T) {
	pricer := new(MockPricer)
	pricer.On("Quote", mock.Anything, mock.Anything, mock.Anything).Return(fare.Quote{}, fare.ErrFareTimeout)

	f := newFixture(t, 40, withPricer(pricer))
	ctx := context.Background()

	hold, err := f.svc.PlaceHold(ctx, tripID, 3, "passenger-1", time.Minute)
	require.NoError(t, err)

	_, err = f.svc.IssueTicket(ctx, withHold(3, "passenger-1", hold.ID))
	assert.ErrorIs(t, err, booking.ErrFareTimeout)
	assert.True(t, booking.IsRetryable(err))

	assert.Zero(t, f.countTickets(t, 3))
	stored, err := f.svc.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, stored.Status)
	assert.Equal(t, models.SeatHeld, f.stateOf(t, 3))
}

func TestIssueTicket_FareTimeoutFromSlowLookup(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	calc := fare.NewCalculator(slowLookup{release: release}, nil)

	f := newFixture(t, 40, withPricer(calc))
	req := walkUp(3, "passenger-1")
	req.FareTimeout = 20 * time.Millisecond

	_, err := f.svc.IssueTicket(context.Background(), req)
	assert.ErrorIs(t, err, booking.ErrFareTimeout)
	assert.Zero(t, f.countTickets(t, 3))
}

func TestIssueTicket_FareNotDefined(t *testing.T) {
	f := newFixture(t, 40)

	req := walkUp(3, "passenger-1")
	req.ToStopID = "stop-z"
	_, err := f.svc.IssueTicket(context.Background(), req)
	assert.ErrorIs(t, err, booking.ErrFareNotDefined)
	assert.False(t, booking.IsRetryable(err))
}

func TestIssueTicket_Validation(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	req := walkUp(3, "")
	_, err := f.svc.IssueTicket(ctx, req)
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)

	req = walkUp(3, "p")
	req.PaymentMethod = "BITCOIN"
	_, err = f.svc.IssueTicket(ctx, req)
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)

	req = walkUp(3, "p")
	req.ToStopID = req.FromStopID
	_, err = f.svc.IssueTicket(ctx, req)
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)

	_, err = f.svc.IssueTicket(ctx, walkUp(41, "p"))
	assert.ErrorIs(t, err, booking.ErrInvalidSeat)
}

func TestIssueTicket_DynamicPricing(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	for _, seat := range []int{1, 2} {
		_, err := f.svc.IssueTicket(ctx, walkUp(seat, "early"))
		require.NoError(t, err)
	}

	req := walkUp(3, "late")
	req.PricingMode = models.PricingDynamic
	ticket, err := f.svc.IssueTicket(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2750), ticket.PriceCents, "50% load adds 10%")
}

func TestIssueTicket_LockContentionIsSeatUnavailable(t *testing.T) {
	f := newFixture(t, 40, withLocker(timeoutLocker{}))

	_, err := f.svc.IssueTicket(context.Background(), walkUp(3, "p"))
	assert.ErrorIs(t, err, booking.ErrSeatUnavailable)
}

func TestIssueTicket_LockBackendDownIsStorageUnavailable(t *testing.T) {
	f := newFixture(t, 40, withLocker(brokenLocker{}))

	_, err := f.svc.PlaceHold(context.Background(), tripID, 3, "p", time.Minute)
	assert.ErrorIs(t, err, booking.ErrStorageUnavailable)
	assert.True(t, booking.IsRetryable(err))
	assert.Contains(t, f.incidents.types(), models.IncidentBookingFailure)
}

func TestCancelTicket_FreesSeat(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	ticket, err := f.svc.IssueTicket(ctx, walkUp(6, "passenger-1"))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, cancelled.Status)
	assert.False(t, cancelled.CancelledAt.IsZero())
	assert.Equal(t, models.SeatFree, f.stateOf(t, 6))

	_, err = f.svc.CancelTicket(ctx, ticket.ID)
	assert.ErrorIs(t, err, booking.ErrAlreadyCancelled)

	_, err = f.svc.CancelTicket(ctx, "missing")
	assert.ErrorIs(t, err, booking.ErrTicketNotFound)

	_, err = f.svc.PlaceHold(ctx, tripID, 6, "passenger-2", time.Minute)
	assert.NoError(t, err, "a cancelled seat can be held again")
	assert.Equal(t, []models.SeatState{models.SeatSold, models.SeatFree, models.SeatHeld}, f.events.states(6))
}

func TestMarkBoarded(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	ticket, err := f.svc.IssueTicket(ctx, walkUp(6, "passenger-1"))
	require.NoError(t, err)

	boarded, err := f.svc.MarkBoarded(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, boarded.Status)

	again, err := f.svc.MarkBoarded(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, again.Status)

	assert.Equal(t, models.SeatSold, f.stateOf(t, 6))

	_, err = f.svc.CancelTicket(ctx, ticket.ID)
	assert.ErrorIs(t, err, booking.ErrTicketNotCancellable)

	_, err = f.svc.PlaceHold(ctx, tripID, 6, "passenger-2", time.Minute)
	assert.ErrorIs(t, err, booking.ErrSeatUnavailable)
}

func TestListSoldTickets_OrderedBySeat(t *testing.T) {
	f := newFixture(t, 40)
	ctx := context.Background()

	for _, seat := range []int{30, 2, 17} {
		_, err := f.svc.IssueTicket(ctx, walkUp(seat, "p"))
		require.NoError(t, err)
	}

	tickets, err := f.svc.ListSoldTickets(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	assert.Equal(t, []int{2, 17, 30}, []int{tickets[0].SeatNumber, tickets[1].SeatNumber, tickets[2].SeatNumber})

	got, err := f.svc.GetTicket(ctx, tickets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tickets[0].Code, got.Code)
}

type slowLookup struct{ release chan struct{} }

func (s slowLookup) Rule(ctx context.Context, routeID, fromStopID, toStopID string) (*models.FareRule, error) {
	<-s.release
	return nil, errors.New("too late")
}

type timeoutLocker struct{}

func (timeoutLocker) Acquire(context.Context, string) (seatlock.Unlock, error) {
	return nil, seatlock.ErrLockTimeout
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string) (seatlock.Unlock, error) {
	return nil, seatlock.ErrBackendUnavailable
}
