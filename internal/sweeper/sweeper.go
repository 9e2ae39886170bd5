// Package sweeper reclaims lapsed seat holds in the background so they stop
// showing as HELD. Booking correctness never depends on it: every write path
// expires lapsed holds on access.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Store is the subset of the booking store the sweeper needs.
type Store interface {
	ListLapsedHolds(ctx context.Context, now time.Time, limit int) ([]models.SeatHold, error)
	ExpireLapsedHold(ctx context.Context, holdID string, now time.Time) (bool, error)
}

type Publisher interface {
	PublishSeatStatus(ctx context.Context, ev models.SeatStatusChangeEvent) error
}

type IncidentSink interface {
	Record(ctx context.Context, inc models.Incident) error
}

// HoldOutcomes are hold outcomes observed outside the sweeper: holds
// converted into tickets, and lapsed holds expired on access by a write.
type HoldOutcomes struct {
	Consumed      int64
	LazilyExpired int64
}

// OutcomeCounter reports the HoldOutcomes since start.
type OutcomeCounter func() HoldOutcomes

type Options struct {
	Interval time.Duration
	Batch    int
	// AbandonAlert is the number of holds expiring in one run that raises
	// an ABANDONED_HOLD incident. Zero disables it.
	AbandonAlert int
}

type Stats struct {
	Runs           int64     `json:"runs"`
	Expired        int64     `json:"expired"`
	Failed         int64     `json:"failed"`
	LastRun        time.Time `json:"last_run"`
	AbandonmentPct float64   `json:"abandonment_pct"`
}

type Worker struct {
	store     Store
	events    Publisher
	incidents IncidentSink
	outcomes  OutcomeCounter
	logger    *logger.Logger
	opts      Options
	now       func() time.Time

	mu    sync.Mutex
	stats Stats
}

func NewWorker(store Store, events Publisher, incidents IncidentSink, outcomes OutcomeCounter, log *logger.Logger, opts Options) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 200
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Worker{
		store:     store,
		events:    events,
		incidents: incidents,
		outcomes:  outcomes,
		logger:    log,
		opts:      opts,
		now:       time.Now,
	}
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Start sweeps every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.logger.LogSweep(fmt.Sprintf("Hold sweeper started (interval %s, batch %d)", w.opts.Interval, w.opts.Batch))

	for {
		select {
		case <-ctx.Done():
			w.logger.LogSweep("Hold sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("SWEEP", fmt.Sprintf("Sweep failed: %v", err))
			}
		}
	}
}

// SweepOnce expires every hold that lapsed before now, batch by batch, and
// returns how many it expired. A hold renewed or consumed in the meantime is
// skipped by the conditional update.
func (w *Worker) SweepOnce(ctx context.Context) (int, error) {
	now := w.now().UTC().Truncate(time.Microsecond)
	expired, failed := 0, 0

	defer func() {
		w.mu.Lock()
		w.stats.Runs++
		w.stats.Expired += int64(expired)
		w.stats.Failed += int64(failed)
		w.stats.LastRun = now
		w.mu.Unlock()
	}()

	for {
		holds, err := w.store.ListLapsedHolds(ctx, now, w.opts.Batch)
		if err != nil {
			return expired, err
		}
		if len(holds) == 0 {
			break
		}

		progressed := 0
		for _, h := range holds {
			if err := ctx.Err(); err != nil {
				w.logger.LogSweep("Sweep interrupted by context cancellation")
				return expired, err
			}

			ok, err := w.store.ExpireLapsedHold(ctx, h.ID, now)
			if err != nil {
				w.logger.Error("SWEEP", fmt.Sprintf("Failed to expire hold %s: %v", h.ID, err))
				failed++
				continue
			}
			if !ok {
				continue
			}
			expired++
			progressed++
			w.logger.LogHold("EXPIRE", h.ID, fmt.Sprintf("trip %s seat %d reclaimed by sweeper", h.TripID, h.SeatNumber))
			w.publish(ctx, h, now)
		}

		// Nothing moved: the remaining rows keep failing, try again next tick.
		if len(holds) < w.opts.Batch || progressed == 0 {
			break
		}
	}

	if expired > 0 || failed > 0 {
		w.logger.LogSweep(fmt.Sprintf("Sweep completed: %d expired, %d failed", expired, failed))
	}
	if w.opts.AbandonAlert > 0 && expired >= w.opts.AbandonAlert {
		w.alert(ctx, expired, now)
	}
	return expired, nil
}

func (w *Worker) publish(ctx context.Context, h models.SeatHold, now time.Time) {
	if w.events == nil {
		return
	}
	err := w.events.PublishSeatStatus(ctx, models.SeatStatusChangeEvent{
		TripID:     h.TripID,
		SeatNumber: h.SeatNumber,
		State:      models.SeatFree,
		HoldID:     h.ID,
		Reason:     "hold_expired",
		At:         now,
	})
	if err != nil {
		w.logger.Error("KAFKA", fmt.Sprintf("Failed to publish expiry of hold %s: %v", h.ID, err))
	}
}

func (w *Worker) alert(ctx context.Context, expired int, now time.Time) {
	w.logger.Warn("SWEEP", fmt.Sprintf("%d holds abandoned in one sweep", expired))
	if w.incidents == nil {
		return
	}
	err := w.incidents.Record(ctx, models.Incident{
		EntityType: models.EntityHold,
		EntityID:   "sweep-" + now.Format(time.RFC3339),
		Type:       models.IncidentAbandonedHold,
		Note:       fmt.Sprintf("%d holds expired unused in one sweep (abandonment %.1f%%)", expired, w.abandonment(int64(expired))),
		CreatedAt:  now,
	})
	if err != nil {
		w.logger.Warn("INCIDENT", fmt.Sprintf("Failed to record abandoned hold incident: %v", err))
	}
}

// Stats returns a snapshot. AbandonmentPct is the share of finished holds
// that expired unused since start, counting both sweeper and on-access
// expiry, in percent.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	s := w.stats
	w.mu.Unlock()

	s.AbandonmentPct = w.rate(s.Expired)
	return s
}

// abandonment is the rate including holds expired by the run in progress.
func (w *Worker) abandonment(pending int64) float64 {
	w.mu.Lock()
	expired := w.stats.Expired + pending
	w.mu.Unlock()
	return w.rate(expired)
}

func (w *Worker) rate(swept int64) float64 {
	var seen HoldOutcomes
	if w.outcomes != nil {
		seen = w.outcomes()
	}
	expired := swept + seen.LazilyExpired
	total := expired + seen.Consumed
	if total == 0 {
		return 0
	}
	return float64(expired) * 100 / float64(total)
}
