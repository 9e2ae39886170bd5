// Package fare prices a seat for a boarding/alighting segment of a trip.
package fare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

var (
	ErrFareNotDefined = errors.New("no fare defined for segment")
	// ErrFareTimeout is retryable: nothing was priced or sold.
	ErrFareTimeout     = errors.New("fare lookup timed out")
	ErrFareUnavailable = errors.New("fare lookup unavailable")
)

// Lookup returns the fare rule for a route segment or ErrFareNotDefined.
type Lookup interface {
	Rule(ctx context.Context, routeID, fromStopID, toStopID string) (*models.FareRule, error)
}

type QuoteRequest struct {
	RouteID    string
	FromStopID string
	ToStopID   string
	SeatType   models.SeatType
	Mode       models.PricingMode
	// LoadFactor is sold seats over capacity, 0..1.
	LoadFactor float64
}

type Quote struct {
	BaseCents  int64              `json:"base_cents"`
	PriceCents int64              `json:"price_cents"`
	Mode       models.PricingMode `json:"mode"`
}

const (
	preferentialSurchargePct = 15
	highLoadThreshold        = 0.8
	highLoadSurchargePct     = 25
	midLoadThreshold         = 0.5
	midLoadSurchargePct      = 10
)

type Calculator struct {
	lookup Lookup
	logger *logger.Logger
}

func NewCalculator(lookup Lookup, log *logger.Logger) *Calculator {
	return &Calculator{lookup: lookup, logger: log}
}

type ruleResult struct {
	rule *models.FareRule
	err  error
}

// Quote resolves the fare rule within timeout and applies seat-type and
// load-based surcharges. A lookup that does not answer in time yields
// ErrFareTimeout even if the lookup ignores its context.
func (c *Calculator) Quote(ctx context.Context, req QuoteRequest, timeout time.Duration) (Quote, error) {
	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan ruleResult, 1)
	go func() {
		rule, err := c.lookup.Rule(qctx, req.RouteID, req.FromStopID, req.ToStopID)
		done <- ruleResult{rule: rule, err: err}
	}()

	var res ruleResult
	select {
	case res = <-done:
	case <-qctx.Done():
		if ctx.Err() != nil {
			return Quote{}, ctx.Err()
		}
		c.logger.Warn("FARE", fmt.Sprintf("Fare lookup timed out after %s for %s %s->%s", timeout, req.RouteID, req.FromStopID, req.ToStopID))
		return Quote{}, ErrFareTimeout
	}

	if res.err != nil {
		switch {
		case errors.Is(res.err, ErrFareNotDefined):
			return Quote{}, res.err
		case errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil:
			return Quote{}, ErrFareTimeout
		case errors.Is(res.err, ErrFareUnavailable):
			return Quote{}, res.err
		default:
			return Quote{}, fmt.Errorf("%w: %v", ErrFareUnavailable, res.err)
		}
	}

	return Price(res.rule, req), nil
}

// Price applies surcharges to a rule. Dynamic pricing applies when the
// request asks for it or the rule enables it.
func Price(rule *models.FareRule, req QuoteRequest) Quote {
	mode := req.Mode
	if mode == "" {
		mode = models.PricingStandard
	}
	if rule.DynamicPricing {
		mode = models.PricingDynamic
	}

	price := rule.BasePriceCents
	if mode == models.PricingDynamic {
		switch {
		case req.LoadFactor >= highLoadThreshold:
			price = addPct(price, highLoadSurchargePct)
		case req.LoadFactor >= midLoadThreshold:
			price = addPct(price, midLoadSurchargePct)
		}
	}
	if req.SeatType == models.SeatPreferential {
		price = addPct(price, preferentialSurchargePct)
	}

	return Quote{BaseCents: rule.BasePriceCents, PriceCents: price, Mode: mode}
}

// addPct adds pct percent, rounding half up to the cent.
func addPct(cents int64, pct int64) int64 {
	return (cents*(100+pct) + 50) / 100
}
