package fare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// HTTPLookup asks an external fare service for rules.
type HTTPLookup struct {
	client  *http.Client
	baseURL string
	logger  *logger.Logger
}

func NewHTTPLookup(client *http.Client, baseURL string, log *logger.Logger) *HTTPLookup {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &HTTPLookup{client: client, baseURL: baseURL, logger: log}
}

func (h *HTTPLookup) Rule(ctx context.Context, routeID, fromStopID, toStopID string) (*models.FareRule, error) {
	q := url.Values{}
	q.Set("route", routeID)
	q.Set("from", fromStopID)
	q.Set("to", toStopID)
	endpoint := fmt.Sprintf("%s/internal/v1/fares?%s", h.baseURL, q.Encode())
	h.logger.Debug("FARE", fmt.Sprintf("Fetching fare: %s", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fare request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error("FARE", fmt.Sprintf("Fare service error: %v", err))
		return nil, fmt.Errorf("%w: %w", ErrFareUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			h.logger.Error("FARE", fmt.Sprintf("Failed to close fare response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		h.logger.Warn("FARE", fmt.Sprintf("Fare not defined: %s %s->%s", routeID, fromStopID, toStopID))
		return nil, fmt.Errorf("%w: %s %s->%s", ErrFareNotDefined, routeID, fromStopID, toStopID)
	}
	if resp.StatusCode != http.StatusOK {
		h.logger.Error("FARE", fmt.Sprintf("Fare service returned status: %d", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrFareUnavailable, resp.StatusCode)
	}

	var rule models.FareRule
	if err := json.NewDecoder(resp.Body).Decode(&rule); err != nil {
		h.logger.Error("FARE", fmt.Sprintf("Failed to decode fare response: %v", err))
		return nil, fmt.Errorf("%w: decode: %v", ErrFareUnavailable, err)
	}
	if rule.RouteID == "" {
		rule.RouteID, rule.FromStopID, rule.ToStopID = routeID, fromStopID, toStopID
	}
	return &rule, nil
}
