package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/sse"
	"ms-booking/internal/sweeper"
	"ms-booking/internal/utils"
)

// retryAfterSeconds is sent with every 503 so clients back off briefly.
const retryAfterSeconds = 1

type Handler struct {
	Service *booking.Service
	Logger  *logger.Logger
	// SweepStats is optional and only feeds the health endpoint.
	SweepStats func() sweeper.Stats
	// Stream is optional; without it the seat stream route answers 404.
	Stream *sse.SeatEventEmitter
}

func NewHandler(service *booking.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{Service: service, Logger: log}
}

// Router builds the full HTTP surface of the service.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.Health)
	r.Route("/api", h.RegisterRoutes)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trips/{tripId}", func(r chi.Router) {
		r.Get("/seats", h.Occupancy)
		r.Get("/seats/summary", h.Summary)
		r.Get("/seats/stream", h.SeatStream)
		r.Get("/holds", h.ListHolds)
		r.Post("/holds", h.PlaceHold)
		r.Get("/tickets", h.ListTickets)
		r.Post("/tickets", h.IssueTicket)
	})
	r.Route("/holds/{holdId}", func(r chi.Router) {
		r.Get("/", h.GetHold)
		r.Put("/", h.RenewHold)
		r.Delete("/", h.ReleaseHold)
	})
	r.Route("/tickets/{ticketId}", func(r chi.Router) {
		r.Get("/", h.GetTicket)
		r.Delete("/", h.CancelTicket)
		r.Post("/board", h.BoardTicket)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

type placeHoldRequest struct {
	SeatNumber int    `json:"seat_number"`
	HolderID   string `json:"holder_id"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type renewHoldRequest struct {
	HolderID   string `json:"holder_id"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type issueTicketRequest struct {
	SeatNumber    int                  `json:"seat_number"`
	PassengerID   string               `json:"passenger_id"`
	FromStopID    string               `json:"from_stop_id"`
	ToStopID      string               `json:"to_stop_id"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	HoldID        string               `json:"hold_id"`
	PricingMode   models.PricingMode   `json:"pricing_mode"`
}

type summaryResponse struct {
	*models.OccupancySummary
	Occupied int `json:"occupied"`
}

func (h *Handler) Occupancy(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	seats, err := h.Service.Occupancy(r.Context(), tripID)
	if err != nil {
		h.fail(w, "Could not load seats", err)
		return
	}
	h.ok(w, http.StatusOK, "Seat occupancy", seats)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	sum, err := h.Service.Summary(r.Context(), tripID)
	if err != nil {
		h.fail(w, "Could not load summary", err)
		return
	}
	// Occupied comes from the same read as the summary so the two agree.
	h.ok(w, http.StatusOK, "Seat summary", summaryResponse{OccupancySummary: sum, Occupied: sum.Sold})
}

func (h *Handler) ListHolds(w http.ResponseWriter, r *http.Request) {
	holds, err := h.Service.ListHolds(r.Context(), chi.URLParam(r, "tripId"))
	if err != nil {
		h.fail(w, "Could not list holds", err)
		return
	}
	h.ok(w, http.StatusOK, "Active holds", holds)
}

func (h *Handler) PlaceHold(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	var req placeHoldRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.Logger.Debug("API", fmt.Sprintf("PlaceHold: trip=%s seat=%d holder=%s", tripID, req.SeatNumber, req.HolderID))

	hold, err := h.Service.PlaceHold(r.Context(), tripID, req.SeatNumber, req.HolderID, utils.SecondsToDuration(req.TTLSeconds))
	if err != nil {
		h.fail(w, "Could not hold seat", err)
		return
	}
	h.ok(w, http.StatusCreated, "Seat held", hold)
}

func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.Service.GetHold(r.Context(), chi.URLParam(r, "holdId"))
	if err != nil {
		h.fail(w, "Could not load hold", err)
		return
	}
	h.ok(w, http.StatusOK, "Hold", hold)
}

func (h *Handler) RenewHold(w http.ResponseWriter, r *http.Request) {
	var req renewHoldRequest
	if !h.decode(w, r, &req) {
		return
	}
	hold, err := h.Service.RenewHold(r.Context(), chi.URLParam(r, "holdId"), req.HolderID, utils.SecondsToDuration(req.TTLSeconds))
	if err != nil {
		h.fail(w, "Could not renew hold", err)
		return
	}
	h.ok(w, http.StatusOK, "Hold renewed", hold)
}

func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ReleaseHold(r.Context(), chi.URLParam(r, "holdId")); err != nil {
		h.fail(w, "Could not release hold", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Service.ListSoldTickets(r.Context(), chi.URLParam(r, "tripId"))
	if err != nil {
		h.fail(w, "Could not list tickets", err)
		return
	}
	h.ok(w, http.StatusOK, "Sold tickets", tickets)
}

func (h *Handler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	var req issueTicketRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.Service.IssueTicket(r.Context(), booking.IssueRequest{
		TripID:        chi.URLParam(r, "tripId"),
		SeatNumber:    req.SeatNumber,
		PassengerID:   req.PassengerID,
		FromStopID:    req.FromStopID,
		ToStopID:      req.ToStopID,
		PaymentMethod: req.PaymentMethod,
		HoldID:        req.HoldID,
		PricingMode:   req.PricingMode,
	})
	if err != nil {
		h.fail(w, "Could not issue ticket", err)
		return
	}
	h.ok(w, http.StatusCreated, "Ticket issued", ticket)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Service.GetTicket(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, "Could not load ticket", err)
		return
	}
	h.ok(w, http.StatusOK, "Ticket", ticket)
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Service.CancelTicket(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, "Could not cancel ticket", err)
		return
	}
	h.ok(w, http.StatusOK, "Ticket cancelled", ticket)
}

func (h *Handler) BoardTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Service.MarkBoarded(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, "Could not board ticket", err)
		return
	}
	h.ok(w, http.StatusOK, "Passenger boarded", ticket)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"holds":  h.Service.Counters(),
	}
	if h.SweepStats != nil {
		body["sweeper"] = h.SweepStats()
	}
	h.ok(w, http.StatusOK, "healthy", body)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("%s %s: invalid body: %v", r.Method, r.URL.Path, err))
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()).WithCode("INVALID_REQUEST"))
		return false
	}
	return true
}

func (h *Handler) ok(w http.ResponseWriter, status int, message string, data interface{}) {
	h.write(w, status, utils.SuccessResponse(message, data))
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", message, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", message, err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	h.write(w, status, utils.ErrorResponse(message, err.Error()).WithCode(code))
}

func (h *Handler) write(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{booking.ErrSeatUnavailable, http.StatusConflict, "SEAT_UNAVAILABLE"},
	{booking.ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED"},
	{booking.ErrAlreadyCancelled, http.StatusConflict, "ALREADY_CANCELLED"},
	{booking.ErrTicketNotCancellable, http.StatusConflict, "TICKET_NOT_CANCELLABLE"},
	{booking.ErrHoldNotFound, http.StatusNotFound, "HOLD_NOT_FOUND"},
	{booking.ErrTicketNotFound, http.StatusNotFound, "TICKET_NOT_FOUND"},
	{booking.ErrTripNotFound, http.StatusNotFound, "TRIP_NOT_FOUND"},
	{booking.ErrHoldExpired, http.StatusGone, "HOLD_EXPIRED"},
	{booking.ErrHoldMismatch, http.StatusForbidden, "HOLD_MISMATCH"},
	{booking.ErrInvalidSeat, http.StatusUnprocessableEntity, "INVALID_SEAT"},
	{booking.ErrTripNotBookable, http.StatusUnprocessableEntity, "TRIP_NOT_BOOKABLE"},
	{booking.ErrFareNotDefined, http.StatusUnprocessableEntity, "FARE_NOT_DEFINED"},
	{booking.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{booking.ErrFareTimeout, http.StatusServiceUnavailable, "FARE_TIMEOUT"},
	{booking.ErrFareUnavailable, http.StatusServiceUnavailable, "FARE_UNAVAILABLE"},
	{booking.ErrStorageUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
}

// StatusFor maps a booking error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}
