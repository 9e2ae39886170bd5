package booking_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// SeatStream streams seat status changes of a trip as Server-Sent Events.
// The first event is the current occupancy snapshot.
func (h *Handler) SeatStream(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	if h.Stream == nil {
		http.Error(w, "Seat streaming is disabled", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events := h.Stream.SubscribeToTrip(ctx, tripID)

	seats, err := h.Service.Occupancy(ctx, tripID)
	if err != nil {
		h.fail(w, "Could not load seats", err)
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	setupSSEHeaders(w)
	snapshot, err := json.Marshal(seats)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize snapshot: %v", err))
		return
	}
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", snapshot)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to seat stream for trip: %s", tripID))

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize seat event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: seat\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from seat stream for trip: %s", tripID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
}
