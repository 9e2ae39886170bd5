package sse

import (
	"context"
	"sync"

	"ms-booking/internal/models"
)

// SeatEventEmitter fans seat status changes out to SSE clients watching a
// trip.
type SeatEventEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan models.SeatStatusChangeEvent
	buffer  int
}

func NewSeatEventEmitter() *SeatEventEmitter {
	return &SeatEventEmitter{
		clients: make(map[string][]chan models.SeatStatusChangeEvent),
		buffer:  32,
	}
}

// SubscribeToTrip registers a client until ctx is done; the channel is
// closed afterwards.
func (e *SeatEventEmitter) SubscribeToTrip(ctx context.Context, tripID string) <-chan models.SeatStatusChangeEvent {
	ch := make(chan models.SeatStatusChangeEvent, e.buffer)

	e.mu.Lock()
	e.clients[tripID] = append(e.clients[tripID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(tripID, ch)
	}()
	return ch
}

// PublishSeatStatus delivers ev to every client of its trip. Slow clients
// miss events rather than stall the booking path.
func (e *SeatEventEmitter) PublishSeatStatus(_ context.Context, ev models.SeatStatusChangeEvent) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.clients[ev.TripID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (e *SeatEventEmitter) ClientCount(tripID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[tripID])
}

func (e *SeatEventEmitter) remove(tripID string, ch chan models.SeatStatusChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[tripID]
	for i, c := range clients {
		if c == ch {
			e.clients[tripID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[tripID]) == 0 {
		delete(e.clients, tripID)
	}
}
