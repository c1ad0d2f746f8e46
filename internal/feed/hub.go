package feed

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hail/internal/models"
)

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(ev models.RideEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// Hub tracks WebSocket subscribers per ride id.
type Hub struct {
	mu     sync.RWMutex
	byRide map[string]map[*session]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{byRide: make(map[string]map[*session]struct{}), logger: logger}
}

// Subscribe registers a connection for a ride's events and returns an
// unsubscribe func the handler defers.
func (h *Hub) Subscribe(rideID string, conn *websocket.Conn) func() {
	s := &session{conn: conn}
	h.mu.Lock()
	if _, ok := h.byRide[rideID]; !ok {
		h.byRide[rideID] = make(map[*session]struct{})
	}
	h.byRide[rideID][s] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		if set, ok := h.byRide[rideID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.byRide, rideID)
			}
		}
		h.mu.Unlock()
		_ = conn.Close()
	}
}

// Broadcast sends an event to every subscriber of its ride. Failed
// sessions are dropped; the client reconnects or falls back to polling.
func (h *Hub) Broadcast(ev models.RideEvent) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.byRide[ev.RideID]))
	for s := range h.byRide[ev.RideID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if err := s.send(ev); err != nil {
			if h.logger != nil {
				h.logger.Warn("feed send failed", "ride_id", ev.RideID, "error", err)
			}
			h.mu.Lock()
			if set, ok := h.byRide[ev.RideID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.byRide, ev.RideID)
				}
			}
			h.mu.Unlock()
			_ = s.conn.Close()
		}
	}
}

// ActiveRides lists ride ids with at least one subscriber.
func (h *Hub) ActiveRides() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byRide))
	for id := range h.byRide {
		out = append(out, id)
	}
	return out
}
