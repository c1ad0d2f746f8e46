package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/storage"
)

// Polling bounds. Clients observed 3-5s refresh in the field; anything
// faster hammers the store for no benefit.
const (
	MinPollInterval = 3 * time.Second
	MaxPollInterval = 5 * time.Second
)

// Poller is the fallback feed when Redis pub/sub is not configured: it
// re-reads subscribed rides at a fixed interval and broadcasts status
// changes it observes.
type Poller struct {
	store    storage.RideStore
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger

	lastSeen map[string]models.RideStatus
}

func NewPoller(store storage.RideStore, hub *Hub, interval time.Duration, logger *slog.Logger) *Poller {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	if interval > MaxPollInterval {
		interval = MaxPollInterval
	}
	return &Poller{
		store:    store,
		hub:      hub,
		interval: interval,
		logger:   logger,
		lastSeen: make(map[string]models.RideStatus),
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	active := p.hub.ActiveRides()
	activeSet := make(map[string]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
		r, err := p.store.GetRide(ctx, id)
		if err != nil {
			continue
		}
		if last, ok := p.lastSeen[id]; !ok || last != r.Status {
			p.lastSeen[id] = r.Status
			if ok {
				p.hub.Broadcast(models.RideEvent{
					Type:     "update",
					RideID:   id,
					Status:   r.Status,
					DriverID: r.DriverID,
					At:       time.Now(),
				})
			}
		}
	}
	// forget rides nobody watches anymore
	for id := range p.lastSeen {
		if _, ok := activeSet[id]; !ok {
			delete(p.lastSeen, id)
		}
	}
}
