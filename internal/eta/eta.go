package eta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-hail/internal/geo"
)

// Client is the interface used to estimate travel time between points.
// Coordinates are degrees, [lon, lat] order matching the stored data.
type Client interface {
	EstimateSeconds(ctx context.Context, fromLon, fromLat, toLon, toLat float64) (float64, error)
}

// Cache is a tiny in-memory TTL cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func key(fromLon, fromLat, toLon, toLat float64) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", fromLon, fromLat, toLon, toLat)
}

func (c *Cache) Get(fromLon, fromLat, toLon, toLat float64) (float64, bool) {
	k := key(fromLon, fromLat, toLon, toLat)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(fromLon, fromLat, toLon, toLat, v float64) {
	k := key(fromLon, fromLat, toLon, toLat)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// EstimateSeconds is the naive fallback: straight-line distance over an
// assumed average speed. In prod the OSRM client answers first.
func EstimateSeconds(fromLon, fromLat, toLon, toLat, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h city average
	}
	d := geo.DistanceKm(fromLat, fromLon, toLat, toLon) * 1000
	return d / speedMps
}
