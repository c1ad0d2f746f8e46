package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"
)

// Position is a driver's last known location in the live index.
type Position struct {
	DriverID string
	Lat      float64
	Lon      float64
	Online   bool
	Updated  time.Time
}

// Index is the minimal interface the dispatch path needs: upsert a
// driver's position and find the closest online drivers to a point.
type Index interface {
	Upsert(ctx context.Context, p Position) error
	Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Position, error)
}

// DistanceKm returns the haversine distance between two points in km.
// Inputs are degrees. Mean Earth radius 6371 km. No range validation is
// performed; NaN inputs propagate to the result.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return r * c
}

// cell precision 5 gives ~4.9km x 4.9km buckets, wide enough that a
// cell plus its neighbors covers any radius we query in practice.
const cellPrecision = 5

// MemoryIndex is an in-process fallback index, bucketed by geohash cell
// so Nearby scans only the origin cell and its neighbors.
type MemoryIndex struct {
	mu        sync.RWMutex
	positions map[string]Position
	cells     map[string]map[string]struct{} // cell -> driver ids
	byDriver  map[string]string              // driver id -> cell
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		positions: make(map[string]Position),
		cells:     make(map[string]map[string]struct{}),
		byDriver:  make(map[string]string),
	}
}

func (m *MemoryIndex) Upsert(_ context.Context, p Position) error {
	cell := geohash.EncodeWithPrecision(p.Lat, p.Lon, cellPrecision)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byDriver[p.DriverID]; ok && prev != cell {
		delete(m.cells[prev], p.DriverID)
		if len(m.cells[prev]) == 0 {
			delete(m.cells, prev)
		}
	}
	if _, ok := m.cells[cell]; !ok {
		m.cells[cell] = make(map[string]struct{})
	}
	m.cells[cell][p.DriverID] = struct{}{}
	m.byDriver[p.DriverID] = cell
	p.Updated = time.Now()
	m.positions[p.DriverID] = p
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, lat, lon, radiusKm float64, limit int) ([]Position, error) {
	center := geohash.EncodeWithPrecision(lat, lon, cellPrecision)
	cells := append(geohash.Neighbors(center), center)

	m.mu.RLock()
	type scored struct {
		p    Position
		dist float64
	}
	var arr []scored
	for _, cell := range cells {
		for id := range m.cells[cell] {
			p := m.positions[id]
			if !p.Online {
				continue
			}
			d := DistanceKm(lat, lon, p.Lat, p.Lon)
			if d > radiusKm {
				continue
			}
			arr = append(arr, scored{p, d})
		}
	}
	m.mu.RUnlock()

	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]Position, 0, len(arr))
	for _, s := range arr {
		out = append(out, s.p)
	}
	return out, nil
}
