package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-hail/internal/models"
)

// MemoryStore keeps everything under one mutex, which makes every status
// change a true compare-and-swap. Used when no PG_DSN is configured and
// throughout the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[string]*models.RawDriver
	order   []string // driver ids, newest first
	rides   map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers: make(map[string]*models.RawDriver),
		rides:   make(map[string]*models.Ride),
	}
}

// SeedDriver inserts a raw driver row, newest first like the PG ordering.
func (m *MemoryStore) SeedDriver(d *models.RawDriver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		m.order = append([]string{d.ID}, m.order...)
	}
	m.drivers[d.ID] = d
}

func (m *MemoryStore) ListDrivers(_ context.Context) ([]*models.RawDriver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RawDriver, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.drivers[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpdateLocation(_ context.Context, driverID string, lon, lat float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	loc, _ := json.Marshal(models.NewGeoPoint(lon, lat))
	d.Location = loc
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateOnline(_ context.Context, driverID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Online = &online
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ClaimRide(_ context.Context, rideID, driverID, driverName string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok || r.Status != models.StatusPending {
		return ErrRideUnavailable
	}
	r.Status = models.StatusAccepted
	r.DriverID = &driverID
	r.DriverName = &driverName
	r.AcceptedAt = &at
	return nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, rideID string, to models.RideStatus, from []models.RideStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if !statusIn(r.Status, from) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	if to == models.StatusCompleted {
		r.CompletedAt = &at
	}
	return nil
}

func (m *MemoryStore) CancelRide(_ context.Context, rideID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if !statusIn(r.Status, []models.RideStatus{models.StatusPending, models.StatusAccepted}) {
		return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, r.Status)
	}
	r.Status = models.StatusCancelled
	r.CancelledAt = &at
	r.CancellationReason = &reason
	return nil
}

func (m *MemoryStore) SetActualFare(_ context.Context, rideID string, fare float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	r.ActualFare = &fare
	return nil
}

func (m *MemoryStore) SetPaymentIntent(_ context.Context, rideID, paymentIntentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	r.PaymentIntentID = &paymentIntentID
	return nil
}

func (m *MemoryStore) ListPendingRides(_ context.Context, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == models.StatusPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListRideHistory(_ context.Context, userID, userType string, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		switch userType {
		case "driver":
			if r.DriverID == nil || *r.DriverID != userID {
				continue
			}
		default:
			if r.PassengerID != userID {
				continue
			}
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func statusIn(s models.RideStatus, set []models.RideStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
