// Package storage defines persistence for drivers and rides. The one
// load-bearing primitive is the conditional write: every ride status
// mutation only lands if the row's current status is an expected value,
// closing the window where two drivers claim the same ride.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-hail/internal/models"
)

var (
	// ErrNotFound: no row with that id.
	ErrNotFound = errors.New("storage: not found")
	// ErrRideUnavailable: the claim's conditional write matched zero rows.
	// Expected under contention, not a system failure.
	ErrRideUnavailable = errors.New("storage: ride no longer available")
	// ErrInvalidTransition: the row exists but its current status is not
	// a legal predecessor of the requested one.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
)

// DriverStore is the driver-table surface the API needs.
type DriverStore interface {
	// ListDrivers returns every driver row newest-created-first, raw and
	// unvalidated; the candidates package owns cleanup.
	ListDrivers(ctx context.Context) ([]*models.RawDriver, error)
	UpdateLocation(ctx context.Context, driverID string, lon, lat float64) error
	UpdateOnline(ctx context.Context, driverID string, online bool) error
}

// RideStore is the ride-table surface.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// ClaimRide atomically moves a pending ride to accepted with the
	// driver attached and accepted_at stamped. Returns ErrRideUnavailable
	// when the ride is not pending anymore (or never existed).
	ClaimRide(ctx context.Context, rideID, driverID, driverName string, at time.Time) error

	// TransitionStatus moves a ride to "to" only if its current status is
	// one of from. Stamps completed_at when to is completed. Returns
	// ErrNotFound or ErrInvalidTransition on a zero-row write.
	TransitionStatus(ctx context.Context, rideID string, to models.RideStatus, from []models.RideStatus, at time.Time) error

	// CancelRide cancels a pending or accepted ride with a reason.
	CancelRide(ctx context.Context, rideID, reason string, at time.Time) error

	SetActualFare(ctx context.Context, rideID string, fare float64) error
	SetPaymentIntent(ctx context.Context, rideID, paymentIntentID string) error

	// ListPendingRides returns pending rides oldest-requested-first.
	ListPendingRides(ctx context.Context, limit int) ([]*models.Ride, error)
	// ListRideHistory returns a user's rides newest-requested-first.
	// userType selects the passenger or driver column.
	ListRideHistory(ctx context.Context, userID, userType string, limit int) ([]*models.Ride, error)
}

// Store combines both tables; the Postgres and memory backends implement it.
type Store interface {
	DriverStore
	RideStore
}
