// Package rides owns the ride workflow: creation with fare/ETA quotes,
// the accept claim, the status state machine, and cancellation. All
// status writes go through the store's conditional-update primitives;
// nothing here ever overwrites a ride status unconditionally.
package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hail/internal/dispatch"
	"github.com/example/ride-hail/internal/eta"
	"github.com/example/ride-hail/internal/feed"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/pricing"
	"github.com/example/ride-hail/internal/storage"
)

// ErrInvalidStatus rejects unknown status values before any store access.
var ErrInvalidStatus = errors.New("rides: invalid status")

// PaymentClient is the fare hold/capture surface the service needs.
type PaymentClient interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Service struct {
	Store    storage.RideStore
	Geo      geo.Index         // optional, drives offer fan-out
	Notify   dispatch.Notifier // optional
	Feed     feed.Publisher    // optional
	Payments PaymentClient     // optional
	Pricing  pricing.Estimator
	ETA      eta.Client // optional OSRM client
	ETACache *eta.Cache // optional

	DefaultSpeedMps  float64
	DispatchRadiusKm float64
	DispatchTopN     int
	Currency         string
	Logger           *slog.Logger
}

// RequestInput is a validated ride request. Zero estimates are filled in
// from the routing engine and the fare table.
type RequestInput struct {
	PassengerID        string
	PassengerName      string
	PickupAddress      string
	PickupCoords       []float64 // [lon, lat]
	DestinationAddress string
	DestinationCoords  []float64
	EstimatedFare      float64
	EstimatedDuration  float64
}

// Request creates a pending ride and offers it to nearby online drivers.
func (s *Service) Request(ctx context.Context, in RequestInput) (*models.Ride, error) {
	r := &models.Ride{
		ID:                 uuid.NewString(),
		PassengerID:        in.PassengerID,
		PassengerName:      in.PassengerName,
		PickupAddress:      in.PickupAddress,
		PickupCoords:       in.PickupCoords,
		DestinationAddress: in.DestinationAddress,
		DestinationCoords:  in.DestinationCoords,
		Status:             models.StatusPending,
		EstimatedFare:      in.EstimatedFare,
		EstimatedDuration:  in.EstimatedDuration,
		RequestedAt:        time.Now(),
	}
	s.fillEstimates(ctx, r)

	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	observability.RidesRequestedTotal.Inc()

	s.publish(ctx, models.RideEvent{Type: "insert", RideID: r.ID, Status: r.Status, At: time.Now()})
	s.offerToNearby(ctx, r)
	return r, nil
}

// Accept is the claim: exactly one driver can move a pending ride to
// accepted. A lost race surfaces as storage.ErrRideUnavailable so the
// caller can tell "ride already taken" apart from a store failure.
func (s *Service) Accept(ctx context.Context, rideID, driverID, driverName string) error {
	err := s.Store.ClaimRide(ctx, rideID, driverID, driverName, time.Now())
	if errors.Is(err, storage.ErrRideUnavailable) {
		observability.ClaimsLostTotal.Inc()
		return err
	}
	if err != nil {
		return err
	}
	observability.ClaimsTotal.Inc()

	s.publish(ctx, models.RideEvent{Type: "update", RideID: rideID, Status: models.StatusAccepted, DriverID: &driverID, At: time.Now()})
	s.holdFare(ctx, rideID)
	return nil
}

// UpdateStatus applies one step of the status machine. The target must
// be a known status; the store enforces the legal predecessor set.
func (s *Service) UpdateStatus(ctx context.Context, rideID string, status string) error {
	to := models.RideStatus(status)
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if to == models.StatusCancelled {
		return s.Cancel(ctx, rideID, "")
	}

	if err := s.Store.TransitionStatus(ctx, rideID, to, to.AllowedFrom(), time.Now()); err != nil {
		return err
	}
	s.publish(ctx, models.RideEvent{Type: "update", RideID: rideID, Status: to, At: time.Now()})

	if to == models.StatusCompleted {
		s.settleFare(ctx, rideID)
	}
	return nil
}

// Cancel cancels a pending or accepted ride and releases any fare hold.
func (s *Service) Cancel(ctx context.Context, rideID, reason string) error {
	if reason == "" {
		reason = "cancelled by passenger"
	}
	if err := s.Store.CancelRide(ctx, rideID, reason, time.Now()); err != nil {
		return err
	}
	s.publish(ctx, models.RideEvent{Type: "update", RideID: rideID, Status: models.StatusCancelled, At: time.Now()})

	if s.Payments != nil {
		if r, err := s.Store.GetRide(ctx, rideID); err == nil && r.PaymentIntentID != nil {
			if err := s.Payments.Cancel(ctx, *r.PaymentIntentID); err != nil {
				s.log().Warn("payment release failed", "ride_id", rideID, "error", err)
			}
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.Store.GetRide(ctx, rideID)
}

func (s *Service) Pending(ctx context.Context, limit int) ([]*models.Ride, error) {
	return s.Store.ListPendingRides(ctx, limit)
}

func (s *Service) History(ctx context.Context, userID, userType string, limit int) ([]*models.Ride, error) {
	return s.Store.ListRideHistory(ctx, userID, userType, limit)
}

func (s *Service) fillEstimates(ctx context.Context, r *models.Ride) {
	if len(r.PickupCoords) < 2 || len(r.DestinationCoords) < 2 {
		return
	}
	pLon, pLat := r.PickupCoords[0], r.PickupCoords[1]
	dLon, dLat := r.DestinationCoords[0], r.DestinationCoords[1]
	distKm := geo.DistanceKm(pLat, pLon, dLat, dLon)

	if r.EstimatedDuration == 0 {
		r.EstimatedDuration = s.estimateSeconds(ctx, pLon, pLat, dLon, dLat)
	}
	if r.EstimatedFare == 0 {
		r.EstimatedFare = s.Pricing.Estimate(distKm, r.EstimatedDuration)
	}
}

func (s *Service) estimateSeconds(ctx context.Context, fromLon, fromLat, toLon, toLat float64) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(fromLon, fromLat, toLon, toLat); ok {
			return v
		}
	}
	if s.ETA != nil {
		if v, err := s.ETA.EstimateSeconds(ctx, fromLon, fromLat, toLon, toLat); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(fromLon, fromLat, toLon, toLat, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(fromLon, fromLat, toLon, toLat, s.DefaultSpeedMps)
}

// offerToNearby pushes the new ride to the closest online drivers.
// Best-effort: a driver without a session just sees it in the pending
// list instead.
func (s *Service) offerToNearby(ctx context.Context, r *models.Ride) {
	if s.Geo == nil || s.Notify == nil || len(r.PickupCoords) < 2 {
		return
	}
	lat, lon := r.PickupCoords[1], r.PickupCoords[0]
	near, err := s.Geo.Nearby(ctx, lat, lon, s.DispatchRadiusKm, s.DispatchTopN)
	if err != nil {
		s.log().Warn("nearby lookup failed", "ride_id", r.ID, "error", err)
		return
	}
	for _, p := range near {
		offer := models.RideOffer{
			RideID:        r.ID,
			PickupAddress: r.PickupAddress,
			DistanceKm:    geo.DistanceKm(lat, lon, p.Lat, p.Lon),
			EstimatedFare: r.EstimatedFare,
		}
		if err := s.Notify.OfferRide(p.DriverID, offer); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
			s.log().Warn("offer delivery failed", "ride_id", r.ID, "driver_id", p.DriverID, "error", err)
		}
	}
}

func (s *Service) holdFare(ctx context.Context, rideID string) {
	if s.Payments == nil {
		return
	}
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil || r.EstimatedFare <= 0 {
		return
	}
	amount := int64(r.EstimatedFare * 100)
	pi, err := s.Payments.Hold(ctx, amount, s.Currency, r.PassengerID)
	if err != nil {
		s.log().Warn("fare hold failed", "ride_id", rideID, "error", err)
		return
	}
	if err := s.Store.SetPaymentIntent(ctx, rideID, pi); err != nil {
		s.log().Warn("payment intent not recorded", "ride_id", rideID, "error", err)
	}
}

func (s *Service) settleFare(ctx context.Context, rideID string) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return
	}
	if err := s.Store.SetActualFare(ctx, rideID, r.EstimatedFare); err != nil {
		s.log().Warn("actual fare not recorded", "ride_id", rideID, "error", err)
	}
	if s.Payments != nil && r.PaymentIntentID != nil {
		if err := s.Payments.Capture(ctx, *r.PaymentIntentID); err != nil {
			s.log().Warn("fare capture failed", "ride_id", rideID, "error", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, ev models.RideEvent) {
	if s.Feed == nil {
		return
	}
	if err := s.Feed.PublishRideEvent(ctx, ev); err != nil {
		s.log().Warn("ride event not published", "ride_id", ev.RideID, "error", err)
	}
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
