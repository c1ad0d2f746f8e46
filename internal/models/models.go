package models

import (
	"encoding/json"
	"time"
)

// VehicleUnspecified is the sentinel stored in place of missing vehicle
// plate/model values so downstream consumers never see null there.
const VehicleUnspecified = "unspecified"

// GeoPoint is a GeoJSON Point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func NewGeoPoint(lon, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Lon and Lat assume a well-formed two-element coordinate pair; callers
// validating raw input must check len(Coordinates) first.
func (p *GeoPoint) Lon() float64 { return p.Coordinates[0] }
func (p *GeoPoint) Lat() float64 { return p.Coordinates[1] }

// RawDriver is a driver row as it comes off the store, before validation.
// Optional columns stay pointers and the location stays raw JSON so the
// candidate parser can classify missing vs malformed data itself.
type RawDriver struct {
	ID            string          `json:"id"`
	Name          *string         `json:"name"`
	Email         *string         `json:"email"`
	Phone         *string         `json:"phone"`
	LicenseNumber *string         `json:"license_number"`
	VehiclePlate  *string         `json:"vehicle_plate"`
	VehicleModel  *string         `json:"vehicle_model"`
	VehicleYear   *int            `json:"vehicle_year"`
	Verified      *bool           `json:"is_verified"`
	Online        *bool           `json:"is_online"`
	Rating        *float64        `json:"rating"`
	TotalTrips    *int            `json:"total_trips"`
	Location      json.RawMessage `json:"current_location"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Driver is a validated, normalized driver record.
type Driver struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         *string   `json:"email"`
	Phone         *string   `json:"phone"`
	LicenseNumber *string   `json:"license_number"`
	VehiclePlate  string    `json:"vehicle_plate"`
	VehicleModel  string    `json:"vehicle_model"`
	VehicleYear   *int      `json:"vehicle_year"`
	Verified      bool      `json:"is_verified"`
	Online        bool      `json:"is_online"`
	Rating        float64   `json:"rating"`
	TotalTrips    int       `json:"total_trips"`
	Location      *GeoPoint `json:"current_location"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type RideStatus string

const (
	StatusPending    RideStatus = "pending"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in-progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

func (s RideStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AllowedFrom returns the statuses a ride may hold immediately before
// moving to s. The chain is forward-only; cancellation is reachable from
// pending and accepted only.
func (s RideStatus) AllowedFrom() []RideStatus {
	switch s {
	case StatusAccepted:
		return []RideStatus{StatusPending}
	case StatusInProgress:
		return []RideStatus{StatusAccepted}
	case StatusCompleted:
		return []RideStatus{StatusInProgress}
	case StatusCancelled:
		return []RideStatus{StatusPending, StatusAccepted}
	}
	return nil
}

// Ride is a ride record. DriverID/DriverName are nil exactly while the
// ride is pending; once claimed they never change.
type Ride struct {
	ID                 string     `json:"id"`
	PassengerID        string     `json:"passenger_id"`
	PassengerName      string     `json:"passenger_name"`
	DriverID           *string    `json:"driver_id"`
	DriverName         *string    `json:"driver_name"`
	PickupAddress      string     `json:"pickup_address"`
	PickupCoords       []float64  `json:"pickup_coordinates"` // [lon, lat]
	DestinationAddress string     `json:"destination_address"`
	DestinationCoords  []float64  `json:"destination_coordinates"`
	Status             RideStatus `json:"status"`
	EstimatedFare      float64    `json:"estimated_fare"`
	ActualFare         *float64   `json:"actual_fare"`
	EstimatedDuration  float64    `json:"estimated_duration"` // seconds
	PaymentIntentID    *string    `json:"payment_intent_id,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	AcceptedAt         *time.Time `json:"accepted_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason *string    `json:"cancellation_reason"`
}

// LocationReport is a single driver position update flowing through the
// ingest pipeline.
type LocationReport struct {
	DriverID   string    `json:"driver_id"`
	Lon        float64   `json:"lon"`
	Lat        float64   `json:"lat"`
	Online     bool      `json:"online"`
	ReportedAt time.Time `json:"reported_at"`
}

// RideEvent is published on every ride insert or status change.
type RideEvent struct {
	Type     string     `json:"type"` // "insert" or "update"
	RideID   string     `json:"ride_id"`
	Status   RideStatus `json:"status"`
	DriverID *string    `json:"driver_id,omitempty"`
	At       time.Time  `json:"at"`
}

// RideOffer is pushed to a driver when a nearby ride comes in.
type RideOffer struct {
	RideID        string  `json:"ride_id"`
	PickupAddress string  `json:"pickup_address"`
	DistanceKm    float64 `json:"distance_km"`
	EstimatedFare float64 `json:"estimated_fare"`
}
