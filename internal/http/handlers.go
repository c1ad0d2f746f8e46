package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-hail/internal/candidates"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/rides"
	"github.com/example/ride-hail/internal/storage"
)

const (
	pendingRidesLimit = 10
	rideHistoryLimit  = 20
)

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	var origin *candidates.Origin
	latParam, lngParam := q.Get("lat"), q.Get("lng")
	if (latParam == "") != (lngParam == "") {
		s.respondError(w, http.StatusBadRequest, "lat and lng must be supplied together", "")
		return
	}
	if latParam != "" {
		lat, errLat := strconv.ParseFloat(latParam, 64)
		lng, errLng := strconv.ParseFloat(lngParam, 64)
		if errLat != nil || errLng != nil {
			s.respondError(w, http.StatusBadRequest, "invalid lat/lng", "")
			return
		}
		origin = &candidates.Origin{Lat: lat, Lng: lng}
	}

	radiusKm := s.cfg.DefaultRadiusKm
	if v := q.Get("radiusKm"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid radiusKm", "")
			return
		}
		radiusKm = parsed
	}

	raw, err := s.store.ListDrivers(r.Context())
	if err != nil {
		s.logger.Error("driver query failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "database query failed", err.Error())
		return
	}
	queryTime := time.Since(start)

	processStart := time.Now()
	res := candidates.Rank(raw, origin, radiusKm)
	processTime := time.Since(processStart)

	observability.CandidateRejections.WithLabelValues("nulls").Add(float64(res.Rejections.Nulls))
	observability.CandidateRejections.WithLabelValues("duplicates").Add(float64(res.Rejections.Duplicates))
	observability.CandidateRejections.WithLabelValues("malformed").Add(float64(res.Rejections.Malformed))

	data := res.Candidates
	if data == nil {
		data = []candidates.Candidate{}
	}
	s.respondJSON(w, http.StatusOK, envelope{
		"success": true,
		"data":    data,
		"count":   len(data),
		"stats":   res.Stats,
		"processing": envelope{
			"queryTime":         fmt.Sprintf("%dms", queryTime.Milliseconds()),
			"processTime":       fmt.Sprintf("%dms", processTime.Milliseconds()),
			"totalTime":         fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
			"duplicatesRemoved": res.Rejections.Duplicates,
			"nullsRemoved":      res.Rejections.Nulls,
			"malformedRemoved":  res.Rejections.Malformed,
		},
		"message": fmt.Sprintf("%d drivers fetched successfully", len(data)),
	})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string    `json:"driverId"`
		Location []float64 `json:"location"` // [lng, lat]
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.DriverID == "" {
		s.respondError(w, http.StatusBadRequest, "missing or invalid driverId", "")
		return
	}
	if len(body.Location) != 2 {
		s.respondError(w, http.StatusBadRequest, "missing required fields or invalid location", "")
		return
	}
	lon, lat := body.Location[0], body.Location[1]
	if !isFinite(lon) || !isFinite(lat) {
		s.respondError(w, http.StatusBadRequest, "location values must be valid numbers", "")
		return
	}

	if err := s.store.UpdateLocation(r.Context(), body.DriverID, lon, lat); err != nil {
		s.storeError(w, err)
		return
	}
	// the live index and the ingest pipeline are best-effort side writes
	if err := s.geoIdx.Upsert(r.Context(), geo.Position{DriverID: body.DriverID, Lat: lat, Lon: lon, Online: true}); err != nil {
		s.logger.Warn("geo upsert failed", "driver_id", body.DriverID, "error", err)
	}
	if s.kafka != nil {
		rep := models.LocationReport{DriverID: body.DriverID, Lon: lon, Lat: lat, Online: true, ReportedAt: time.Now()}
		if err := s.kafka.PublishLocation(rep); err != nil {
			s.logger.Warn("location publish failed", "driver_id", body.DriverID, "error", err)
		}
	}
	s.respondJSON(w, http.StatusOK, envelope{"success": true})
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driverId"`
		IsOnline *bool  `json:"isOnline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.DriverID == "" || body.IsOnline == nil {
		s.respondError(w, http.StatusBadRequest, "missing required fields", "")
		return
	}

	if err := s.store.UpdateOnline(r.Context(), body.DriverID, *body.IsOnline); err != nil {
		s.storeError(w, err)
		return
	}
	if *body.IsOnline {
		observability.DriversOnline.Inc()
	} else {
		observability.DriversOnline.Dec()
	}
	s.respondJSON(w, http.StatusOK, envelope{"success": true})
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PassengerID        string    `json:"passenger_id"`
		PassengerName      string    `json:"passenger_name"`
		PickupAddress      string    `json:"pickup_address"`
		PickupCoords       []float64 `json:"pickup_coordinates"`
		DestinationAddress string    `json:"destination_address"`
		DestinationCoords  []float64 `json:"destination_coordinates"`
		EstimatedFare      float64   `json:"estimated_fare"`
		EstimatedDuration  float64   `json:"estimated_duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.PassengerID == "" || body.PassengerName == "" || body.PickupAddress == "" || body.DestinationAddress == "" {
		s.respondError(w, http.StatusBadRequest, "missing required fields", "")
		return
	}
	if body.PickupCoords == nil {
		body.PickupCoords = []float64{0, 0}
	}
	if body.DestinationCoords == nil {
		body.DestinationCoords = []float64{0, 0}
	}

	ride, err := s.rides.Request(r.Context(), rides.RequestInput{
		PassengerID:        body.PassengerID,
		PassengerName:      body.PassengerName,
		PickupAddress:      body.PickupAddress,
		PickupCoords:       body.PickupCoords,
		DestinationAddress: body.DestinationAddress,
		DestinationCoords:  body.DestinationCoords,
		EstimatedFare:      body.EstimatedFare,
		EstimatedDuration:  body.EstimatedDuration,
	})
	if err != nil {
		s.logger.Error("ride creation failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "could not create ride", err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, envelope{"success": true, "rideId": ride.ID})
}

func (s *Server) handleRideAccept(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RideID     string `json:"rideId"`
		DriverID   string `json:"driverId"`
		DriverName string `json:"driverName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.RideID == "" || body.DriverID == "" || body.DriverName == "" {
		s.respondError(w, http.StatusBadRequest, "missing required fields", "")
		return
	}

	err := s.rides.Accept(r.Context(), body.RideID, body.DriverID, body.DriverName)
	if errors.Is(err, storage.ErrRideUnavailable) {
		// the normal outcome for the losing side of the claim race
		s.respondError(w, http.StatusConflict, "ride no longer available", "")
		return
	}
	if err != nil {
		s.logger.Error("ride accept failed", "ride_id", body.RideID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to accept ride", err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, envelope{"success": true})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RideID string `json:"rideId"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.RideID == "" || body.Status == "" {
		s.respondError(w, http.StatusBadRequest, "missing required fields", "")
		return
	}

	err := s.rides.UpdateStatus(r.Context(), body.RideID, body.Status)
	switch {
	case errors.Is(err, rides.ErrInvalidStatus):
		s.respondError(w, http.StatusBadRequest, "invalid status", "")
	case errors.Is(err, storage.ErrInvalidTransition):
		s.respondError(w, http.StatusConflict, "status transition not allowed", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "ride not found", "")
	case err != nil:
		s.logger.Error("status update failed", "ride_id", body.RideID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to update status", err.Error())
	default:
		s.respondJSON(w, http.StatusOK, envelope{"success": true})
	}
}

func (s *Server) handleRideCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RideID string `json:"rideId"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.RideID == "" {
		s.respondError(w, http.StatusBadRequest, "missing required fields", "")
		return
	}

	err := s.rides.Cancel(r.Context(), body.RideID, body.Reason)
	switch {
	case errors.Is(err, storage.ErrInvalidTransition):
		s.respondError(w, http.StatusConflict, "ride can no longer be cancelled", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "ride not found", "")
	case err != nil:
		s.logger.Error("ride cancel failed", "ride_id", body.RideID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to cancel ride", err.Error())
	default:
		s.respondJSON(w, http.StatusOK, envelope{"success": true})
	}
}

func (s *Server) handleNearbyRides(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("driverId") == "" {
		s.respondError(w, http.StatusBadRequest, "driver ID is required", "")
		return
	}
	list, err := s.rides.Pending(r.Context(), pendingRidesLimit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "database query failed", err.Error())
		return
	}
	if list == nil {
		list = []*models.Ride{}
	}
	s.respondJSON(w, http.StatusOK, envelope{"success": true, "rides": list})
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, "user ID is required", "")
		return
	}
	userType := q.Get("userType")
	if userType != "driver" {
		userType = "passenger"
	}
	list, err := s.rides.History(r.Context(), userID, userType, rideHistoryLimit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "database query failed", err.Error())
		return
	}
	if list == nil {
		list = []*models.Ride{}
	}
	s.respondJSON(w, http.StatusOK, envelope{"success": true, "rides": list})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleRideWS(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	unsubscribe := s.hub.Subscribe(rideID, conn)
	defer unsubscribe()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.wsreg.Add(driverID, conn)
	defer s.wsreg.Remove(driverID)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "record not found", "")
		return
	}
	s.logger.Error("store write failed", "error", err)
	s.respondError(w, http.StatusInternalServerError, "database update failed", err.Error())
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
