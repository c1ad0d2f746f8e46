package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-hail/internal/config"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/storage"
)

func testServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	cfg := config.ServerConfig{
		DefaultRadiusKm:  1,
		DispatchRadiusKm: 5,
		DispatchTopN:     8,
		DefaultSpeedMps:  10,
		ETACacheTTL:      time.Second,
		FeedPollInterval: 4 * time.Second,
		Currency:         "mxn",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	return s, s.store.(*storage.MemoryStore)
}

func seedDriver(store *storage.MemoryStore, id, name string, lon, lat float64) {
	loc, _ := json.Marshal(models.NewGeoPoint(lon, lat))
	online := true
	store.SeedDriver(&models.RawDriver{ID: id, Name: &name, Online: &online, Location: loc})
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestListDriversNearby(t *testing.T) {
	s, store := testServer(t)
	seedDriver(store, "d1", "Ana", -99.10, 19.40)
	seedDriver(store, "d3", "Luis", -99.105, 19.405)
	empty := ""
	store.SeedDriver(&models.RawDriver{ID: "d2", Name: &empty})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/drivers?lat=19.40&lng=-99.10&radiusKm=2", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
		Data    []struct {
			ID         string   `json:"id"`
			DistanceKm *float64 `json:"distance_km"`
		} `json:"data"`
		Stats struct {
			Total int `json:"total"`
		} `json:"stats"`
		Processing struct {
			NullsRemoved int `json:"nullsRemoved"`
		} `json:"processing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Count != 2 || resp.Stats.Total != 2 {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
	if resp.Data[0].ID != "d1" || resp.Data[1].ID != "d3" {
		t.Fatalf("wrong order: %+v", resp.Data)
	}
	if *resp.Data[0].DistanceKm != 0 {
		t.Fatalf("d1 should be at distance 0, got %v", *resp.Data[0].DistanceKm)
	}
	if resp.Processing.NullsRemoved < 1 {
		t.Fatalf("empty-name driver should be counted: %s", rec.Body.String())
	}
}

func TestListDriversValidation(t *testing.T) {
	s, _ := testServer(t)
	for _, path := range []string{
		"/api/v1/drivers?lat=19.4",
		"/api/v1/drivers?lat=abc&lng=-99.1",
		"/api/v1/drivers?lat=19.4&lng=-99.1&radiusKm=zero",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestListDriversWithoutOriginKeepsOrder(t *testing.T) {
	s, store := testServer(t)
	seedDriver(store, "older", "Ana", -99.10, 19.40)
	seedDriver(store, "newer", "Luis", -99.105, 19.405)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/drivers", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp struct {
		Data []struct {
			ID         string   `json:"id"`
			DistanceKm *float64 `json:"distance_km"`
		} `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Data) != 2 || resp.Data[0].ID != "newer" {
		t.Fatalf("expected store order (newest first): %s", rec.Body.String())
	}
	if resp.Data[0].DistanceKm != nil {
		t.Fatal("distance must be null without an origin")
	}
}

func TestDriverLocationValidation(t *testing.T) {
	s, _ := testServer(t)
	cases := []any{
		map[string]any{"location": []float64{-99.1, 19.4}},
		map[string]any{"driverId": "d1"},
		map[string]any{"driverId": "d1", "location": []float64{-99.1}},
	}
	for i, body := range cases {
		if rec := postJSON(t, s, "/api/v1/drivers/location", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rec.Code)
		}
	}
}

func TestDriverLocationUpdates(t *testing.T) {
	s, store := testServer(t)
	seedDriver(store, "d1", "Ana", 0, 0)

	rec := postJSON(t, s, "/api/v1/drivers/location", map[string]any{
		"driverId": "d1",
		"location": []float64{-99.10, 19.40},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	drivers, _ := store.ListDrivers(context.Background())
	var loc models.GeoPoint
	_ = json.Unmarshal(drivers[0].Location, &loc)
	if loc.Coordinates[0] != -99.10 || loc.Coordinates[1] != 19.40 {
		t.Fatalf("location not stored: %+v", loc)
	}

	near, _ := s.geoIdx.Nearby(context.Background(), 19.40, -99.10, 1, 5)
	if len(near) != 1 || near[0].DriverID != "d1" {
		t.Fatalf("geo index not updated: %+v", near)
	}
}

func TestDriverStatusEndpoint(t *testing.T) {
	s, store := testServer(t)
	seedDriver(store, "d1", "Ana", 0, 0)

	if rec := postJSON(t, s, "/api/v1/drivers/status", map[string]any{"driverId": "d1"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing isOnline should 400, got %d", rec.Code)
	}
	rec := postJSON(t, s, "/api/v1/drivers/status", map[string]any{"driverId": "d1", "isOnline": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	drivers, _ := store.ListDrivers(context.Background())
	if drivers[0].Online == nil || *drivers[0].Online {
		t.Fatal("online flag not persisted")
	}
}

func TestRideRequestValidation(t *testing.T) {
	s, _ := testServer(t)
	rec := postJSON(t, s, "/api/v1/rides/request", map[string]any{"passenger_id": "p1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func createRide(t *testing.T, s *Server) string {
	t.Helper()
	rec := postJSON(t, s, "/api/v1/rides/request", map[string]any{
		"passenger_id":            "p1",
		"passenger_name":          "Pia",
		"pickup_address":          "Centro",
		"pickup_coordinates":      []float64{-99.10, 19.40},
		"destination_address":     "Roma",
		"destination_coordinates": []float64{-99.16, 19.42},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("request failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RideID string `json:"rideId"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.RideID == "" {
		t.Fatalf("no rideId in response: %s", rec.Body.String())
	}
	return resp.RideID
}

func TestRideAcceptRace(t *testing.T) {
	s, store := testServer(t)
	rideID := createRide(t, s)

	first := postJSON(t, s, "/api/v1/rides/accept", map[string]any{
		"rideId": rideID, "driverId": "d1", "driverName": "Ana",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first accept: %d %s", first.Code, first.Body.String())
	}
	second := postJSON(t, s, "/api/v1/rides/accept", map[string]any{
		"rideId": rideID, "driverId": "d2", "driverName": "Luis",
	})
	if second.Code != http.StatusConflict {
		t.Fatalf("loser should see 409, got %d: %s", second.Code, second.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(second.Body.Bytes(), &resp)
	if resp.Error != "ride no longer available" {
		t.Fatalf("loser needs a distinct message, got %q", resp.Error)
	}

	ride, _ := store.GetRide(context.Background(), rideID)
	if ride.DriverID == nil || *ride.DriverID != "d1" {
		t.Fatalf("ride must belong to d1: %+v", ride)
	}
}

func TestRideAcceptMissingFields(t *testing.T) {
	s, _ := testServer(t)
	rec := postJSON(t, s, "/api/v1/rides/accept", map[string]any{"rideId": "r1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRideStatusRejectsUnknown(t *testing.T) {
	s, store := testServer(t)
	rideID := createRide(t, s)

	rec := postJSON(t, s, "/api/v1/rides/status", map[string]any{"rideId": rideID, "status": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus status, got %d", rec.Code)
	}
	ride, _ := store.GetRide(context.Background(), rideID)
	if ride.Status != models.StatusPending {
		t.Fatalf("status must be unchanged, got %s", ride.Status)
	}
}

func TestRideStatusIllegalTransition(t *testing.T) {
	s, _ := testServer(t)
	rideID := createRide(t, s)

	rec := postJSON(t, s, "/api/v1/rides/status", map[string]any{"rideId": rideID, "status": "completed"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("pending -> completed should 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRideCancelEndpoint(t *testing.T) {
	s, store := testServer(t)
	rideID := createRide(t, s)

	rec := postJSON(t, s, "/api/v1/rides/cancel", map[string]any{"rideId": rideID, "reason": "changed plans"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d %s", rec.Code, rec.Body.String())
	}
	ride, _ := store.GetRide(context.Background(), rideID)
	if ride.Status != models.StatusCancelled || ride.CancellationReason == nil {
		t.Fatalf("cancel not recorded: %+v", ride)
	}
}

func TestNearbyRidesRequiresDriverID(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rides/nearby", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	createRide(t, s)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rides/nearby?driverId=d1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Rides []models.Ride `json:"rides"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Rides) != 1 || resp.Rides[0].Status != models.StatusPending {
		t.Fatalf("expected one pending ride: %s", rec.Body.String())
	}
}

func TestRideHistoryEndpoint(t *testing.T) {
	s, _ := testServer(t)
	rideID := createRide(t, s)
	_ = postJSON(t, s, "/api/v1/rides/accept", map[string]any{
		"rideId": rideID, "driverId": "d7", "driverName": "Ana",
	})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rides/history?userId=d7&userType=driver", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Rides []models.Ride `json:"rides"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Rides) != 1 || resp.Rides[0].ID != rideID {
		t.Fatalf("driver history wrong: %s", rec.Body.String())
	}
}
