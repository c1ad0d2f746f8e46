package rides

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/pricing"
	"github.com/example/ride-hail/internal/storage"
)

type fakeFeed struct{ events []models.RideEvent }

func (f *fakeFeed) PublishRideEvent(_ context.Context, ev models.RideEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeNotifier struct{ offers map[string]models.RideOffer }

func (f *fakeNotifier) OfferRide(driverID string, offer models.RideOffer) error {
	if f.offers == nil {
		f.offers = make(map[string]models.RideOffer)
	}
	f.offers[driverID] = offer
	return nil
}

type fakePayments struct {
	held     []int64
	captured []string
	released []string
}

func (f *fakePayments) Hold(_ context.Context, amount int64, _, _ string) (string, error) {
	f.held = append(f.held, amount)
	return "pi_test", nil
}

func (f *fakePayments) Capture(_ context.Context, id string) error {
	f.captured = append(f.captured, id)
	return nil
}

func (f *fakePayments) Cancel(_ context.Context, id string) error {
	f.released = append(f.released, id)
	return nil
}

func newService(store storage.RideStore) *Service {
	return &Service{
		Store:            store,
		Pricing:          pricing.Default(),
		DefaultSpeedMps:  10,
		DispatchRadiusKm: 5,
		DispatchTopN:     8,
		Currency:         "mxn",
	}
}

func TestRequestFillsEstimates(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	f := &fakeFeed{}
	s.Feed = f

	r, err := s.Request(context.Background(), RequestInput{
		PassengerID:        "p1",
		PassengerName:      "Pia",
		PickupAddress:      "Centro",
		PickupCoords:       []float64{-99.10, 19.40},
		DestinationAddress: "Roma",
		DestinationCoords:  []float64{-99.16, 19.42},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusPending {
		t.Fatalf("new ride must be pending, got %s", r.Status)
	}
	if r.EstimatedDuration <= 0 || r.EstimatedFare <= 0 {
		t.Fatalf("estimates not filled: fare=%f duration=%f", r.EstimatedFare, r.EstimatedDuration)
	}
	if len(f.events) != 1 || f.events[0].Type != "insert" {
		t.Fatalf("expected one insert event, got %+v", f.events)
	}
	if _, err := store.GetRide(context.Background(), r.ID); err != nil {
		t.Fatalf("ride not persisted: %v", err)
	}
}

func TestRequestKeepsCallerEstimates(t *testing.T) {
	s := newService(storage.NewMemoryStore())
	r, err := s.Request(context.Background(), RequestInput{
		PassengerID:       "p1",
		PassengerName:     "Pia",
		PickupCoords:      []float64{-99.10, 19.40},
		DestinationCoords: []float64{-99.16, 19.42},
		EstimatedFare:     120,
		EstimatedDuration: 900,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.EstimatedFare != 120 || r.EstimatedDuration != 900 {
		t.Fatalf("caller estimates overwritten: %+v", r)
	}
}

func TestRequestOffersNearbyDrivers(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	idx := geo.NewMemoryIndex()
	_ = idx.Upsert(context.Background(), geo.Position{DriverID: "d1", Lat: 19.401, Lon: -99.101, Online: true})
	_ = idx.Upsert(context.Background(), geo.Position{DriverID: "d2", Lat: 40.0, Lon: -74.0, Online: true})
	n := &fakeNotifier{}
	s.Geo = idx
	s.Notify = n

	_, err := s.Request(context.Background(), RequestInput{
		PassengerID:       "p1",
		PassengerName:     "Pia",
		PickupCoords:      []float64{-99.10, 19.40},
		DestinationCoords: []float64{-99.16, 19.42},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.offers["d1"]; !ok {
		t.Fatal("nearby driver d1 should get an offer")
	}
	if _, ok := n.offers["d2"]; ok {
		t.Fatal("far-away driver d2 must not get an offer")
	}
}

func TestAcceptWinsOnceAndHoldsFare(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	p := &fakePayments{}
	s.Payments = p

	r, _ := s.Request(context.Background(), RequestInput{
		PassengerID:       "p1",
		PassengerName:     "Pia",
		PickupCoords:      []float64{-99.10, 19.40},
		DestinationCoords: []float64{-99.16, 19.42},
	})

	if err := s.Accept(context.Background(), r.ID, "d1", "Ana"); err != nil {
		t.Fatalf("first accept should win: %v", err)
	}
	err := s.Accept(context.Background(), r.ID, "d2", "Luis")
	if !errors.Is(err, storage.ErrRideUnavailable) {
		t.Fatalf("loser must see ErrRideUnavailable, got %v", err)
	}

	got, _ := store.GetRide(context.Background(), r.ID)
	if got.DriverID == nil || *got.DriverID != "d1" {
		t.Fatalf("driver must stay d1: %v", got.DriverID)
	}
	if len(p.held) != 1 {
		t.Fatalf("expected one fare hold, got %d", len(p.held))
	}
	if got.PaymentIntentID == nil || *got.PaymentIntentID != "pi_test" {
		t.Fatalf("payment intent not recorded: %+v", got)
	}
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	r, _ := s.Request(context.Background(), RequestInput{PassengerID: "p1", PassengerName: "Pia"})

	err := s.UpdateStatus(context.Background(), r.ID, "bogus")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	got, _ := store.GetRide(context.Background(), r.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("status must be untouched, got %s", got.Status)
	}
}

func TestCompleteCapturesFare(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	p := &fakePayments{}
	s.Payments = p

	r, _ := s.Request(context.Background(), RequestInput{
		PassengerID:       "p1",
		PassengerName:     "Pia",
		PickupCoords:      []float64{-99.10, 19.40},
		DestinationCoords: []float64{-99.16, 19.42},
	})
	_ = s.Accept(context.Background(), r.ID, "d1", "Ana")
	if err := s.UpdateStatus(context.Background(), r.ID, "in-progress"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(context.Background(), r.ID, "completed"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetRide(context.Background(), r.ID)
	if got.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}
	if got.ActualFare == nil || *got.ActualFare != got.EstimatedFare {
		t.Fatalf("actual fare not settled: %+v", got)
	}
	if len(p.captured) != 1 {
		t.Fatalf("expected one capture, got %d", len(p.captured))
	}
}

func TestUpdateStatusCannotSkipSteps(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	r, _ := s.Request(context.Background(), RequestInput{PassengerID: "p1", PassengerName: "Pia"})

	err := s.UpdateStatus(context.Background(), r.ID, "completed")
	if !errors.Is(err, storage.ErrInvalidTransition) {
		t.Fatalf("pending -> completed must fail, got %v", err)
	}
}

func TestCancelReleasesHold(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	p := &fakePayments{}
	s.Payments = p
	f := &fakeFeed{}
	s.Feed = f

	r, _ := s.Request(context.Background(), RequestInput{
		PassengerID:       "p1",
		PassengerName:     "Pia",
		PickupCoords:      []float64{-99.10, 19.40},
		DestinationCoords: []float64{-99.16, 19.42},
	})
	_ = s.Accept(context.Background(), r.ID, "d1", "Ana")
	if err := s.Cancel(context.Background(), r.ID, "no longer needed"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetRide(context.Background(), r.ID)
	if got.Status != models.StatusCancelled || got.CancellationReason == nil {
		t.Fatalf("cancel not recorded: %+v", got)
	}
	if len(p.released) != 1 {
		t.Fatalf("expected hold release, got %d", len(p.released))
	}
	last := f.events[len(f.events)-1]
	if last.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled event last, got %+v", last)
	}
}

func TestCancelDefaultsReason(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store)
	r, _ := s.Request(context.Background(), RequestInput{PassengerID: "p1", PassengerName: "Pia"})
	if err := s.UpdateStatus(context.Background(), r.ID, "cancelled"); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetRide(context.Background(), r.ID)
	if got.CancellationReason == nil || *got.CancellationReason == "" {
		t.Fatal("cancellation reason should default")
	}
	if got.CancelledAt == nil {
		t.Fatal("cancelled_at not stamped")
	}
}
