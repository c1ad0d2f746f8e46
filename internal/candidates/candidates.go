// Package candidates turns raw driver rows into a validated, deduplicated,
// distance-annotated and ranked list of dispatchable drivers.
package candidates

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
)

// Origin is the pickup point a proximity search is anchored on.
type Origin struct {
	Lat float64
	Lng float64
}

// Candidate is a driver eligible for dispatch. DistanceKm is nil when no
// origin was supplied for the search.
type Candidate struct {
	models.Driver
	DistanceKm *float64 `json:"distance_km"`
}

// RejectionStats counts records dropped during the pass. Returned
// explicitly so callers can expose them without shared mutable state.
type RejectionStats struct {
	Nulls      int `json:"nullsRemoved"`
	Duplicates int `json:"duplicatesRemoved"`
	Malformed  int `json:"malformedRemoved"`
}

// Stats are aggregates over the surviving candidates.
type Stats struct {
	Total         int    `json:"total"`
	Verified      int    `json:"verified"`
	Online        int    `json:"online"`
	WithVehicle   int    `json:"withVehicle"`
	AverageRating string `json:"averageRating"`
}

type Result struct {
	Candidates []Candidate
	Stats      Stats
	Rejections RejectionStats
}

type rejectReason int

const (
	rejectNone rejectReason = iota
	rejectNull
	rejectMalformed
	rejectOutOfRange
)

// Rank runs a single validation pass over raw in input order. With an
// origin, drivers without a resolvable location are excluded and the
// output is sorted ascending by distance (stable, so equal distances keep
// input order). Without an origin the input order is preserved.
func Rank(raw []*models.RawDriver, origin *Origin, radiusKm float64) Result {
	var res Result
	seen := make(map[string]struct{}, len(raw))

	for _, rd := range raw {
		if rd == nil || rd.ID == "" || rd.Name == nil || *rd.Name == "" {
			res.Rejections.Nulls++
			continue
		}
		if _, ok := seen[rd.ID]; ok {
			res.Rejections.Duplicates++
			continue
		}
		seen[rd.ID] = struct{}{}

		name := strings.TrimSpace(*rd.Name)
		if name == "" {
			res.Rejections.Malformed++
			continue
		}

		c, why := parse(rd, name, origin, radiusKm)
		switch why {
		case rejectNull:
			res.Rejections.Nulls++
			continue
		case rejectMalformed:
			res.Rejections.Malformed++
			continue
		case rejectOutOfRange:
			// outside the requested radius, not an anomaly
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}

	if origin != nil {
		sort.SliceStable(res.Candidates, func(i, j int) bool {
			return distOrInf(res.Candidates[i].DistanceKm) < distOrInf(res.Candidates[j].DistanceKm)
		})
	}

	res.Stats = aggregate(res.Candidates)
	return res
}

// parse validates and normalizes one record that already passed the
// id/name/duplicate checks.
func parse(rd *models.RawDriver, name string, origin *Origin, radiusKm float64) (Candidate, rejectReason) {
	loc, why := parseLocation(rd.Location)
	if origin != nil {
		if why == rejectMalformed {
			return Candidate{}, rejectMalformed
		}
		if loc == nil {
			// a driver with no known position cannot be matched nearby
			return Candidate{}, rejectNull
		}
	}

	var distance *float64
	if origin != nil && loc != nil {
		d := geo.DistanceKm(origin.Lat, origin.Lng, loc.Lat(), loc.Lon())
		if d > radiusKm {
			return Candidate{}, rejectOutOfRange
		}
		rounded := math.Round(d*100) / 100
		distance = &rounded
	}

	c := Candidate{
		Driver: models.Driver{
			ID:            rd.ID,
			Name:          name,
			Email:         rd.Email,
			Phone:         rd.Phone,
			LicenseNumber: rd.LicenseNumber,
			VehiclePlate:  orUnspecified(rd.VehiclePlate),
			VehicleModel:  orUnspecified(rd.VehicleModel),
			VehicleYear:   rd.VehicleYear,
			Verified:      rd.Verified != nil && *rd.Verified,
			Online:        rd.Online != nil && *rd.Online,
			Rating:        roundRating(rd.Rating),
			TotalTrips:    nonNegative(rd.TotalTrips),
			Location:      loc,
			CreatedAt:     rd.CreatedAt,
			UpdatedAt:     rd.UpdatedAt,
		},
		DistanceKm: distance,
	}
	return c, rejectNone
}

// parseLocation distinguishes an absent location (nil, rejectNull meaning
// "no position") from a present-but-unusable one (rejectMalformed).
func parseLocation(raw json.RawMessage) (*models.GeoPoint, rejectReason) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, rejectNull
	}
	var p struct {
		Type        string        `json:"type"`
		Coordinates []json.Number `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rejectMalformed
	}
	if len(p.Coordinates) < 2 {
		return nil, rejectNull
	}
	lon, err := p.Coordinates[0].Float64()
	if err != nil {
		return nil, rejectMalformed
	}
	lat, err := p.Coordinates[1].Float64()
	if err != nil {
		return nil, rejectMalformed
	}
	return models.NewGeoPoint(lon, lat), rejectNone
}

func aggregate(cands []Candidate) Stats {
	s := Stats{Total: len(cands), AverageRating: "0.00"}
	var sum float64
	for _, c := range cands {
		if c.Verified {
			s.Verified++
		}
		if c.Online {
			s.Online++
		}
		if c.VehicleModel != models.VehicleUnspecified {
			s.WithVehicle++
		}
		sum += c.Rating
	}
	if len(cands) > 0 {
		s.AverageRating = fmt.Sprintf("%.2f", sum/float64(len(cands)))
	}
	return s
}

func orUnspecified(v *string) string {
	if v == nil {
		return models.VehicleUnspecified
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return models.VehicleUnspecified
	}
	return t
}

func roundRating(v *float64) float64 {
	if v == nil {
		return 0
	}
	return math.Round(*v*10) / 10
}

func nonNegative(v *int) int {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}

func distOrInf(d *float64) float64 {
	if d == nil {
		return math.Inf(1)
	}
	return *d
}
