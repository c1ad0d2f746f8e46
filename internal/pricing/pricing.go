package pricing

import "math"

// Estimator computes a fare quote from trip distance and duration.
// Rates are currency units; the result is rounded to cents.
type Estimator struct {
	Base      float64
	PerKm     float64
	PerMinute float64
}

func Default() Estimator {
	return Estimator{Base: 25.0, PerKm: 8.5, PerMinute: 1.5}
}

func (e Estimator) Estimate(distanceKm, durationSec float64) float64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	if durationSec < 0 {
		durationSec = 0
	}
	total := e.Base + e.PerKm*distanceKm + e.PerMinute*durationSec/60
	if total < e.Base {
		total = e.Base
	}
	return math.Round(total*100) / 100
}
