package game

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Flight curve: m(t) = 1 + t/1.5 + 0.005*t^2, t in seconds.
const (
	curveLinear    = 1 / 1.5
	curveQuadratic = 0.005
)

// MultiplierAt is the displayed multiplier after elapsed flight time,
// truncated to 2 decimal places.
func MultiplierAt(elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return minCrash
	}
	t := elapsed.Seconds()
	m := 1 + t*curveLinear + t*t*curveQuadratic
	return decimal.NewFromFloat(m).Truncate(2)
}

// FlightDuration is how long after liftoff the curve reaches m.
func FlightDuration(m decimal.Decimal) time.Duration {
	x, _ := m.Float64()
	if x <= 1 {
		return 0
	}
	t := (-curveLinear + math.Sqrt(curveLinear*curveLinear+4*curveQuadratic*(x-1))) / (2 * curveQuadratic)
	// pad past float error so MultiplierAt(FlightDuration(m)) >= m
	return time.Duration(t*float64(time.Second)) + 10*time.Millisecond
}
