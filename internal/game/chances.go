package game

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

const weightTolerance = 0.01

var minCrash = decimal.NewFromInt(1)

// ChanceRange is a half-open multiplier bucket [From, To) with a percentage weight.
type ChanceRange struct {
	From   decimal.Decimal `json:"from"`
	To     decimal.Decimal `json:"to"`
	Weight float64         `json:"weightPercent"`
}

// Distribution is the ordered set of buckets a crash multiplier is drawn from.
type Distribution []ChanceRange

// DefaultDistribution puts 70% of rounds below 2x.
func DefaultDistribution() Distribution {
	return Distribution{
		{From: decimal.NewFromInt(1), To: decimal.NewFromInt(2), Weight: 70},
		{From: decimal.NewFromInt(2), To: decimal.NewFromInt(5), Weight: 20},
		{From: decimal.NewFromInt(5), To: decimal.NewFromInt(10), Weight: 8},
		{From: decimal.NewFromInt(10), To: decimal.NewFromInt(20), Weight: 2},
	}
}

// Validate accepts d iff every bucket has From < To, no two buckets overlap,
// and the weights add up to 100 within tolerance.
func (d Distribution) Validate() error {
	if len(d) == 0 {
		return ErrInvalidChances.With("at least one range is required")
	}
	for _, r := range d {
		if !r.From.LessThan(r.To) {
			return ErrInvalidChances.With("invalid range: 'from' (%s) must be less than 'to' (%s)", r.From, r.To)
		}
	}

	sorted := make(Distribution, len(d))
	copy(sorted, d)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From.LessThan(sorted[j].From) })
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i].To.GreaterThan(sorted[i+1].From) {
			return ErrInvalidChances.With("overlapping ranges: [%s-%s) and [%s-%s)",
				sorted[i].From, sorted[i].To, sorted[i+1].From, sorted[i+1].To)
		}
	}

	if total := d.totalWeight(); math.Abs(total-100) > weightTolerance {
		return ErrInvalidChances.With("sum of chances must equal 100%%, got %v%%", total)
	}
	return nil
}

func (d Distribution) totalWeight() float64 {
	var total float64
	for _, r := range d {
		total += r.Weight
	}
	return total
}

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Sample draws a crash multiplier in two stages: pick a bucket by weight,
// then a continuous value inside it, rounded to 2 decimal places.
func (d Distribution) Sample(src Source) decimal.Decimal {
	if len(d) == 0 {
		return minCrash
	}
	u := src.Float64() * d.totalWeight()

	var acc float64
	for _, r := range d {
		acc += r.Weight
		if r.Weight > 0 && acc >= u {
			span := r.To.Sub(r.From)
			m := r.From.Add(span.Mul(decimal.NewFromFloat(src.Float64()))).Round(2)
			if m.LessThan(minCrash) {
				return minCrash
			}
			return m
		}
	}

	if d[0].From.LessThan(minCrash) {
		return minCrash
	}
	return d[0].From.Round(2)
}
