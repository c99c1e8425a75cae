package chessbook

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBins is the number of histogram buckets reported by Stats.
const DefaultBins = 20

// Bucket counts the scores in [Low, High).
type Bucket struct {
	Low   float64
	High  float64
	Count int
}

// Distribution summarizes a set of quality scores.
type Distribution struct {
	Count   int
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
	Buckets []Bucket
}

// NewDistribution summarizes scores into bins equal-width buckets spanning
// [min, max]. The last bucket includes max.
func NewDistribution(scores []float64, bins int) Distribution {
	if len(scores) == 0 {
		return Distribution{}
	}
	if bins < 1 {
		bins = 1
	}
	x := append([]float64(nil), scores...)
	sort.Float64s(x)

	d := Distribution{
		Count: len(x),
		Min:   x[0],
		Max:   x[len(x)-1],
	}
	d.Mean, d.StdDev = stat.PopMeanStdDev(x, nil)

	if d.Min == d.Max {
		bins = 1
	}
	dividers := make([]float64, bins+1)
	if bins == 1 {
		dividers[0] = d.Min
	} else {
		floats.Span(dividers, d.Min, d.Max)
	}
	// Histogram buckets are half-open; nudge the top edge past max.
	dividers[bins] = math.Nextafter(d.Max, math.Inf(1))

	counts := stat.Histogram(nil, dividers, x, nil)
	d.Buckets = make([]Bucket, bins)
	for i := range d.Buckets {
		d.Buckets[i] = Bucket{Low: dividers[i], High: dividers[i+1], Count: int(counts[i])}
	}
	return d
}
