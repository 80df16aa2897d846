package scoring

import "math"

// StddevMode selects the denominator for the standard deviation.
type StddevMode string

const (
	StddevPopulation StddevMode = "population"
	StddevSample     StddevMode = "sample"
)

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range xs {
		s += v
	}
	return s / float64(len(xs))
}

// Stddev returns the standard deviation of xs. Population mode divides by n,
// sample mode by n-1. Fewer than two values yield 0.
func Stddev(xs []float64, mode StddevMode) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, v := range xs {
		d := v - m
		ss += d * d
	}
	n := float64(len(xs))
	if mode == StddevSample {
		n--
	}
	return math.Sqrt(ss / n)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Round3 rounds to three decimal places, the precision summaries expose.
func Round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
