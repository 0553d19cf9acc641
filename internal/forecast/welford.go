package forecast

import "math"

// Welford accumulates a running mean and variance in one pass.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

// Update adds one observation.
func (w *Welford) Update(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// PopStdDev returns the population standard deviation (divisor n).
func (w *Welford) PopStdDev() float64 {
	if w.Count == 0 {
		return math.NaN()
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}

// StdDev returns the sample standard deviation (divisor n-1).
func (w *Welford) StdDev() float64 {
	if w.Count < 2 {
		return math.NaN()
	}
	return math.Sqrt(w.M2 / float64(w.Count-1))
}
