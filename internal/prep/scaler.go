package prep

import (
	"errors"
	"math"
)

// MinMaxScaler maps values linearly onto [0, 1] using bounds fitted on the
// training period. Values outside the fitted range are not clamped.
type MinMaxScaler struct {
	DataMin float64 `json:"data_min"`
	DataMax float64 `json:"data_max"`
	Fitted  bool    `json:"fitted"`
}

// FitMinMax fits a scaler on values. NaNs are ignored.
func FitMinMax(values []float64) (*MinMaxScaler, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return nil, errors.New("cannot fit scaler on empty input")
	}
	return &MinMaxScaler{DataMin: lo, DataMax: hi, Fitted: true}, nil
}

// scale mirrors a zero range to 1 so constant series map to 0.
func (s *MinMaxScaler) scale() float64 {
	r := s.DataMax - s.DataMin
	if r == 0 {
		return 1
	}
	return 1 / r
}

// Transform scales a single value.
func (s *MinMaxScaler) Transform(v float64) float64 {
	return (v - s.DataMin) * s.scale()
}

// Inverse maps a scaled value back to the original units.
func (s *MinMaxScaler) Inverse(v float64) float64 {
	return v/s.scale() + s.DataMin
}

// TransformAll scales values into a new slice.
func (s *MinMaxScaler) TransformAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.Transform(v)
	}
	return out
}

// InverseAll maps scaled values back into a new slice.
func (s *MinMaxScaler) InverseAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.Inverse(v)
	}
	return out
}
