package models

import "time"

// ForecastPoint is one predicted value with an optional confidence band.
type ForecastPoint struct {
	Time    time.Time `json:"time"`
	Value   float64   `json:"value"`
	Lower   float64   `json:"lower,omitempty"`
	Upper   float64   `json:"upper,omitempty"`
	HasBand bool      `json:"has_band"`
}

// Forecast is an ordered sequence of future predictions.
// Positional is set when no usable date index was available and Time is zero.
type Forecast struct {
	Model      string          `json:"model"`
	Points     []ForecastPoint `json:"points"`
	Positional bool            `json:"positional,omitempty"`
}

// Values returns the point predictions in order.
func (f Forecast) Values() []float64 {
	out := make([]float64, len(f.Points))
	for i, p := range f.Points {
		out[i] = p.Value
	}
	return out
}

// Series converts the forecast into a time series for timestamp alignment.
func (f Forecast) Series() TimeSeries {
	out := make(TimeSeries, len(f.Points))
	for i, p := range f.Points {
		out[i] = Point{Time: p.Time, Value: p.Value}
	}
	return out
}
