// Package models defines the core domain entities: price bars, time series,
// forecasts, and registry run records.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Bar is one row of the market data input contract: one ticker, one trading day.
// Missing numeric columns are NaN; Close is always present.
type Bar struct {
	Date        time.Time `json:"date"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	AdjClose    float64   `json:"adj_close"`
	Volume      float64   `json:"volume"`
	Ticker      string    `json:"ticker"`
	AssetClass  string    `json:"asset_class"`
	RiskProfile string    `json:"risk_profile"`
}

// Field returns the named numeric column of the bar.
func (b *Bar) Field(column string) (float64, error) {
	switch column {
	case "open":
		return b.Open, nil
	case "high":
		return b.High, nil
	case "low":
		return b.Low, nil
	case "close":
		return b.Close, nil
	case "adj_close":
		return b.AdjClose, nil
	case "volume":
		return b.Volume, nil
	default:
		return math.NaN(), fmt.Errorf("unknown column %q: %w", column, ErrConfig)
	}
}

// Validate checks bar field constraints.
func (b *Bar) Validate() error {
	if b.Date.IsZero() {
		return errors.New("bar date must not be zero")
	}
	if b.Ticker == "" {
		return errors.New("bar ticker must not be empty")
	}
	if math.IsNaN(b.Close) {
		return errors.New("bar close must be present")
	}
	if b.Volume < 0 {
		return errors.New("bar volume must not be negative")
	}
	return nil
}

// Point is a single timestamped observation.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// TimeSeries is an ordered sequence of points with strictly increasing timestamps.
type TimeSeries []Point

// Values returns the observation values in order.
func (ts TimeSeries) Values() []float64 {
	out := make([]float64, len(ts))
	for i, p := range ts {
		out[i] = p.Value
	}
	return out
}

// Times returns the timestamps in order.
func (ts TimeSeries) Times() []time.Time {
	out := make([]time.Time, len(ts))
	for i, p := range ts {
		out[i] = p.Time
	}
	return out
}

// First returns the first timestamp, or the zero time for an empty series.
func (ts TimeSeries) First() time.Time {
	if len(ts) == 0 {
		return time.Time{}
	}
	return ts[0].Time
}

// Last returns the last timestamp, or the zero time for an empty series.
func (ts TimeSeries) Last() time.Time {
	if len(ts) == 0 {
		return time.Time{}
	}
	return ts[len(ts)-1].Time
}

// Validate checks that timestamps are strictly increasing.
func (ts TimeSeries) Validate() error {
	for i := 1; i < len(ts); i++ {
		if !ts[i].Time.After(ts[i-1].Time) {
			return fmt.Errorf("timestamps not strictly increasing at index %d (%s <= %s)",
				i, ts[i].Time.Format(time.DateOnly), ts[i-1].Time.Format(time.DateOnly))
		}
	}
	return nil
}
