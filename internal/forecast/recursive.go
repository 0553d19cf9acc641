// Package forecast implements recursive multi-step forecasting, business-day
// indexing, and residual-based confidence bands.
package forecast

import (
	"errors"
	"fmt"
	"time"
)

// Predictor produces the next scaled value from a window of scaled history.
type Predictor interface {
	Predict(window []float64) (float64, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(window []float64) (float64, error)

func (f PredictorFunc) Predict(window []float64) (float64, error) { return f(window) }

// NextWindow returns a new window with the oldest value dropped and
// prediction appended. The input is never modified.
func NextWindow(window []float64, prediction float64) []float64 {
	if len(window) == 0 {
		return nil
	}
	next := make([]float64, len(window))
	copy(next, window[1:])
	next[len(next)-1] = prediction
	return next
}

// Recursive forecasts n steps ahead from seed. Each prediction is fed back
// into the window for the following step, so steps run strictly in order.
func Recursive(p Predictor, seed []float64, n int) ([]float64, error) {
	if len(seed) == 0 {
		return nil, errors.New("seed window must not be empty")
	}
	if n < 0 {
		return nil, fmt.Errorf("horizon must not be negative, got %d", n)
	}
	preds := make([]float64, 0, n)
	window := append([]float64(nil), seed...)
	for step := 0; step < n; step++ {
		next, err := p.Predict(window)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		preds = append(preds, next)
		window = NextWindow(window, next)
	}
	return preds, nil
}

// BusinessDays returns n consecutive weekdays starting the day after last.
// Only weekends are skipped; exchange holidays are not modelled.
func BusinessDays(last time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location())
	for len(out) < n {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}
