package forecast

import (
	"errors"
	"math"
	"testing"
	"time"
)

// recorder returns a fixed value and keeps a copy of every window it saw.
type recorder struct {
	value   float64
	windows [][]float64
}

func (r *recorder) Predict(window []float64) (float64, error) {
	r.windows = append(r.windows, append([]float64(nil), window...))
	return r.value + float64(len(r.windows)-1), nil
}

func TestNextWindowIsPure(t *testing.T) {
	w := []float64{1, 2, 3}
	next := NextWindow(w, 9)
	if w[0] != 1 || w[1] != 2 || w[2] != 3 {
		t.Errorf("input mutated: %v", w)
	}
	want := []float64{2, 3, 9}
	for i := range want {
		if next[i] != want[i] {
			t.Fatalf("NextWindow = %v, want %v", next, want)
		}
	}
	if NextWindow(nil, 1) != nil {
		t.Error("empty window should stay empty")
	}
}

func TestRecursiveWindowTransitions(t *testing.T) {
	seed := []float64{0.1, 0.2, 0.3, 0.4}
	r := &recorder{value: 10}
	const n = 6

	preds, err := Recursive(r, seed, n)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != n {
		t.Fatalf("got %d predictions, want %d", len(preds), n)
	}
	for k, window := range r.windows {
		// window k = seed[k:] ++ preds[:k], keeping only the last len(seed) values
		full := append(append([]float64(nil), seed...), preds[:k]...)
		want := full[len(full)-len(seed):]
		for i := range want {
			if window[i] != want[i] {
				t.Fatalf("window %d = %v, want %v", k, window, want)
			}
		}
	}
	if seed[0] != 0.1 {
		t.Error("seed window was mutated")
	}
}

func TestRecursiveConstantStub(t *testing.T) {
	stub := PredictorFunc(func([]float64) (float64, error) { return 0.5, nil })
	preds, err := Recursive(stub, []float64{1, 1}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range preds {
		if p != 0.5 {
			t.Fatalf("preds = %v", preds)
		}
	}
}

func TestRecursiveErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := PredictorFunc(func([]float64) (float64, error) { return 0, boom })
	if _, err := Recursive(failing, []float64{1}, 2); !errors.Is(err, boom) {
		t.Errorf("expected wrapped predictor error, got %v", err)
	}
	if _, err := Recursive(failing, nil, 2); err == nil {
		t.Error("expected error for empty seed")
	}
	preds, err := Recursive(failing, []float64{1}, 0)
	if err != nil || len(preds) != 0 {
		t.Errorf("zero horizon should return no predictions, got %v %v", preds, err)
	}
}

func TestBusinessDays(t *testing.T) {
	friday := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	days := BusinessDays(friday, 6)
	want := []string{"2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12", "2024-01-15"}
	if len(days) != len(want) {
		t.Fatalf("got %d days", len(days))
	}
	for i, d := range days {
		if d.Format(time.DateOnly) != want[i] {
			t.Errorf("day %d = %s, want %s", i, d.Format(time.DateOnly), want[i])
		}
	}
	wednesday := time.Date(2024, 1, 3, 16, 30, 0, 0, time.UTC)
	if got := BusinessDays(wednesday, 1)[0].Format(time.DateOnly); got != "2024-01-04" {
		t.Errorf("next business day after Wednesday = %s", got)
	}
}

func TestConfidenceBandSymmetricAndFlat(t *testing.T) {
	values := []float64{100, 101.5, 99, 104}
	residuals := []float64{1, -1, 2, -2, 0}
	sigma, err := ResidualStd(residuals)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(sigma-math.Sqrt(2)) > 1e-12 {
		t.Fatalf("sigma = %v, want sqrt(2)", sigma)
	}
	lower, upper := ConfidenceBand(values, sigma, DefaultZ)
	for i, v := range values {
		up := upper[i] - v
		down := v - lower[i]
		if math.Abs(up-down) > 1e-9 || math.Abs(up-DefaultZ*sigma) > 1e-9 {
			t.Errorf("point %d: band +%v/-%v, want %v", i, up, down, DefaultZ*sigma)
		}
	}
}

func TestResidualStdEmpty(t *testing.T) {
	if _, err := ResidualStd([]float64{math.NaN()}); err == nil {
		t.Error("expected error with no usable residuals")
	}
	if _, err := Residuals([]float64{1}, nil); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestBuildPositionalFallback(t *testing.T) {
	idx := BusinessDays(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), 2)
	f := Build("lstm", []float64{1, 2, 3}, idx, nil, nil)
	if !f.Positional {
		t.Error("short index should produce a positional forecast")
	}
	if !f.Points[0].Time.IsZero() || f.Points[0].HasBand {
		t.Error("positional points carry no time or band")
	}

	f = Build("lstm", []float64{1, 2}, idx, []float64{0, 1}, []float64{2, 3})
	if f.Positional || !f.Points[1].HasBand || f.Points[1].Upper != 3 {
		t.Errorf("unexpected forecast %+v", f)
	}
}

func TestTrend(t *testing.T) {
	up := Build("x", []float64{100, 105, 110}, nil, nil, nil)
	s := Trend(up)
	if s.Direction != "Upward" || math.Abs(s.PctChange-10) > 1e-9 {
		t.Errorf("Trend = %+v", s)
	}
	down := Build("x", []float64{100, 90}, nil, nil, nil)
	if Trend(down).Direction != "Downward" {
		t.Error("expected Downward")
	}
	if Trend(Build("x", nil, nil, nil, nil)) != (TrendSummary{}) {
		t.Error("empty forecast should give zero summary")
	}
}

func TestWelfordMatchesTwoPass(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	var w Welford
	for _, x := range xs {
		w.Update(x)
	}
	if w.Mean != 5 {
		t.Errorf("mean = %v", w.Mean)
	}
	if math.Abs(w.PopStdDev()-2) > 1e-12 {
		t.Errorf("population std = %v, want 2", w.PopStdDev())
	}
	if math.Abs(w.StdDev()-math.Sqrt(32.0/7)) > 1e-12 {
		t.Errorf("sample std = %v", w.StdDev())
	}
}
