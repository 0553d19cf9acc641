package arima

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/models"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newSeries(t *testing.T, values []float64) models.TimeSeries {
	t.Helper()
	ts := make(models.TimeSeries, len(values))
	for i, v := range values {
		ts[i] = models.Point{Time: base.AddDate(0, 0, i), Value: v}
	}
	return ts
}

func ar1(n int, phi float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	y := make([]float64, n)
	for i := 1; i < n; i++ {
		y[i] = phi*y[i-1] + rng.NormFloat64()
	}
	return y
}

func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	y := make([]float64, n)
	y[0] = 100
	for i := 1; i < n; i++ {
		y[i] = y[i-1] + rng.NormFloat64()
	}
	return y
}

func TestDiffPoly(t *testing.T) {
	tests := []struct {
		name  string
		d, sd int
		m     int
		want  []float64
	}{
		{"none", 0, 0, 1, []float64{1}},
		{"first", 1, 0, 1, []float64{1, -1}},
		{"second", 2, 0, 1, []float64{1, -2, 1}},
		{"seasonal ignored without period", 0, 1, 1, []float64{1}},
		{"seasonal", 0, 1, 4, []float64{1, 0, 0, 0, -1}},
		{"both", 1, 1, 2, []float64{1, -1, -1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffPoly(tt.d, tt.sd, tt.m)
			if len(got) != len(tt.want) {
				t.Fatalf("diffPoly = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("diffPoly = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestFitRecoversAR1(t *testing.T) {
	y := ar1(600, 0.7, 42)

	m, err := fit(y, Order{P: 1})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if len(m.AR) != 1 || m.AR[0].Lag != 1 {
		t.Fatalf("unexpected AR terms: %+v", m.AR)
	}
	if got := m.AR[0].Coef; math.Abs(got-0.7) > 0.1 {
		t.Errorf("phi = %.3f, want about 0.7", got)
	}
	if math.Abs(m.Sigma2-1) > 0.2 {
		t.Errorf("sigma2 = %.3f, want about 1", m.Sigma2)
	}
}

func TestFitWithMovingAverage(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 800
	e := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		e[i] = rng.NormFloat64()
		y[i] = e[i]
		if i > 0 {
			y[i] += 0.5 * e[i-1]
		}
	}

	m, err := fit(y, Order{Q: 1})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if got := m.MA[0].Coef; math.Abs(got-0.5) > 0.15 {
		t.Errorf("theta = %.3f, want about 0.5", got)
	}
}

func TestSelectDForRandomWalk(t *testing.T) {
	if d := selectD(randomWalk(500, 3), 2, 0, 1); d != 1 {
		t.Errorf("selectD = %d, want 1", d)
	}
	if d := selectD(ar1(500, 0.2, 3), 2, 0, 1); d != 0 {
		t.Errorf("selectD on stationary series = %d, want 0", d)
	}
}

func TestPredictIntegratesTrend(t *testing.T) {
	y := make([]float64, 50)
	for i := range y {
		y[i] = 2*float64(i) + 1
	}

	m, err := fit(y, Order{D: 1})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	mean, _, err := m.Predict(3)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i, want := range []float64{101, 103, 105} {
		if math.Abs(mean[i]-want) > 1e-9 {
			t.Errorf("step %d = %v, want %v", i, mean[i], want)
		}
	}
}

func TestBuildStepwiseAndGrid(t *testing.T) {
	train := newSeries(t, ar1(300, 0.3, 11))

	for _, stepwise := range []bool{true, false} {
		hp := DefaultHyperparams()
		hp.MaxP, hp.MaxQ = 2, 2
		hp.Stepwise = stepwise
		hp.Trace = true

		m, err := Build(train, hp)
		if err != nil {
			t.Fatalf("Build(stepwise=%v) failed: %v", stepwise, err)
		}
		if m.Order.P > 2 || m.Order.Q > 2 {
			t.Errorf("order %s exceeds limits", m.Order)
		}
		if m.Order.D != 0 {
			t.Errorf("stationary series selected d=%d", m.Order.D)
		}
	}
}

func TestGridNotWorseThanStepwise(t *testing.T) {
	train := newSeries(t, ar1(300, 0.5, 5))
	hp := DefaultHyperparams()
	hp.D = 0
	hp.MaxP, hp.MaxQ = 2, 2

	hp.Stepwise = true
	step, err := Build(train, hp)
	if err != nil {
		t.Fatal(err)
	}
	hp.Stepwise = false
	full, err := Build(train, hp)
	if err != nil {
		t.Fatal(err)
	}
	if full.AIC > step.AIC+1e-9 {
		t.Errorf("grid AIC %.3f worse than stepwise %.3f", full.AIC, step.AIC)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		hp      func(*Hyperparams)
		wantErr error
	}{
		{"too short", []float64{1, 2}, nil, models.ErrInsufficientData},
		{"negative max", ar1(50, 0.5, 1), func(hp *Hyperparams) { hp.MaxP = -1 }, models.ErrConfig},
		{"seasonal without period", ar1(50, 0.5, 1), func(hp *Hyperparams) { hp.Seasonal = true; hp.M = 1 }, models.ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hp := DefaultHyperparams()
			if tt.hp != nil {
				tt.hp(&hp)
			}
			_, err := Build(newSeries(t, tt.values), hp)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "arima build failed:") {
				t.Errorf("error not wrapped: %v", err)
			}
		})
	}
}

func TestTrainRejectsUnorderedSeries(t *testing.T) {
	m, err := fit(ar1(100, 0.5, 2), Order{P: 1})
	if err != nil {
		t.Fatal(err)
	}
	bad := newSeries(t, ar1(100, 0.5, 2))
	bad[10].Time = bad[9].Time

	_, err = Train(m, bad)
	if err == nil || !strings.HasPrefix(err.Error(), "arima training failed:") {
		t.Fatalf("err = %v, want training failure", err)
	}
}

func TestForecastWithBand(t *testing.T) {
	train := newSeries(t, randomWalk(200, 9))
	m, err := fit(train.Values(), Order{P: 1, D: 1})
	if err != nil {
		t.Fatal(err)
	}
	index := make([]time.Time, 10)
	for i := range index {
		index[i] = train.Last().AddDate(0, 0, i+1)
	}

	f, err := Forecast(m, 10, index, true)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if len(f.Points) != 10 || f.Positional {
		t.Fatalf("got %d points positional=%v", len(f.Points), f.Positional)
	}
	prevWidth := 0.0
	for i, p := range f.Points {
		if !p.HasBand || !p.Time.Equal(index[i]) {
			t.Fatalf("point %d: %+v", i, p)
		}
		lo, hi := p.Value-p.Lower, p.Upper-p.Value
		if math.Abs(lo-hi) > 1e-9 {
			t.Errorf("point %d band not symmetric: %v vs %v", i, lo, hi)
		}
		if hi < prevWidth-1e-12 {
			t.Errorf("point %d band narrowed: %v < %v", i, hi, prevWidth)
		}
		prevWidth = hi
	}
}

func TestForecastShortIndexIsPositional(t *testing.T) {
	m, err := fit(ar1(100, 0.5, 4), Order{P: 1})
	if err != nil {
		t.Fatal(err)
	}
	f, err := Forecast(m, 5, []time.Time{base}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Positional || len(f.Points) != 5 {
		t.Fatalf("positional=%v points=%d", f.Positional, len(f.Points))
	}
	for _, p := range f.Points {
		if !p.Time.IsZero() || p.HasBand {
			t.Errorf("unexpected point %+v", p)
		}
	}
}

func TestModelSurvivesJSON(t *testing.T) {
	m, err := fit(ar1(120, 0.4, 8), Order{P: 1, Q: 1})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var restored Model
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatal(err)
	}

	want, _, _ := m.Predict(4)
	got, _, err := restored.Predict(4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-9 {
			t.Errorf("step %d: %v != %v", i, got[i], want[i])
		}
	}
}
