package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/models"
)

const tol = 1e-9

func TestMetricValues(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		yPred []float64
		mae   float64
		rmse  float64
		mape  float64
	}{
		{"perfect", []float64{1, 2, 3}, []float64{1, 2, 3}, 0, 0, 0},
		{"constant offset", []float64{10, 20, 40}, []float64{11, 21, 41}, 1, 1, (10.0 + 5.0 + 2.5) / 3},
		{"mixed errors", []float64{2, 4}, []float64{1, 7}, 2, math.Sqrt(5), (50.0 + 75.0) / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mae, err := MeanAbsoluteError(tt.yTrue, tt.yPred)
			if err != nil || math.Abs(mae-tt.mae) > tol {
				t.Errorf("MAE = %v (%v), want %v", mae, err, tt.mae)
			}
			rmse, err := RootMeanSquaredError(tt.yTrue, tt.yPred)
			if err != nil || math.Abs(rmse-tt.rmse) > tol {
				t.Errorf("RMSE = %v (%v), want %v", rmse, err, tt.rmse)
			}
			mape, err := MeanAbsolutePercentageError(tt.yTrue, tt.yPred)
			if err != nil || math.Abs(mape-tt.mape) > tol {
				t.Errorf("MAPE = %v (%v), want %v", mape, err, tt.mape)
			}
		})
	}
}

func TestMAPEAllZeroIsNotComputable(t *testing.T) {
	_, err := MeanAbsolutePercentageError([]float64{0, 0, 0}, []float64{1, 2, 3})
	if !errors.Is(err, models.ErrNotComputable) {
		t.Fatalf("expected ErrNotComputable, got %v", err)
	}
}

func TestMAPESkipsZeroPositions(t *testing.T) {
	got, err := MeanAbsolutePercentageError([]float64{0, 10}, []float64{5, 12})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-20) > tol {
		t.Errorf("MAPE = %v, want 20", got)
	}
}

func TestMAESymmetric(t *testing.T) {
	a := []float64{1.5, -2, 7}
	b := []float64{0.5, 3, 6}
	ab, _ := MeanAbsoluteError(a, b)
	ba, _ := MeanAbsoluteError(b, a)
	if ab != ba {
		t.Errorf("MAE not symmetric: %v vs %v", ab, ba)
	}
}

func TestLengthMismatch(t *testing.T) {
	if _, err := RootMeanSquaredError([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := Evaluate([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("expected Evaluate error for mismatched lengths")
	}
}

func TestEvaluateDropsNaN(t *testing.T) {
	scores, err := Evaluate([]float64{1, math.NaN(), 3}, []float64{2, 2, math.Inf(1)})
	if err != nil {
		t.Fatal(err)
	}
	if scores.Points != 1 {
		t.Errorf("Points = %d, want 1", scores.Points)
	}
	if scores.Values[MAE] != 1 {
		t.Errorf("MAE = %v, want 1", scores.Values[MAE])
	}
}

func TestEvaluateNothingLeftIsNotComputable(t *testing.T) {
	scores, err := Evaluate([]float64{math.NaN()}, []float64{1})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores.Values) != 0 {
		t.Errorf("expected no values, got %v", scores.Values)
	}
	if len(scores.Skipped) != 3 {
		t.Errorf("expected all metrics skipped, got %v", scores.Skipped)
	}
}

func TestEvaluateSeriesInnerJoin(t *testing.T) {
	d := func(s string) time.Time {
		tm, _ := time.Parse(time.DateOnly, s)
		return tm
	}
	observed := models.TimeSeries{
		{Time: d("2024-01-02"), Value: 10},
		{Time: d("2024-01-03"), Value: 20},
		{Time: d("2024-01-04"), Value: 30},
	}
	predicted := models.TimeSeries{
		{Time: d("2024-01-03"), Value: 22},
		{Time: d("2024-01-04"), Value: 30},
		{Time: d("2024-01-05"), Value: 99},
	}

	yTrue, yPred := Align(observed, predicted)
	if len(yTrue) != 2 || yTrue[0] != 20 || yPred[0] != 22 {
		t.Fatalf("Align = %v / %v", yTrue, yPred)
	}

	scores, err := EvaluateSeries(observed, predicted)
	if err != nil {
		t.Fatal(err)
	}
	if scores.Values[MAE] != 1 {
		t.Errorf("MAE = %v, want 1", scores.Values[MAE])
	}

	disjoint := models.TimeSeries{{Time: d("2025-01-01"), Value: 1}}
	scores, err = EvaluateSeries(observed, disjoint)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores.Values) != 0 {
		t.Errorf("disjoint series should yield no computable metrics, got %v", scores.Values)
	}
}
