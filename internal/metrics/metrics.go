// Package metrics computes forecast error measures between observed and
// predicted sequences.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/models"
)

// Metric names used as keys in score maps and registry side-cars.
const (
	MAE  = "MAE"
	RMSE = "RMSE"
	MAPE = "MAPE"
)

// Names lists the metrics computed by Evaluate, in report order.
var Names = []string{MAE, RMSE, MAPE}

// Scores holds computable metric values. Metrics that could not be computed
// are listed in Skipped and absent from Values.
type Scores struct {
	Values  map[string]float64 `json:"values"`
	Skipped []string           `json:"skipped,omitempty"`
	Points  int                `json:"points"`
}

func checkLengths(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("length mismatch: %d observed vs %d predicted", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return models.ErrNotComputable
	}
	return nil
}

// MeanAbsoluteError returns mean(|yTrue - yPred|).
func MeanAbsoluteError(yTrue, yPred []float64) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return math.NaN(), err
	}
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue)), nil
}

// RootMeanSquaredError returns sqrt(mean((yTrue - yPred)^2)).
func RootMeanSquaredError(yTrue, yPred []float64) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return math.NaN(), err
	}
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(yTrue))), nil
}

// MeanAbsolutePercentageError returns mean(|(yTrue - yPred) / yTrue|) * 100
// over positions where yTrue is non-zero. If every position is masked the
// result is ErrNotComputable.
func MeanAbsolutePercentageError(yTrue, yPred []float64) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return math.NaN(), err
	}
	var sum float64
	var n int
	for i := range yTrue {
		if yTrue[i] == 0 {
			continue
		}
		sum += math.Abs((yTrue[i] - yPred[i]) / yTrue[i])
		n++
	}
	if n == 0 {
		return math.NaN(), fmt.Errorf("MAPE: every observed value is zero: %w", models.ErrNotComputable)
	}
	return sum / float64(n) * 100, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DropNaN removes positions where either side is NaN or infinite.
func DropNaN(yTrue, yPred []float64) ([]float64, []float64) {
	n := min(len(yTrue), len(yPred))
	outTrue := make([]float64, 0, n)
	outPred := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if finite(yTrue[i]) && finite(yPred[i]) {
			outTrue = append(outTrue, yTrue[i])
			outPred = append(outPred, yPred[i])
		}
	}
	return outTrue, outPred
}

// Align inner-joins two series on matching timestamps. Timestamps present in
// only one series are dropped. Output follows the observed series' order.
func Align(observed, predicted models.TimeSeries) ([]float64, []float64) {
	byTime := make(map[time.Time]float64, len(predicted))
	for _, p := range predicted {
		byTime[p.Time.UTC()] = p.Value
	}
	yTrue := make([]float64, 0, len(observed))
	yPred := make([]float64, 0, len(observed))
	for _, p := range observed {
		if v, ok := byTime[p.Time.UTC()]; ok {
			yTrue = append(yTrue, p.Value)
			yPred = append(yPred, v)
		}
	}
	return yTrue, yPred
}

// Evaluate computes every metric in Names after dropping NaN pairs.
// Raw slices of unequal length are an error.
func Evaluate(yTrue, yPred []float64) (Scores, error) {
	if len(yTrue) != len(yPred) {
		return Scores{}, fmt.Errorf("length mismatch: %d observed vs %d predicted", len(yTrue), len(yPred))
	}
	yTrue, yPred = DropNaN(yTrue, yPred)

	scores := Scores{Values: make(map[string]float64, len(Names)), Points: len(yTrue)}
	fns := map[string]func([]float64, []float64) (float64, error){
		MAE:  MeanAbsoluteError,
		RMSE: RootMeanSquaredError,
		MAPE: MeanAbsolutePercentageError,
	}
	for _, name := range Names {
		v, err := fns[name](yTrue, yPred)
		if err != nil {
			scores.Skipped = append(scores.Skipped, name)
			continue
		}
		scores.Values[name] = v
	}
	sort.Strings(scores.Skipped)
	return scores, nil
}

// EvaluateSeries aligns both series on timestamp before evaluating.
func EvaluateSeries(observed, predicted models.TimeSeries) (Scores, error) {
	yTrue, yPred := Align(observed, predicted)
	return Evaluate(yTrue, yPred)
}
