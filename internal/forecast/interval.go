package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/models"
)

// DefaultZ is the two-sided 95% normal quantile.
const DefaultZ = 1.96

// Residuals returns yTrue - yPred element-wise.
func Residuals(yTrue, yPred []float64) ([]float64, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("residual length mismatch: %d vs %d", len(yTrue), len(yPred))
	}
	out := make([]float64, len(yTrue))
	for i := range yTrue {
		out[i] = yTrue[i] - yPred[i]
	}
	return out, nil
}

// ResidualStd returns the population standard deviation of residuals,
// skipping NaNs.
func ResidualStd(residuals []float64) (float64, error) {
	var w Welford
	for _, r := range residuals {
		if math.IsNaN(r) {
			continue
		}
		w.Update(r)
	}
	if w.Count == 0 {
		return math.NaN(), fmt.Errorf("no residuals: %w", models.ErrInsufficientData)
	}
	return w.PopStdDev(), nil
}

// ConfidenceBand applies value ± z·sigma to every point. The band is the same
// width at every horizon step.
func ConfidenceBand(values []float64, sigma, z float64) (lower, upper []float64) {
	lower = make([]float64, len(values))
	upper = make([]float64, len(values))
	half := z * sigma
	for i, v := range values {
		lower[i] = v - half
		upper[i] = v + half
	}
	return lower, upper
}

// Build assembles a forecast. When index is shorter than values the forecast
// is positional. lower and upper may be nil.
func Build(model string, values []float64, index []time.Time, lower, upper []float64) models.Forecast {
	f := models.Forecast{Model: model, Points: make([]models.ForecastPoint, len(values))}
	f.Positional = len(index) < len(values)
	band := len(lower) == len(values) && len(upper) == len(values)
	for i, v := range values {
		p := models.ForecastPoint{Value: v}
		if !f.Positional {
			p.Time = index[i]
		}
		if band {
			p.Lower, p.Upper, p.HasBand = lower[i], upper[i], true
		}
		f.Points[i] = p
	}
	return f
}
