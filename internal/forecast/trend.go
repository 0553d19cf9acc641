package forecast

import "github.com/rewired-gh/pmoforecast/internal/models"

// TrendSummary describes the direction of a forecast from its first to its
// last point.
type TrendSummary struct {
	Direction  string  `json:"direction"`
	StartPrice float64 `json:"start_price"`
	EndPrice   float64 `json:"end_price"`
	PctChange  float64 `json:"pct_change"`
}

// Trend summarizes the forecast. An empty forecast yields a zero summary.
func Trend(f models.Forecast) TrendSummary {
	if len(f.Points) == 0 {
		return TrendSummary{}
	}
	start, end := f.Points[0].Value, f.Points[len(f.Points)-1].Value
	s := TrendSummary{StartPrice: start, EndPrice: end, Direction: "Downward"}
	if start != 0 {
		s.PctChange = (end/start - 1) * 100
	}
	if s.PctChange > 0 {
		s.Direction = "Upward"
	}
	return s
}
