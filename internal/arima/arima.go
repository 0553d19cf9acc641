package arima

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/forecast"
	"github.com/rewired-gh/pmoforecast/internal/logger"
	"github.com/rewired-gh/pmoforecast/internal/models"
)

// Hyperparams controls the order search. D = -1 selects the differencing
// order automatically.
type Hyperparams struct {
	Seasonal bool
	M        int
	P        int
	D        int
	Q        int
	SP       int
	SD       int
	SQ       int
	MaxP     int
	MaxD     int
	MaxQ     int
	MaxSP    int
	MaxSQ    int
	Stepwise bool
	Trace    bool
}

// DefaultHyperparams mirrors a typical auto-ARIMA setup.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		M: 1, P: 1, D: -1, Q: 1,
		MaxP: 5, MaxD: 2, MaxQ: 5, MaxSP: 2, MaxSQ: 2,
		Stepwise: true,
	}
}

func (hp Hyperparams) validate() error {
	switch {
	case hp.MaxP < 0 || hp.MaxQ < 0 || hp.MaxD < 0:
		return fmt.Errorf("max orders must not be negative: %w", models.ErrConfig)
	case hp.P < 0 || hp.Q < 0 || hp.SP < 0 || hp.SQ < 0 || hp.SD < 0:
		return fmt.Errorf("start orders must not be negative: %w", models.ErrConfig)
	case hp.D < -1:
		return fmt.Errorf("d must be -1 (auto) or >= 0, got %d: %w", hp.D, models.ErrConfig)
	case hp.Seasonal && hp.M < 2:
		return fmt.Errorf("seasonal model needs m >= 2, got %d: %w", hp.M, models.ErrConfig)
	}
	return nil
}

type searchSpace struct {
	d, sd, m                 int
	maxP, maxQ, maxSP, maxSQ int
	trace                    bool
}

func (s searchSpace) within(o Order) bool {
	return o.P >= 0 && o.Q >= 0 && o.SP >= 0 && o.SQ >= 0 &&
		o.P <= s.maxP && o.Q <= s.maxQ && o.SP <= s.maxSP && o.SQ <= s.maxSQ
}

func (s searchSpace) order(p, q, sp, sq int) Order {
	return Order{P: p, D: s.d, Q: q, SP: sp, SD: s.sd, SQ: sq, M: s.m}
}

// Build searches for the order with the lowest AIC on train.
func Build(train models.TimeSeries, hp Hyperparams) (*Model, error) {
	m, err := build(train, hp)
	if err != nil {
		return nil, fmt.Errorf("arima build failed: %w", err)
	}
	return m, nil
}

func build(train models.TimeSeries, hp Hyperparams) (*Model, error) {
	if err := hp.validate(); err != nil {
		return nil, err
	}
	if err := train.Validate(); err != nil {
		return nil, err
	}
	y := train.Values()
	if len(y) < 3 {
		return nil, fmt.Errorf("need at least 3 observations, got %d: %w", len(y), models.ErrInsufficientData)
	}

	space := searchSpace{m: 1, maxP: hp.MaxP, maxQ: hp.MaxQ, trace: hp.Trace}
	if hp.Seasonal {
		space.m = hp.M
		space.sd = hp.SD
		space.maxSP, space.maxSQ = hp.MaxSP, hp.MaxSQ
	}
	space.d = hp.D
	if space.d < 0 {
		space.d = selectD(y, hp.MaxD, space.sd, space.m)
		logger.Debug("arima: selected d=%d", space.d)
	}

	start := space.order(min(hp.P, hp.MaxP), min(hp.Q, hp.MaxQ), 0, 0)
	if hp.Seasonal {
		start.SP, start.SQ = min(hp.SP, space.maxSP), min(hp.SQ, space.maxSQ)
	}

	var best *Model
	if hp.Stepwise {
		best = stepwise(y, space, start)
	} else {
		best = grid(y, space)
	}
	if best == nil {
		return nil, fmt.Errorf("no candidate order could be fitted to %d observations: %w", len(y), models.ErrInsufficientData)
	}
	logger.Info("arima: best model %s aic=%.3f", best.Order, best.AIC)
	return best, nil
}

// selectD picks the differencing order with the lowest variance of the
// differenced series.
func selectD(y []float64, maxD, sd, m int) int {
	bestD, bestVar := 0, math.Inf(1)
	for d := 0; d <= maxD; d++ {
		w := applyDiff(y, diffPoly(d, sd, m))
		if len(w) < 2 {
			break
		}
		var acc forecast.Welford
		for _, v := range w {
			acc.Update(v)
		}
		v := acc.StdDev()
		if v < bestVar {
			bestD, bestVar = d, v
		}
	}
	return bestD
}

type evaluator struct {
	y     []float64
	space searchSpace
	seen  map[Order]*Model
}

func (e *evaluator) eval(o Order) *Model {
	if m, ok := e.seen[o]; ok {
		return m
	}
	m, err := fit(e.y, o)
	if err != nil {
		m = nil
		if e.space.trace {
			logger.Info("arima: %s skipped: %v", o, err)
		}
	} else if e.space.trace {
		logger.Info("arima: %s aic=%.3f", o, m.AIC)
	}
	e.seen[o] = m
	return m
}

func better(a, b *Model) bool {
	return a != nil && (b == nil || a.AIC < b.AIC)
}

func stepwise(y []float64, space searchSpace, start Order) *Model {
	e := &evaluator{y: y, space: space, seen: make(map[Order]*Model)}

	var best *Model
	for _, o := range []Order{
		start,
		space.order(0, 0, 0, 0),
		space.order(min(1, space.maxP), 0, min(1, space.maxSP), 0),
		space.order(0, min(1, space.maxQ), 0, min(1, space.maxSQ)),
	} {
		if m := e.eval(o); better(m, best) {
			best = m
		}
	}
	if best == nil {
		return nil
	}

	for {
		cur := best.Order
		improved := false
		for _, delta := range [][4]int{
			{1, 0, 0, 0}, {-1, 0, 0, 0}, {0, 1, 0, 0}, {0, -1, 0, 0},
			{1, 1, 0, 0}, {-1, -1, 0, 0},
			{0, 0, 1, 0}, {0, 0, -1, 0}, {0, 0, 0, 1}, {0, 0, 0, -1},
		} {
			o := space.order(cur.P+delta[0], cur.Q+delta[1], cur.SP+delta[2], cur.SQ+delta[3])
			if !space.within(o) {
				continue
			}
			if m := e.eval(o); better(m, best) {
				best = m
				improved = true
			}
		}
		if !improved {
			return best
		}
	}
}

func grid(y []float64, space searchSpace) *Model {
	e := &evaluator{y: y, space: space, seen: make(map[Order]*Model)}
	var best *Model
	for p := 0; p <= space.maxP; p++ {
		for q := 0; q <= space.maxQ; q++ {
			for sp := 0; sp <= space.maxSP; sp++ {
				for sq := 0; sq <= space.maxSQ; sq++ {
					if m := e.eval(space.order(p, q, sp, sq)); better(m, best) {
						best = m
					}
				}
			}
		}
	}
	return best
}

// Train refits the selected order on train.
func Train(m *Model, train models.TimeSeries) (*Model, error) {
	if m == nil {
		return nil, errors.New("arima training failed: nil model")
	}
	if err := train.Validate(); err != nil {
		return nil, fmt.Errorf("arima training failed: %w", err)
	}
	fitted, err := fit(train.Values(), m.Order)
	if err != nil {
		return nil, fmt.Errorf("arima training failed: %w", err)
	}
	return fitted, nil
}

// Forecast predicts horizon steps past the training sample. When index has
// fewer than horizon entries the result is positional. withConf attaches a
// z = 1.96 band from the model's forecast error variance.
func Forecast(m *Model, horizon int, index []time.Time, withConf bool) (models.Forecast, error) {
	if m == nil {
		return models.Forecast{}, errors.New("arima forecast: nil model")
	}
	mean, stderr, err := m.Predict(horizon)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("arima forecast: %w", err)
	}
	if len(index) < horizon {
		logger.Warn("arima: index has %d entries for horizon %d, using positional index", len(index), horizon)
		index = nil
	}

	var lower, upper []float64
	if withConf {
		lower = make([]float64, horizon)
		upper = make([]float64, horizon)
		for i := range mean {
			half := forecast.DefaultZ * stderr[i]
			lower[i], upper[i] = mean[i]-half, mean[i]+half
		}
	}
	return forecast.Build("arima", mean, index, lower, upper), nil
}
