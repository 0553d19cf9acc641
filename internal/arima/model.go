// Package arima fits seasonal ARIMA models with an automatic order search and
// produces out-of-sample forecasts with model-based confidence bands.
package arima

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Order is a (p,d,q)(P,D,Q)m specification.
type Order struct {
	P  int `json:"p"`
	D  int `json:"d"`
	Q  int `json:"q"`
	SP int `json:"seasonal_p"`
	SD int `json:"seasonal_d"`
	SQ int `json:"seasonal_q"`
	M  int `json:"m"`
}

func (o Order) String() string {
	if o.M > 1 && (o.SP > 0 || o.SD > 0 || o.SQ > 0) {
		return fmt.Sprintf("(%d,%d,%d)(%d,%d,%d)[%d]", o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.M)
	}
	return fmt.Sprintf("(%d,%d,%d)", o.P, o.D, o.Q)
}

func (o Order) arLags() []int {
	lags := make([]int, 0, o.P+o.SP)
	for i := 1; i <= o.P; i++ {
		lags = append(lags, i)
	}
	if o.M > 1 {
		for i := 1; i <= o.SP; i++ {
			lags = append(lags, i*o.M)
		}
	}
	return lags
}

func (o Order) maLags() []int {
	lags := make([]int, 0, o.Q+o.SQ)
	for i := 1; i <= o.Q; i++ {
		lags = append(lags, i)
	}
	if o.M > 1 {
		for i := 1; i <= o.SQ; i++ {
			lags = append(lags, i*o.M)
		}
	}
	return lags
}

func (o Order) withMean() bool {
	return o.D+o.SD < 2
}

// Term is one lag coefficient.
type Term struct {
	Lag  int     `json:"lag"`
	Coef float64 `json:"coef"`
}

// Model is a fitted ARIMA model. It serializes to JSON.
type Model struct {
	Order     Order   `json:"order"`
	Intercept float64 `json:"intercept"`
	AR        []Term  `json:"ar"`
	MA        []Term  `json:"ma"`
	Sigma2    float64 `json:"sigma2"`
	AIC       float64 `json:"aic"`
	NObs      int     `json:"nobs"`

	// History is the undifferenced training series; Innovations are the
	// in-sample one-step errors on the differenced scale.
	History     []float64 `json:"history"`
	Innovations []float64 `json:"innovations"`
}

var errTooShort = errors.New("series too short for order")

// fit estimates an order on y by Hannan-Rissanen two-stage least squares.
func fit(y []float64, o Order) (*Model, error) {
	diff := diffPoly(o.D, o.SD, o.M)
	w := applyDiff(y, diff)
	arLags, maLags := o.arLags(), o.maLags()

	maxAR := 0
	for _, l := range arLags {
		maxAR = max(maxAR, l)
	}
	maxMA := 0
	for _, l := range maLags {
		maxMA = max(maxMA, l)
	}

	n := len(w)
	var ehat []float64
	longK := 0
	if len(maLags) > 0 {
		longK = min(max(10, 2*max(maxAR, maxMA)), n/3)
		if longK < 1 {
			return nil, errTooShort
		}
		var err error
		ehat, err = longARResiduals(w, longK)
		if err != nil {
			return nil, err
		}
	}

	t0 := max(maxAR, longK+maxMA)
	cols := len(arLags) + len(maLags)
	if o.withMean() {
		cols++
	}
	rows := n - t0
	if cols == 0 {
		rows = n
	}
	if rows <= cols+1 {
		return nil, fmt.Errorf("%w %s: %d usable rows", errTooShort, o, rows)
	}

	m := &Model{Order: o, NObs: rows}
	if cols > 0 {
		X := mat.NewDense(rows, cols, nil)
		target := mat.NewVecDense(rows, nil)
		for r := 0; r < rows; r++ {
			t := t0 + r
			c := 0
			if o.withMean() {
				X.Set(r, c, 1)
				c++
			}
			for _, l := range arLags {
				X.Set(r, c, w[t-l])
				c++
			}
			for _, l := range maLags {
				X.Set(r, c, ehat[t-l])
				c++
			}
			target.SetVec(r, w[t])
		}

		var beta mat.VecDense
		if err := beta.SolveVec(X, target); err != nil {
			return nil, fmt.Errorf("least squares %s: %w", o, err)
		}
		c := 0
		if o.withMean() {
			m.Intercept = beta.AtVec(c)
			c++
		}
		for _, l := range arLags {
			m.AR = append(m.AR, Term{Lag: l, Coef: beta.AtVec(c)})
			c++
		}
		for _, l := range maLags {
			m.MA = append(m.MA, Term{Lag: l, Coef: beta.AtVec(c)})
			c++
		}
	}

	m.History = append([]float64(nil), y...)
	m.Innovations = m.innovations(w)

	var rss float64
	start := len(w) - rows
	for _, e := range m.Innovations[start:] {
		rss += e * e
	}
	m.Sigma2 = rss / float64(rows)
	if m.Sigma2 <= 0 || math.IsNaN(m.Sigma2) {
		m.Sigma2 = math.SmallestNonzeroFloat64
	}
	m.AIC = float64(rows)*math.Log(m.Sigma2) + 2*float64(cols+1)
	if math.IsNaN(m.AIC) || math.IsInf(m.AIC, 0) {
		return nil, fmt.Errorf("non-finite AIC for %s", o)
	}
	return m, nil
}

// longARResiduals fits AR(k) by OLS and returns residuals; the first k are 0.
func longARResiduals(w []float64, k int) ([]float64, error) {
	rows := len(w) - k
	if rows <= k+2 {
		return nil, errTooShort
	}
	X := mat.NewDense(rows, k+1, nil)
	y := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := k + r
		X.Set(r, 0, 1)
		for l := 1; l <= k; l++ {
			X.Set(r, l, w[t-l])
		}
		y.SetVec(r, w[t])
	}
	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return nil, fmt.Errorf("long AR(%d): %w", k, err)
	}
	res := make([]float64, len(w))
	for r := 0; r < rows; r++ {
		t := k + r
		pred := beta.AtVec(0)
		for l := 1; l <= k; l++ {
			pred += beta.AtVec(l) * w[t-l]
		}
		res[t] = w[t] - pred
	}
	return res, nil
}

// predictStep returns the one-step prediction of w[t] from its past.
func (m *Model) predictStep(w, e []float64, t int) float64 {
	pred := m.Intercept
	for _, term := range m.AR {
		if t-term.Lag >= 0 {
			pred += term.Coef * w[t-term.Lag]
		}
	}
	for _, term := range m.MA {
		if t-term.Lag >= 0 {
			pred += term.Coef * e[t-term.Lag]
		}
	}
	return pred
}

// innovations computes conditional one-step errors over w.
func (m *Model) innovations(w []float64) []float64 {
	e := make([]float64, len(w))
	for t := range w {
		e[t] = w[t] - m.predictStep(w, e, t)
	}
	return e
}

// Predict returns h point forecasts and their standard errors.
func (m *Model) Predict(h int) (mean, stderr []float64, err error) {
	if h < 0 {
		return nil, nil, fmt.Errorf("horizon must not be negative, got %d", h)
	}
	diff := diffPoly(m.Order.D, m.Order.SD, m.Order.M)
	y := append([]float64(nil), m.History...)
	w := applyDiff(y, diff)
	e := append([]float64(nil), m.Innovations...)
	if len(e) != len(w) {
		e = m.innovations(w)
	}

	mean = make([]float64, h)
	for step := 0; step < h; step++ {
		t := len(w)
		wHat := m.predictStep(w, e, t)
		w = append(w, wHat)
		e = append(e, 0)

		yHat := wHat
		for j := 1; j < len(diff); j++ {
			yHat -= diff[j] * y[len(y)-j]
		}
		if math.IsNaN(yHat) || math.IsInf(yHat, 0) {
			return nil, nil, fmt.Errorf("forecast diverged at step %d", step)
		}
		y = append(y, yHat)
		mean[step] = yHat
	}

	psi := psiWeights(m.AR, m.MA, diff, h)
	stderr = make([]float64, h)
	var acc float64
	for step := 0; step < h; step++ {
		acc += psi[step] * psi[step]
		stderr[step] = math.Sqrt(m.Sigma2 * acc)
	}
	return mean, stderr, nil
}
