package arima

// polyMul multiplies two polynomials in the backshift operator.
func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// diffPoly expands (1-B)^d (1-B^m)^D.
func diffPoly(d, seasonalD, m int) []float64 {
	poly := []float64{1}
	for i := 0; i < d; i++ {
		poly = polyMul(poly, []float64{1, -1})
	}
	if m > 1 {
		season := make([]float64, m+1)
		season[0], season[m] = 1, -1
		for i := 0; i < seasonalD; i++ {
			poly = polyMul(poly, season)
		}
	}
	return poly
}

// applyDiff returns w_t = sum_j poly[j]*y[t-j] for every t with a full history.
func applyDiff(y, poly []float64) []float64 {
	k := len(poly) - 1
	if len(y) <= k {
		return nil
	}
	w := make([]float64, len(y)-k)
	for t := k; t < len(y); t++ {
		var s float64
		for j, c := range poly {
			s += c * y[t-j]
		}
		w[t-k] = s
	}
	return w
}

// lagPoly builds 1 - sum(coef_l B^l) for AR terms.
func lagPoly(terms []Term) []float64 {
	maxLag := 0
	for _, t := range terms {
		maxLag = max(maxLag, t.Lag)
	}
	poly := make([]float64, maxLag+1)
	poly[0] = 1
	for _, t := range terms {
		poly[t.Lag] -= t.Coef
	}
	return poly
}

// psiWeights returns the first n MA(∞) weights of the integrated model, used
// for forecast error variance.
func psiWeights(ar, ma []Term, diff []float64, n int) []float64 {
	phiStar := polyMul(lagPoly(ar), diff)
	theta := make(map[int]float64, len(ma))
	for _, t := range ma {
		theta[t.Lag] += t.Coef
	}
	psi := make([]float64, n)
	if n == 0 {
		return psi
	}
	psi[0] = 1
	for j := 1; j < n; j++ {
		v := theta[j]
		for i := 1; i <= j && i < len(phiStar); i++ {
			v += -phiStar[i] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}
