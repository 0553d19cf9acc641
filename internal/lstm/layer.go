package lstm

import (
	"math"
	"math/rand"
)

// param holds one weight tensor, flattened row-major, with its gradient and
// Adam moments.
type param struct {
	W []float64
	G []float64
	M []float64
	V []float64
}

func newParam(n int) *param {
	return &param{
		W: make([]float64, n),
		G: make([]float64, n),
		M: make([]float64, n),
		V: make([]float64, n),
	}
}

func (p *param) glorot(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.W {
		p.W[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (p *param) zeroGrad() {
	for i := range p.G {
		p.G[i] = 0
	}
}

// layer is one LSTM cell unrolled over a sequence. Gates are stacked in the
// order input, forget, cell, output.
type layer struct {
	in, hidden int
	wx         *param // 4H x in
	wh         *param // 4H x H
	b          *param // 4H
}

func newLayer(rng *rand.Rand, in, hidden int) *layer {
	l := &layer{
		in:     in,
		hidden: hidden,
		wx:     newParam(4 * hidden * in),
		wh:     newParam(4 * hidden * hidden),
		b:      newParam(4 * hidden),
	}
	l.wx.glorot(rng, in, 4*hidden)
	l.wh.glorot(rng, hidden, 4*hidden)
	for j := hidden; j < 2*hidden; j++ {
		l.b.W[j] = 1
	}
	return l
}

func (l *layer) params() []*param {
	return []*param{l.wx, l.wh, l.b}
}

type step struct {
	x, hPrev, cPrev     []float64
	i, f, g, o, c, tanC []float64
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// forward runs the cell over xs and returns the hidden state at every step.
func (l *layer) forward(xs [][]float64) ([][]float64, []step) {
	H := l.hidden
	h := make([]float64, H)
	c := make([]float64, H)
	hs := make([][]float64, len(xs))
	steps := make([]step, len(xs))
	z := make([]float64, 4*H)

	for t, x := range xs {
		for r := 0; r < 4*H; r++ {
			s := l.b.W[r]
			row := l.wx.W[r*l.in : (r+1)*l.in]
			for k, v := range x {
				s += row[k] * v
			}
			rowH := l.wh.W[r*H : (r+1)*H]
			for k, v := range h {
				s += rowH[k] * v
			}
			z[r] = s
		}

		st := step{
			x: x, hPrev: h, cPrev: c,
			i: make([]float64, H), f: make([]float64, H), g: make([]float64, H),
			o: make([]float64, H), c: make([]float64, H), tanC: make([]float64, H),
		}
		hNext := make([]float64, H)
		for j := 0; j < H; j++ {
			st.i[j] = sigmoid(z[j])
			st.f[j] = sigmoid(z[H+j])
			st.g[j] = math.Tanh(z[2*H+j])
			st.o[j] = sigmoid(z[3*H+j])
			st.c[j] = st.f[j]*c[j] + st.i[j]*st.g[j]
			st.tanC[j] = math.Tanh(st.c[j])
			hNext[j] = st.o[j] * st.tanC[j]
		}
		steps[t] = st
		hs[t] = hNext
		h, c = hNext, st.c
	}
	return hs, steps
}

// backward accumulates gradients given dL/dh at every step and returns
// dL/dx for every step.
func (l *layer) backward(steps []step, dhs [][]float64) [][]float64 {
	H := l.hidden
	dxs := make([][]float64, len(steps))
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dz := make([]float64, 4*H)

	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		for j := 0; j < H; j++ {
			dh := dhNext[j]
			if dhs[t] != nil {
				dh += dhs[t][j]
			}
			dc := dcNext[j] + dh*st.o[j]*(1-st.tanC[j]*st.tanC[j])
			dz[j] = dc * st.g[j] * st.i[j] * (1 - st.i[j])
			dz[H+j] = dc * st.cPrev[j] * st.f[j] * (1 - st.f[j])
			dz[2*H+j] = dc * st.i[j] * (1 - st.g[j]*st.g[j])
			dz[3*H+j] = dh * st.tanC[j] * st.o[j] * (1 - st.o[j])
			dcNext[j] = dc * st.f[j]
		}

		dx := make([]float64, l.in)
		dhPrev := make([]float64, H)
		for r := 0; r < 4*H; r++ {
			d := dz[r]
			if d == 0 {
				continue
			}
			l.b.G[r] += d
			row := l.wx.W[r*l.in : (r+1)*l.in]
			grow := l.wx.G[r*l.in : (r+1)*l.in]
			for k, v := range st.x {
				grow[k] += d * v
				dx[k] += d * row[k]
			}
			rowH := l.wh.W[r*H : (r+1)*H]
			growH := l.wh.G[r*H : (r+1)*H]
			for k, v := range st.hPrev {
				growH[k] += d * v
				dhPrev[k] += d * rowH[k]
			}
		}
		dxs[t] = dx
		dhNext = dhPrev
	}
	return dxs
}
