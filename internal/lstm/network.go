// Package lstm implements a stacked LSTM regressor for one-step-ahead
// forecasting over sliding windows, trained with Adam on MSE loss.
package lstm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/rewired-gh/pmoforecast/internal/logger"
)

// Hyperparams configures network shape and training.
type Hyperparams struct {
	HiddenUnits []int
	// Units and NumLayers describe a uniform stack when HiddenUnits is empty.
	Units     int
	NumLayers int

	Dropout         float64
	LearningRate    float64
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Patience        int
	LRFactor        float64
	LRPatience      int
	MinLR           float64
	Seed            int64
}

// DefaultHyperparams returns the defaults used when a key is not configured.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		HiddenUnits:     []int{64, 32},
		Dropout:         0.2,
		LearningRate:    0.0005,
		Epochs:          50,
		BatchSize:       32,
		ValidationSplit: 0.1,
		Patience:        12,
		LRFactor:        0.5,
		LRPatience:      6,
		MinLR:           1e-6,
		Seed:            42,
	}
}

// Layers resolves the per-layer unit counts.
func (hp Hyperparams) Layers() []int {
	if len(hp.HiddenUnits) > 0 {
		return append([]int(nil), hp.HiddenUnits...)
	}
	if hp.Units > 0 {
		n := hp.NumLayers
		if n <= 0 {
			n = 2
		}
		out := make([]int, n)
		for i := range out {
			out[i] = hp.Units
		}
		return out
	}
	return []int{64, 32}
}

// Network is a stack of LSTM layers followed by a single linear unit.
type Network struct {
	Timesteps    int
	Features     int
	HiddenUnits  []int
	Dropout      float64
	LearningRate float64

	layers []*layer
	outW   *param
	outB   *param
}

// Build creates an untrained network for inputs of shape (timesteps, features).
func Build(inputShape [2]int, hp Hyperparams) (*Network, error) {
	n, err := build(inputShape, hp)
	if err != nil {
		return nil, fmt.Errorf("lstm build failed: %w", err)
	}
	return n, nil
}

func build(inputShape [2]int, hp Hyperparams) (*Network, error) {
	if inputShape[0] < 1 || inputShape[1] < 1 {
		return nil, fmt.Errorf("invalid input shape %v", inputShape)
	}
	if hp.Dropout < 0 || hp.Dropout >= 1 {
		return nil, fmt.Errorf("dropout must be in [0, 1), got %g", hp.Dropout)
	}
	if hp.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", hp.LearningRate)
	}
	units := hp.Layers()
	for i, u := range units {
		if u < 1 {
			return nil, fmt.Errorf("layer %d has %d units", i, u)
		}
	}

	rng := rand.New(rand.NewSource(hp.Seed))
	n := &Network{
		Timesteps:    inputShape[0],
		Features:     inputShape[1],
		HiddenUnits:  units,
		Dropout:      hp.Dropout,
		LearningRate: hp.LearningRate,
	}
	in := n.Features
	for _, u := range units {
		n.layers = append(n.layers, newLayer(rng, in, u))
		in = u
	}
	n.outW = newParam(in)
	n.outW.glorot(rng, in, 1)
	n.outB = newParam(1)

	logger.Info("lstm: built with layers %v", units)
	return n, nil
}

func (n *Network) params() []*param {
	var ps []*param
	for _, l := range n.layers {
		ps = append(ps, l.params()...)
	}
	return append(ps, n.outW, n.outB)
}

// pass keeps what a backward sweep needs.
type pass struct {
	steps [][]step
	masks [][][]float64
	last  []float64
	out   float64
}

func (n *Network) sequence(x []float64) ([][]float64, error) {
	if len(x) != n.Timesteps*n.Features {
		return nil, fmt.Errorf("input has %d values, want %d", len(x), n.Timesteps*n.Features)
	}
	xs := make([][]float64, n.Timesteps)
	for t := range xs {
		xs[t] = x[t*n.Features : (t+1)*n.Features]
	}
	return xs, nil
}

// forward runs one sample. rng enables dropout; nil means inference.
func (n *Network) forward(x []float64, rng *rand.Rand) (*pass, error) {
	xs, err := n.sequence(x)
	if err != nil {
		return nil, err
	}
	p := &pass{
		steps: make([][]step, len(n.layers)),
		masks: make([][][]float64, len(n.layers)),
	}
	seq := xs
	for li, l := range n.layers {
		hs, steps := l.forward(seq)
		p.steps[li] = steps
		isLast := li == len(n.layers)-1
		if isLast {
			hs = hs[len(hs)-1:]
		}
		if rng != nil && n.Dropout > 0 {
			p.masks[li] = applyDropout(rng, hs, n.Dropout)
		}
		seq = hs
	}
	p.last = seq[0]

	out := n.outB.W[0]
	for k, v := range p.last {
		out += n.outW.W[k] * v
	}
	p.out = out
	return p, nil
}

// applyDropout zeroes units in place with inverted scaling and returns the
// masks applied.
func applyDropout(rng *rand.Rand, hs [][]float64, rate float64) [][]float64 {
	keep := 1 - rate
	masks := make([][]float64, len(hs))
	for t, h := range hs {
		mask := make([]float64, len(h))
		dropped := make([]float64, len(h))
		for j := range h {
			if rng.Float64() < keep {
				mask[j] = 1 / keep
			}
			dropped[j] = h[j] * mask[j]
		}
		hs[t] = dropped
		masks[t] = mask
	}
	return masks
}

// backward accumulates gradients for one sample given dL/dout.
func (n *Network) backward(p *pass, dout float64) {
	n.outB.G[0] += dout
	dh := make([]float64, len(p.last))
	for k, v := range p.last {
		n.outW.G[k] += dout * v
		dh[k] = dout * n.outW.W[k]
	}

	last := len(n.layers) - 1
	var dseq [][]float64
	for li := last; li >= 0; li-- {
		steps := p.steps[li]
		dhs := make([][]float64, len(steps))
		if li == last {
			dhs[len(steps)-1] = dh
			if m := p.masks[li]; m != nil {
				mul(dh, m[0])
			}
		} else {
			dhs = dseq
			if m := p.masks[li]; m != nil {
				for t := range dhs {
					mul(dhs[t], m[t])
				}
			}
		}
		dseq = n.layers[li].backward(steps, dhs)
	}
}

func mul(dst, mask []float64) {
	for i := range dst {
		dst[i] *= mask[i]
	}
}

// Predict returns the network output for one flattened window.
func (n *Network) Predict(x []float64) (float64, error) {
	p, err := n.forward(x, nil)
	if err != nil {
		return 0, err
	}
	return p.out, nil
}

// PredictBatch predicts every row of X.
func (n *Network) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		v, err := n.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

const fileFormat = "pmoforecast.lstm/v1"

type layerFile struct {
	Units  int       `json:"units"`
	Kernel []float64 `json:"kernel"`
	Recur  []float64 `json:"recurrent_kernel"`
	Bias   []float64 `json:"bias"`
}

type networkFile struct {
	Format       string      `json:"format"`
	Timesteps    int         `json:"timesteps"`
	Features     int         `json:"features"`
	Dropout      float64     `json:"dropout"`
	LearningRate float64     `json:"learning_rate"`
	Layers       []layerFile `json:"layers"`
	DenseKernel  []float64   `json:"dense_kernel"`
	DenseBias    float64     `json:"dense_bias"`
}

// Save writes the network weights as JSON.
func (n *Network) Save(w io.Writer) error {
	f := networkFile{
		Format:       fileFormat,
		Timesteps:    n.Timesteps,
		Features:     n.Features,
		Dropout:      n.Dropout,
		LearningRate: n.LearningRate,
		DenseKernel:  n.outW.W,
		DenseBias:    n.outB.W[0],
	}
	for _, l := range n.layers {
		f.Layers = append(f.Layers, layerFile{Units: l.hidden, Kernel: l.wx.W, Recur: l.wh.W, Bias: l.b.W})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("failed to encode network: %w", err)
	}
	return nil
}

// Load reads a network written by Save.
func Load(r io.Reader) (*Network, error) {
	var f networkFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode network: %w", err)
	}
	if f.Format != fileFormat {
		return nil, fmt.Errorf("unsupported network format %q", f.Format)
	}
	if f.Timesteps < 1 || f.Features < 1 || len(f.Layers) == 0 {
		return nil, errors.New("network file has no usable shape")
	}

	n := &Network{
		Timesteps:    f.Timesteps,
		Features:     f.Features,
		Dropout:      f.Dropout,
		LearningRate: f.LearningRate,
	}
	in := f.Features
	for i, lf := range f.Layers {
		h := lf.Units
		if h < 1 || len(lf.Kernel) != 4*h*in || len(lf.Recur) != 4*h*h || len(lf.Bias) != 4*h {
			return nil, fmt.Errorf("layer %d has inconsistent weight sizes", i)
		}
		l := &layer{in: in, hidden: h, wx: newParam(4 * h * in), wh: newParam(4 * h * h), b: newParam(4 * h)}
		copy(l.wx.W, lf.Kernel)
		copy(l.wh.W, lf.Recur)
		copy(l.b.W, lf.Bias)
		n.layers = append(n.layers, l)
		n.HiddenUnits = append(n.HiddenUnits, h)
		in = h
	}
	if len(f.DenseKernel) != in {
		return nil, fmt.Errorf("dense kernel has %d weights, want %d", len(f.DenseKernel), in)
	}
	n.outW = newParam(in)
	copy(n.outW.W, f.DenseKernel)
	n.outB = newParam(1)
	n.outB.W[0] = f.DenseBias
	return n, nil
}
