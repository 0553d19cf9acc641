package lstm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/rewired-gh/pmoforecast/internal/logger"
)

// History records per-epoch training progress.
type History struct {
	Loss         []float64 `json:"loss"`
	ValLoss      []float64 `json:"val_loss,omitempty"`
	LR           []float64 `json:"lr"`
	BestEpoch    int       `json:"best_epoch"`
	StoppedEarly bool      `json:"stopped_early"`
}

// Epochs returns the number of completed epochs.
func (h History) Epochs() int { return len(h.Loss) }

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
}

func (a *adam) step(ps []*param) {
	a.t++
	b1t := 1 - math.Pow(a.beta1, float64(a.t))
	b2t := 1 - math.Pow(a.beta2, float64(a.t))
	lr := a.lr * math.Sqrt(b2t) / b1t
	for _, p := range ps {
		for i, g := range p.G {
			p.M[i] = a.beta1*p.M[i] + (1-a.beta1)*g
			p.V[i] = a.beta2*p.V[i] + (1-a.beta2)*g*g
			p.W[i] -= lr * p.M[i] / (math.Sqrt(p.V[i]) + a.eps)
		}
	}
}

func snapshot(ps []*param) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = append([]float64(nil), p.W...)
	}
	return out
}

func restore(ps []*param, snap [][]float64) {
	for i, p := range ps {
		copy(p.W, snap[i])
	}
}

// Train fits net on (X, y). The last ValidationSplit share of samples is held
// out in order for validation. Training stops early when the monitored loss
// has not improved for Patience epochs, and the best weights are restored.
func Train(ctx context.Context, net *Network, X [][]float64, y []float64, hp Hyperparams) (*Network, History, error) {
	h, err := train(ctx, net, X, y, hp)
	if err != nil {
		return nil, h, fmt.Errorf("lstm training failed: %w", err)
	}
	return net, h, nil
}

func train(ctx context.Context, net *Network, X [][]float64, y []float64, hp Hyperparams) (History, error) {
	var hist History
	if net == nil {
		return hist, errors.New("nil network")
	}
	if len(X) != len(y) {
		return hist, fmt.Errorf("got %d samples and %d targets", len(X), len(y))
	}
	if len(X) == 0 {
		return hist, errors.New("no training samples")
	}
	if hp.Epochs < 1 || hp.BatchSize < 1 {
		return hist, fmt.Errorf("epochs and batch size must be positive, got %d and %d", hp.Epochs, hp.BatchSize)
	}
	if hp.ValidationSplit < 0 || hp.ValidationSplit >= 1 {
		return hist, fmt.Errorf("validation split must be in [0, 1), got %g", hp.ValidationSplit)
	}

	split := int(float64(len(X)) * (1 - hp.ValidationSplit))
	if split < 1 {
		split = 1
	}
	trainX, trainY := X[:split], y[:split]
	valX, valY := X[split:], y[split:]
	hasVal := len(valX) > 0

	rng := rand.New(rand.NewSource(hp.Seed))
	ps := net.params()
	opt := &adam{lr: net.LearningRate, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	if hp.LearningRate > 0 {
		opt.lr = hp.LearningRate
	}

	best := math.Inf(1)
	bestWeights := snapshot(ps)
	wait, lrWait := 0, 0
	lrBest := math.Inf(1)
	order := make([]int, len(trainX))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < hp.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var sum float64
		for start := 0; start < len(order); start += hp.BatchSize {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			end := min(start+hp.BatchSize, len(order))
			for _, p := range ps {
				p.zeroGrad()
			}
			batch := float64(end - start)
			for _, idx := range order[start:end] {
				p, err := net.forward(trainX[idx], rng)
				if err != nil {
					return hist, fmt.Errorf("sample %d: %w", idx, err)
				}
				diff := p.out - trainY[idx]
				sum += diff * diff
				net.backward(p, 2*diff/batch)
			}
			opt.step(ps)
		}
		loss := sum / float64(len(order))
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return hist, fmt.Errorf("loss diverged at epoch %d", epoch+1)
		}
		hist.Loss = append(hist.Loss, loss)
		hist.LR = append(hist.LR, opt.lr)

		monitored := loss
		if hasVal {
			val, err := mse(net, valX, valY)
			if err != nil {
				return hist, err
			}
			hist.ValLoss = append(hist.ValLoss, val)
			monitored = val
			logger.Debug("lstm: epoch %d/%d loss=%.6f val_loss=%.6f lr=%g", epoch+1, hp.Epochs, loss, val, opt.lr)
		} else {
			logger.Debug("lstm: epoch %d/%d loss=%.6f lr=%g", epoch+1, hp.Epochs, loss, opt.lr)
		}

		if monitored < best {
			best = monitored
			bestWeights = snapshot(ps)
			hist.BestEpoch = epoch + 1
			wait = 0
		} else {
			wait++
		}

		if monitored < lrBest {
			lrBest = monitored
			lrWait = 0
		} else if lrWait++; hp.LRPatience > 0 && lrWait >= hp.LRPatience {
			next := math.Max(opt.lr*hp.LRFactor, hp.MinLR)
			if next < opt.lr {
				logger.Debug("lstm: reducing learning rate to %g", next)
				opt.lr = next
			}
			lrWait = 0
		}

		if hp.Patience > 0 && wait >= hp.Patience {
			logger.Info("lstm: early stopping at epoch %d, best epoch %d", epoch+1, hist.BestEpoch)
			hist.StoppedEarly = true
			break
		}
	}

	restore(ps, bestWeights)
	net.LearningRate = opt.lr
	return hist, nil
}

func mse(net *Network, X [][]float64, y []float64) (float64, error) {
	var sum float64
	for i, x := range X {
		v, err := net.Predict(x)
		if err != nil {
			return 0, fmt.Errorf("validation sample %d: %w", i, err)
		}
		d := v - y[i]
		sum += d * d
	}
	return sum / float64(len(X)), nil
}
