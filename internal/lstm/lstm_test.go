package lstm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func sineWindows(n, w int) ([][]float64, []float64) {
	series := make([]float64, n+w)
	for i := range series {
		series[i] = 0.5 + 0.4*math.Sin(float64(i)/4)
	}
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		X[i] = append([]float64(nil), series[i:i+w]...)
		y[i] = series[i+w]
	}
	return X, y
}

func smallHyperparams() Hyperparams {
	hp := DefaultHyperparams()
	hp.HiddenUnits = []int{6}
	hp.Dropout = 0
	hp.LearningRate = 0.01
	hp.Epochs = 30
	hp.BatchSize = 8
	hp.Seed = 7
	return hp
}

func TestHyperparamsLayers(t *testing.T) {
	tests := []struct {
		name string
		hp   Hyperparams
		want []int
	}{
		{"list", Hyperparams{HiddenUnits: []int{16, 8, 4}}, []int{16, 8, 4}},
		{"uniform", Hyperparams{Units: 32, NumLayers: 3}, []int{32, 32, 32}},
		{"uniform default depth", Hyperparams{Units: 10}, []int{10, 10}},
		{"empty", Hyperparams{}, []int{64, 32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.hp.Layers()
			if len(got) != len(tt.want) {
				t.Fatalf("Layers() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Layers() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		shape [2]int
		hp    func(*Hyperparams)
	}{
		{"zero timesteps", [2]int{0, 1}, nil},
		{"dropout one", [2]int{5, 1}, func(hp *Hyperparams) { hp.Dropout = 1 }},
		{"zero learning rate", [2]int{5, 1}, func(hp *Hyperparams) { hp.LearningRate = 0 }},
		{"empty layer", [2]int{5, 1}, func(hp *Hyperparams) { hp.HiddenUnits = []int{4, 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hp := DefaultHyperparams()
			if tt.hp != nil {
				tt.hp(&hp)
			}
			_, err := Build(tt.shape, hp)
			if err == nil || !strings.HasPrefix(err.Error(), "lstm build failed:") {
				t.Fatalf("err = %v, want build failure", err)
			}
		})
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	hp := DefaultHyperparams()
	hp.HiddenUnits = []int{3, 2}
	hp.Dropout = 0
	net, err := Build([2]int{4, 1}, hp)
	if err != nil {
		t.Fatal(err)
	}
	x := []float64{0.1, 0.4, 0.35, 0.8}
	target := 0.3

	loss := func() float64 {
		out, err := net.Predict(x)
		if err != nil {
			t.Fatal(err)
		}
		return (out - target) * (out - target)
	}

	ps := net.params()
	for _, p := range ps {
		p.zeroGrad()
	}
	fp, err := net.forward(x, nil)
	if err != nil {
		t.Fatal(err)
	}
	net.backward(fp, 2*(fp.out-target))

	const eps = 1e-5
	for pi, p := range ps {
		for i := range p.W {
			orig := p.W[i]
			p.W[i] = orig + eps
			up := loss()
			p.W[i] = orig - eps
			down := loss()
			p.W[i] = orig

			numeric := (up - down) / (2 * eps)
			analytic := p.G[i]
			scale := math.Max(1e-6, math.Abs(numeric)+math.Abs(analytic))
			if diff := math.Abs(numeric - analytic); diff > 1e-8 && diff/scale > 1e-4 {
				t.Fatalf("param %d[%d]: analytic %.8g, numeric %.8g", pi, i, analytic, numeric)
			}
		}
	}
}

func TestTrainReducesLoss(t *testing.T) {
	X, y := sineWindows(120, 5)
	hp := smallHyperparams()
	net, err := Build([2]int{5, 1}, hp)
	if err != nil {
		t.Fatal(err)
	}

	_, hist, err := Train(context.Background(), net, X, y, hp)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if hist.Epochs() == 0 {
		t.Fatal("no epochs recorded")
	}
	if len(hist.ValLoss) != hist.Epochs() {
		t.Errorf("val loss has %d entries for %d epochs", len(hist.ValLoss), hist.Epochs())
	}
	first, last := hist.Loss[0], hist.Loss[len(hist.Loss)-1]
	if last >= first {
		t.Errorf("loss did not decrease: first %.5f last %.5f", first, last)
	}
}

func TestTrainRestoresBestWeights(t *testing.T) {
	X, y := sineWindows(80, 5)
	hp := smallHyperparams()
	hp.Epochs = 15
	hp.Patience = 3
	hp.ValidationSplit = 0.2
	net, err := Build([2]int{5, 1}, hp)
	if err != nil {
		t.Fatal(err)
	}

	_, hist, err := Train(context.Background(), net, X, y, hp)
	if err != nil {
		t.Fatal(err)
	}
	if hist.BestEpoch < 1 || hist.BestEpoch > hist.Epochs() {
		t.Fatalf("best epoch %d outside 1..%d", hist.BestEpoch, hist.Epochs())
	}
	bestVal := hist.ValLoss[hist.BestEpoch-1]
	for _, v := range hist.ValLoss {
		if v < bestVal {
			t.Fatalf("best epoch %d is not the minimum val loss", hist.BestEpoch)
		}
	}

	split := int(float64(len(X)) * (1 - hp.ValidationSplit))
	got, err := mse(net, X[split:], y[split:])
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-bestVal) > 1e-12 {
		t.Errorf("val loss after training %.10f, want restored %.10f", got, bestVal)
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	X, y := sineWindows(40, 4)
	hp := smallHyperparams()
	hp.Epochs = 5
	hp.Dropout = 0.2

	predict := func() float64 {
		net, err := Build([2]int{4, 1}, hp)
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := Train(context.Background(), net, X, y, hp); err != nil {
			t.Fatal(err)
		}
		v, err := net.Predict(X[0])
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	if a, b := predict(), predict(); a != b {
		t.Errorf("same seed gave %v and %v", a, b)
	}
}

func TestTrainHonorsCancellation(t *testing.T) {
	X, y := sineWindows(40, 4)
	hp := smallHyperparams()
	net, err := Build([2]int{4, 1}, hp)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = Train(ctx, net, X, y, hp)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !strings.HasPrefix(err.Error(), "lstm training failed:") {
		t.Errorf("error not wrapped: %v", err)
	}
}

func TestTrainRejectsMismatchedTargets(t *testing.T) {
	X, y := sineWindows(10, 3)
	hp := smallHyperparams()
	net, err := Build([2]int{3, 1}, hp)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Train(context.Background(), net, X, y[:5], hp); err == nil {
		t.Fatal("expected error for mismatched targets")
	}
}

func TestPredictRejectsWrongWindow(t *testing.T) {
	net, err := Build([2]int{3, 1}, smallHyperparams())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := net.Predict([]float64{1, 2}); err == nil {
		t.Error("expected error for short window")
	}
	if _, err := net.PredictBatch([][]float64{{1, 2, 3}, {1}}); err == nil {
		t.Error("expected error for short batch row")
	}
}

func TestSaveLoad(t *testing.T) {
	hp := smallHyperparams()
	hp.HiddenUnits = []int{5, 3}
	net, err := Build([2]int{4, 1}, hp)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := net.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.HiddenUnits) != 2 || loaded.HiddenUnits[0] != 5 || loaded.HiddenUnits[1] != 3 {
		t.Errorf("hidden units = %v", loaded.HiddenUnits)
	}

	x := []float64{0.2, 0.4, 0.6, 0.8}
	want, _ := net.Predict(x)
	got, err := loaded.Predict(x)
	if err != nil {
		t.Fatal(err)
	}
	if want != got {
		t.Errorf("prediction after load = %v, want %v", got, want)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"wrong format", `{"format":"other","timesteps":1,"features":1,"layers":[{"units":1}]}`},
		{"bad sizes", `{"format":"pmoforecast.lstm/v1","timesteps":2,"features":1,"layers":[{"units":2,"kernel":[1],"recurrent_kernel":[],"bias":[]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
