package pipeline

import (
	"context"
	"fmt"

	"github.com/rewired-gh/pmoforecast/internal/arima"
	"github.com/rewired-gh/pmoforecast/internal/forecast"
	"github.com/rewired-gh/pmoforecast/internal/lstm"
	"github.com/rewired-gh/pmoforecast/internal/metrics"
	"github.com/rewired-gh/pmoforecast/internal/models"
	"github.com/rewired-gh/pmoforecast/internal/prep"
	"github.com/rewired-gh/pmoforecast/internal/registry"
)

// ARIMARunner searches an ARIMA order on the training series and forecasts
// the test period directly.
type ARIMARunner struct {
	Hyperparams arima.Hyperparams
	// ForecastDays extends the forecast past the test period; 0 disables it.
	ForecastDays int
}

func (r *ARIMARunner) Name() string { return "arima" }

func (r *ARIMARunner) Run(ctx context.Context, b *prep.SplitBundle, st *Stages) (*Outcome, error) {
	var model *arima.Model
	err := st.Do(ctx, StageBuild, func(context.Context) error {
		var err error
		model, err = arima.Build(b.TrainRaw, r.Hyperparams)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = st.Do(ctx, StageTrain, func(context.Context) error {
		var err error
		model, err = arima.Train(model, b.TrainRaw)
		return err
	})
	if err != nil {
		return nil, err
	}

	horizon := len(b.TestRaw)
	var fc, future models.Forecast
	err = st.Do(ctx, StageForecast, func(context.Context) error {
		index := b.TestRaw.Times()
		if r.ForecastDays > 0 {
			index = append(index, forecast.BusinessDays(b.TestRaw.Last(), r.ForecastDays)...)
		}
		full, err := arima.Forecast(model, horizon+r.ForecastDays, index, true)
		if err != nil {
			return err
		}
		fc = models.Forecast{Model: full.Model, Points: full.Points[:horizon]}
		future = models.Forecast{Model: full.Model, Points: full.Points[horizon:]}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var scores metrics.Scores
	err = st.Do(ctx, StageEvaluate, func(context.Context) error {
		var err error
		scores, err = metrics.EvaluateSeries(b.TestRaw, fc.Series())
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Artifact: registry.Artifact{Kind: models.KindStatistical, Model: model},
		Scores:   scores,
		Forecast: &fc,
		Config: map[string]any{
			"order":    model.Order.String(),
			"aic":      model.AIC,
			"seasonal": r.Hyperparams.Seasonal,
			"m":        r.Hyperparams.M,
			"stepwise": r.Hyperparams.Stepwise,
		},
	}
	if r.ForecastDays > 0 {
		out.Future = &future
	}
	return out, nil
}

// LSTMRunner trains a stacked LSTM on scaled windows, scores one-step-ahead
// test predictions and rolls a recursive forecast past the last observation.
type LSTMRunner struct {
	Hyperparams  lstm.Hyperparams
	ForecastDays int
	// Z scales the residual band; 0 means forecast.DefaultZ.
	Z float64
}

func (r *LSTMRunner) Name() string { return "lstm" }

func (r *LSTMRunner) Run(ctx context.Context, b *prep.SplitBundle, st *Stages) (*Outcome, error) {
	var net *lstm.Network
	var hist lstm.History
	err := st.Do(ctx, StageBuild, func(context.Context) error {
		if b.TrainWindows.Len() == 0 {
			return fmt.Errorf("no training windows of size %d: %w", b.WindowSize, models.ErrInsufficientData)
		}
		var err error
		net, err = lstm.Build([2]int{b.WindowSize, 1}, r.Hyperparams)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = st.Do(ctx, StageTrain, func(ctx context.Context) error {
		var err error
		net, hist, err = lstm.Train(ctx, net, b.TrainWindows.X, b.TrainWindows.Y, r.Hyperparams)
		return err
	})
	if err != nil {
		return nil, err
	}

	var fc models.Forecast
	var future *models.Forecast
	var scores metrics.Scores
	err = st.Do(ctx, StageForecast, func(context.Context) error {
		scaled, err := net.PredictBatch(b.TestWindows.X)
		if err != nil {
			return err
		}
		fc = forecast.Build("lstm", b.Scaler.InverseAll(scaled), b.TestRaw.Times(), nil, nil)
		if r.ForecastDays <= 0 {
			return nil
		}

		residuals, err := forecast.Residuals(b.TestRaw.Values(), fc.Values())
		if err != nil {
			return err
		}
		sigma, err := forecast.ResidualStd(residuals)
		if err != nil {
			return err
		}
		history := append(append([]float64(nil), b.TrainScaled...), b.TestScaled...)
		seed := history[len(history)-b.WindowSize:]
		next, err := forecast.Recursive(net, seed, r.ForecastDays)
		if err != nil {
			return err
		}
		values := b.Scaler.InverseAll(next)
		z := r.Z
		if z == 0 {
			z = forecast.DefaultZ
		}
		lower, upper := forecast.ConfidenceBand(values, sigma, z)
		f := forecast.Build("lstm", values, forecast.BusinessDays(b.TestRaw.Last(), r.ForecastDays), lower, upper)
		future = &f
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = st.Do(ctx, StageEvaluate, func(context.Context) error {
		var err error
		scores, err = metrics.EvaluateSeries(b.TestRaw, fc.Series())
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Artifact: registry.Artifact{Kind: models.KindNeural, Model: net},
		Scores:   scores,
		Forecast: &fc,
		Future:   future,
		Config: map[string]any{
			"hidden_units":  r.Hyperparams.Layers(),
			"dropout":       r.Hyperparams.Dropout,
			"learning_rate": r.Hyperparams.LearningRate,
			"epochs":        r.Hyperparams.Epochs,
			"epochs_run":    hist.Epochs(),
			"best_epoch":    hist.BestEpoch,
			"batch_size":    r.Hyperparams.BatchSize,
			"seed":          r.Hyperparams.Seed,
		},
	}, nil
}
