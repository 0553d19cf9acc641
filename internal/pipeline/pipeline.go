// Package pipeline orchestrates one experiment run: prepare the data once,
// then build, train, forecast, evaluate and register each requested model in
// order, isolating failures per model.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/rewired-gh/pmoforecast/internal/forecast"
	"github.com/rewired-gh/pmoforecast/internal/logger"
	"github.com/rewired-gh/pmoforecast/internal/metrics"
	"github.com/rewired-gh/pmoforecast/internal/models"
	"github.com/rewired-gh/pmoforecast/internal/prep"
	"github.com/rewired-gh/pmoforecast/internal/registry"
	"github.com/rewired-gh/pmoforecast/internal/telemetry"
)

// Stage names one step of a model run.
type Stage string

const (
	StageBuild    Stage = "build"
	StageTrain    Stage = "train"
	StageForecast Stage = "forecast"
	StageEvaluate Stage = "evaluate"
	StageRegister Stage = "register"
)

// StageError is a failure of one model at one stage.
type StageError struct {
	Model string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Model, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome is what a runner hands back for registration.
type Outcome struct {
	Artifact registry.Artifact
	Scores   metrics.Scores
	// Forecast covers the test period; Future extends past the last
	// observation when the runner produces one.
	Forecast *models.Forecast
	Future   *models.Forecast
	Config   map[string]any
}

// Runner executes the stages of one model family.
type Runner interface {
	Name() string
	Run(ctx context.Context, bundle *prep.SplitBundle, st *Stages) (*Outcome, error)
}

// Result is the per-model entry of a run. It marshals to the metrics map on
// success and to {"error": message} on failure.
type Result struct {
	RunID   string
	Metrics map[string]float64
	Skipped []string
	Future  *models.Forecast
	Trend   *forecast.TrendSummary
	Record  *models.RunRecord
	Err     error
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]string{"error": r.Err.Error()})
	}
	return json.Marshal(r.Metrics)
}

// Results maps model name to result.
type Results map[string]Result

// Config holds orchestration settings.
type Config struct {
	Data prep.Options
	// ModelTimeout cancels one model's context after this long; 0 disables
	// the bound. The next model starts only once the cancelled one returns.
	ModelTimeout time.Duration
}

// Pipeline runs requested models sequentially against one registry.
type Pipeline struct {
	registry *registry.Registry
	runners  map[string]Runner
	config   Config
	clock    func() time.Time
	recorder *telemetry.Recorder
	tracer   trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock that stamps run ids.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithTracer sets the tracer for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a pipeline over reg with the given runners.
func New(reg *registry.Registry, cfg Config, runners []Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: reg,
		runners:  make(map[string]Runner, len(runners)),
		config:   cfg,
		clock:    time.Now,
		tracer:   telemetry.Tracer(),
	}
	for _, r := range runners {
		p.runners[r.Name()] = r
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run prepares bars once and runs each named model in order. Data and
// configuration errors abort the run; model failures are recorded in Results.
func (p *Pipeline) Run(ctx context.Context, bars []models.Bar, names []string) (Results, error) {
	now := p.clock()
	runID := models.NewRunID(now)
	session := uuid.New().String()

	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline.run",
		telemetry.AttrRunID.String(runID), telemetry.AttrSession.String(session))
	defer span.End()

	bundle, err := prep.Prepare(bars, p.config.Data)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to prepare data: %w", err)
	}
	logger.Info("Run %s: %d train / %d test observations of %s", runID,
		len(bundle.TrainRaw), len(bundle.TestRaw), bundle.TargetColumn)

	results := make(Results, len(names))
	for _, name := range names {
		runner, ok := p.runners[name]
		if !ok {
			logger.Warn("Unknown model %q, skipping", name)
			if p.recorder != nil {
				p.recorder.RecordRun(name, "skipped")
			}
			continue
		}
		results[name] = p.runModel(ctx, runID, session, runner, bundle)
	}

	if p.recorder != nil {
		p.recorder.MarkRunComplete(float64(p.clock().Unix()))
	}
	return results, nil
}

func (p *Pipeline) runModel(ctx context.Context, runID, session string, runner Runner, bundle *prep.SplitBundle) Result {
	name := runner.Name()
	ctx, span := telemetry.StartSpan(ctx, p.tracer, "model."+name, telemetry.AttrModel.String(name))
	defer span.End()

	st := &Stages{model: name, tracer: p.tracer, recorder: p.recorder}
	out, err := p.invoke(ctx, runner, bundle, st)
	if err == nil && out == nil {
		err = &StageError{Model: name, Stage: st.Current(), Err: errors.New("runner returned no outcome")}
	}

	var rec *models.RunRecord
	if err == nil {
		err = st.Do(ctx, StageRegister, func(context.Context) error {
			var regErr error
			rec, regErr = p.registry.Register(name, runID, out.Artifact, out.Scores.Values,
				p.runConfig(out), registry.WithSessionID(session))
			return regErr
		})
	}

	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("Model %s failed: %v", name, err)
		if p.recorder != nil {
			p.recorder.RecordRun(name, "failed")
		}
		return Result{RunID: runID, Err: err}
	}

	if p.recorder != nil {
		p.recorder.RecordRun(name, "ok")
		p.recorder.RecordScores(name, out.Scores.Values)
	}
	if len(out.Scores.Skipped) > 0 {
		logger.Warn("Model %s: metrics not computable: %v", name, out.Scores.Skipped)
	}
	res := Result{
		RunID:   runID,
		Metrics: out.Scores.Values,
		Skipped: out.Scores.Skipped,
		Future:  out.Future,
		Record:  rec,
	}
	if out.Future != nil {
		tr := forecast.Trend(*out.Future)
		res.Trend = &tr
		logger.Info("Model %s trend: %s %.2f%%", name, tr.Direction, tr.PctChange)
	}
	logger.Info("Model %s finished: %v", name, out.Scores.Values)
	return res
}

// invoke runs the runner, converting panics into a StageError. With a model
// timeout the runner's context is cancelled at the deadline and invoke waits
// for it to return, so models never overlap.
func (p *Pipeline) invoke(ctx context.Context, runner Runner, bundle *prep.SplitBundle, st *Stages) (*Outcome, error) {
	call := func(ctx context.Context) (out *Outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Model %s panicked: %v\n%s", st.model, r, debug.Stack())
				out, err = nil, &StageError{Model: st.model, Stage: st.Current(), Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		return runner.Run(ctx, bundle, st)
	}

	if p.config.ModelTimeout <= 0 {
		return call(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.ModelTimeout)
	defer cancel()

	type reply struct {
		out *Outcome
		err error
	}
	done := make(chan reply, 1)
	go func() {
		out, err := call(ctx)
		done <- reply{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		stage := st.Current()
		logger.Warn("Model %s timed out during %s, waiting for it to stop", st.model, stage)
		<-done
		return nil, &StageError{Model: st.model, Stage: stage, Err: ctx.Err()}
	}
}

func (p *Pipeline) runConfig(out *Outcome) map[string]any {
	cfg := map[string]any{
		"target_col":  p.config.Data.TargetColumn,
		"train_start": p.config.Data.TrainStart,
		"train_end":   p.config.Data.TrainEnd,
		"test_start":  p.config.Data.TestStart,
		"test_end":    p.config.Data.TestEnd,
		"window_size": p.config.Data.WindowSize,
	}
	for k, v := range out.Config {
		cfg[k] = v
	}
	return cfg
}
