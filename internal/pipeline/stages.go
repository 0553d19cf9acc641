package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rewired-gh/pmoforecast/internal/logger"
	"github.com/rewired-gh/pmoforecast/internal/telemetry"
)

// Stages tracks the stage a model is in and times each one.
type Stages struct {
	model    string
	tracer   trace.Tracer
	recorder *telemetry.Recorder

	mu      sync.Mutex
	current Stage
}

// Current returns the stage most recently entered.
func (s *Stages) Current() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Stages) enter(stage Stage) {
	s.mu.Lock()
	s.current = stage
	s.mu.Unlock()
}

// Do runs fn as stage. A failure is wrapped in a StageError unless fn already
// returned one.
func (s *Stages) Do(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	s.enter(stage)
	if err := ctx.Err(); err != nil {
		return &StageError{Model: s.model, Stage: stage, Err: err}
	}

	ctx, span := telemetry.StartSpan(ctx, s.tracer, string(stage),
		telemetry.AttrModel.String(s.model), telemetry.AttrStage.String(string(stage)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if s.recorder != nil {
		s.recorder.RecordStage(s.model, string(stage), elapsed.Seconds())
	}
	logger.Debug("Model %s %s took %s", s.model, stage, elapsed)

	if err == nil {
		return nil
	}
	telemetry.RecordError(span, err)
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Model: s.model, Stage: stage, Err: err}
}
