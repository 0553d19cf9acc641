// Package prep splits a time-indexed table into chronologically disjoint
// train/test sets, fits a leak-free scaler, and builds supervised windows.
package prep

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/models"
)

// Options selects the target and the date ranges of one preparation.
type Options struct {
	TargetColumn string
	DateColumn   string
	TrainStart   string
	TrainEnd     string
	TestStart    string
	TestEnd      string
	WindowSize   int
}

// SplitBundle is the immutable result of preparing one dataset for one run.
type SplitBundle struct {
	TargetColumn string
	WindowSize   int

	TrainRaw models.TimeSeries
	TestRaw  models.TimeSeries

	TrainScaled []float64
	TestScaled  []float64

	TrainWindows Windows
	// TestWindows are built over the last WindowSize training values followed
	// by the scaled test values, so every test observation has a target.
	TestWindows Windows

	Scaler *MinMaxScaler
}

// bound is a parsed range endpoint. Date-only ends cover the whole day.
type bound struct {
	at       time.Time
	dateOnly bool
}

func parseBound(s string) (bound, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return bound{at: t, dateOnly: true}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return bound{at: Naive(t)}, nil
	}
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return bound{at: t}, nil
	}
	return bound{}, fmt.Errorf("unparsable date %q: %w", s, models.ErrConfig)
}

// endExclusive returns the first instant after an inclusive end bound.
func (b bound) endExclusive() time.Time {
	if b.dateOnly {
		return b.at.AddDate(0, 0, 1)
	}
	return b.at.Add(time.Nanosecond)
}

// Naive drops the zone of t, keeping its wall-clock reading, and anchors it
// to UTC so date strings compare consistently regardless of source zone.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Ranges holds the four parsed range bounds.
type Ranges struct {
	trainStart, trainEnd, testStart, testEnd bound
}

// ParseRanges parses and checks the train/test ranges. Overlap (train end at
// or after test start) and inverted ranges are configuration errors.
func ParseRanges(trainStart, trainEnd, testStart, testEnd string) (Ranges, error) {
	var r Ranges
	var err error
	if r.trainStart, err = parseBound(trainStart); err != nil {
		return r, fmt.Errorf("train_start: %w", err)
	}
	if r.trainEnd, err = parseBound(trainEnd); err != nil {
		return r, fmt.Errorf("train_end: %w", err)
	}
	if r.testStart, err = parseBound(testStart); err != nil {
		return r, fmt.Errorf("test_start: %w", err)
	}
	if r.testEnd, err = parseBound(testEnd); err != nil {
		return r, fmt.Errorf("test_end: %w", err)
	}
	if r.trainStart.at.After(r.trainEnd.at) {
		return r, fmt.Errorf("train_start %s is after train_end %s: %w", trainStart, trainEnd, models.ErrConfig)
	}
	if r.testStart.at.After(r.testEnd.at) {
		return r, fmt.Errorf("test_start %s is after test_end %s: %w", testStart, testEnd, models.ErrConfig)
	}
	if r.trainEnd.endExclusive().After(r.testStart.at) {
		return r, fmt.Errorf("train_end %s must be before test_start %s (temporal overlap): %w",
			trainEnd, testStart, models.ErrConfig)
	}
	return r, nil
}

func slice(series models.TimeSeries, start, end bound) models.TimeSeries {
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(start.at) })
	endEx := end.endExclusive()
	hi := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(endEx) })
	if hi < lo {
		return nil
	}
	return append(models.TimeSeries(nil), series[lo:hi]...)
}

// TargetSeries extracts the target column as a sorted, zone-naive series.
// Bars with a missing target are dropped.
func TargetSeries(bars []models.Bar, target string) (models.TimeSeries, error) {
	series := make(models.TimeSeries, 0, len(bars))
	for i := range bars {
		v, err := bars[i].Field(target)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) {
			continue
		}
		series = append(series, models.Point{Time: Naive(bars[i].Date), Value: v})
	}
	sort.SliceStable(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s series: %w", target, err)
	}
	return series, nil
}

// Prepare splits bars into train/test, fits the scaler on the training target
// only, and emits train and test windows.
func Prepare(bars []models.Bar, opts Options) (*SplitBundle, error) {
	if opts.DateColumn != "" && opts.DateColumn != "date" {
		return nil, fmt.Errorf("date column %q not in input contract: %w", opts.DateColumn, models.ErrConfig)
	}
	target := opts.TargetColumn
	if target == "" {
		target = "close"
	}

	ranges, err := ParseRanges(opts.TrainStart, opts.TrainEnd, opts.TestStart, opts.TestEnd)
	if err != nil {
		return nil, err
	}

	series, err := TargetSeries(bars, target)
	if err != nil {
		return nil, err
	}

	train := slice(series, ranges.trainStart, ranges.trainEnd)
	test := slice(series, ranges.testStart, ranges.testEnd)
	if len(train) == 0 {
		return nil, fmt.Errorf("no training rows in [%s, %s]: %w", opts.TrainStart, opts.TrainEnd, models.ErrInsufficientData)
	}
	if len(test) == 0 {
		return nil, fmt.Errorf("no test rows in [%s, %s]: %w", opts.TestStart, opts.TestEnd, models.ErrInsufficientData)
	}
	if !train.Last().Before(test.First()) {
		return nil, fmt.Errorf("train and test overlap in time: %w", models.ErrConfig)
	}

	w := opts.WindowSize
	if w < 1 || w >= len(train) {
		return nil, fmt.Errorf("window size %d must be in [1, %d): %w", w, len(train), models.ErrInsufficientData)
	}

	scaler, err := FitMinMax(train.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	trainScaled := scaler.TransformAll(train.Values())
	testScaled := scaler.TransformAll(test.Values())

	testInput := make([]float64, 0, w+len(testScaled))
	testInput = append(testInput, trainScaled[len(trainScaled)-w:]...)
	testInput = append(testInput, testScaled...)

	return &SplitBundle{
		TargetColumn: target,
		WindowSize:   w,
		TrainRaw:     train,
		TestRaw:      test,
		TrainScaled:  trainScaled,
		TestScaled:   testScaled,
		TrainWindows: CreateSequences(trainScaled, w),
		TestWindows:  CreateSequences(testInput, w),
		Scaler:       scaler,
	}, nil
}
