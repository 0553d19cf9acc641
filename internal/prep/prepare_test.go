package prep

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/models"
)

// testBars builds n consecutive daily bars starting 2024-01-01 with close = 100+i.
func testBars(n int, loc *time.Location) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{
			Date:     start.AddDate(0, 0, i),
			Close:    100 + float64(i),
			AdjClose: 100 + float64(i),
			Ticker:   "TSLA",
		}
	}
	return bars
}

func testOptions() Options {
	return Options{
		TargetColumn: "close",
		DateColumn:   "date",
		TrainStart:   "2024-01-01",
		TrainEnd:     "2024-01-20",
		TestStart:    "2024-01-21",
		TestEnd:      "2024-01-30",
		WindowSize:   5,
	}
}

func TestPrepareSplitsChronologically(t *testing.T) {
	b, err := Prepare(testBars(30, time.UTC), testOptions())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(b.TrainRaw) != 20 || len(b.TestRaw) != 10 {
		t.Fatalf("got train=%d test=%d, want 20/10", len(b.TrainRaw), len(b.TestRaw))
	}
	if !b.TrainRaw.Last().Before(b.TestRaw.First()) {
		t.Error("train must end before test starts")
	}
	if b.TrainWindows.Len() != 15 {
		t.Errorf("train windows = %d, want 15", b.TrainWindows.Len())
	}
	// test windows cover every test observation
	if b.TestWindows.Len() != 10 {
		t.Errorf("test windows = %d, want 10", b.TestWindows.Len())
	}
	// scaler is fit on train only: train max (119) maps to 1, test exceeds it
	if b.Scaler.DataMin != 100 || b.Scaler.DataMax != 119 {
		t.Errorf("scaler bounds = [%v, %v], want [100, 119]", b.Scaler.DataMin, b.Scaler.DataMax)
	}
	if b.TestScaled[0] <= 1 {
		t.Errorf("test values above train max should scale above 1, got %v", b.TestScaled[0])
	}
	// first test window is the train tail
	first := b.TestWindows.X[0]
	for i, v := range first {
		if v != b.TrainScaled[15+i] {
			t.Fatalf("first test window[%d] = %v, want train tail %v", i, v, b.TrainScaled[15+i])
		}
	}
	if b.TestWindows.Y[0] != b.TestScaled[0] {
		t.Error("first test target should be the first scaled test value")
	}
}

func TestPrepareOverlapIsConfigError(t *testing.T) {
	tests := []struct {
		name               string
		trainEnd, testFrom string
		wantErr            bool
	}{
		{"disjoint", "2024-01-20", "2024-01-21", false},
		{"same day", "2024-01-20", "2024-01-20", true},
		{"test starts inside train", "2024-01-20", "2024-01-10", true},
		{"intraday overlap", "2024-01-20", "2024-01-20T12:00:00Z", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.TrainEnd = tt.trainEnd
			opts.TestStart = tt.testFrom
			_, err := Prepare(testBars(30, time.UTC), opts)
			if tt.wantErr {
				if !errors.Is(err, models.ErrConfig) {
					t.Errorf("expected ErrConfig, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPrepareWindowBounds(t *testing.T) {
	for _, w := range []int{0, 20, 25} {
		opts := testOptions()
		opts.WindowSize = w
		if _, err := Prepare(testBars(30, time.UTC), opts); !errors.Is(err, models.ErrInsufficientData) {
			t.Errorf("window %d: expected ErrInsufficientData, got %v", w, err)
		}
	}
	opts := testOptions()
	opts.WindowSize = 19
	if _, err := Prepare(testBars(30, time.UTC), opts); err != nil {
		t.Errorf("window 19 of 20 train rows should succeed: %v", err)
	}
}

func TestPrepareTimezoneNaive(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	b, err := Prepare(testBars(30, ny), testOptions())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(b.TrainRaw) != 20 {
		t.Errorf("zone-aware input should slice like naive input, got %d train rows", len(b.TrainRaw))
	}
	if b.TrainRaw[0].Time.Location() != time.UTC {
		t.Error("timestamps should be normalized to UTC wall clock")
	}
}

func TestPrepareUnsortedAndMissingTarget(t *testing.T) {
	bars := testBars(30, time.UTC)
	bars[0], bars[29] = bars[29], bars[0]
	bars[5].Close = math.NaN()
	b, err := Prepare(bars, testOptions())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(b.TrainRaw) != 19 {
		t.Errorf("row with missing target should be dropped, got %d train rows", len(b.TrainRaw))
	}
	if err := b.TrainRaw.Validate(); err != nil {
		t.Errorf("train series not sorted: %v", err)
	}
}

func TestPrepareEmptyRanges(t *testing.T) {
	opts := testOptions()
	opts.TestStart, opts.TestEnd = "2025-01-01", "2025-02-01"
	if _, err := Prepare(testBars(30, time.UTC), opts); !errors.Is(err, models.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for empty test range, got %v", err)
	}
}

func TestPrepareRejectsUnknownColumns(t *testing.T) {
	opts := testOptions()
	opts.DateColumn = "timestamp"
	if _, err := Prepare(testBars(30, time.UTC), opts); !errors.Is(err, models.ErrConfig) {
		t.Errorf("expected ErrConfig for date column, got %v", err)
	}
	opts = testOptions()
	opts.TargetColumn = "ticker"
	if _, err := Prepare(testBars(30, time.UTC), opts); !errors.Is(err, models.ErrConfig) {
		t.Errorf("expected ErrConfig for target column, got %v", err)
	}
}

func TestCreateSequences(t *testing.T) {
	data := []float64{0, 1, 2, 3, 4, 5, 6}
	for w := 1; w < len(data); w++ {
		seq := CreateSequences(data, w)
		if seq.Len() != len(data)-w {
			t.Fatalf("w=%d: got %d windows, want %d", w, seq.Len(), len(data)-w)
		}
		for i := range seq.X {
			if len(seq.X[i]) != w {
				t.Fatalf("w=%d: window %d has length %d", w, i, len(seq.X[i]))
			}
			if seq.Y[i] != data[i+w] {
				t.Fatalf("w=%d: target %d = %v, want %v", w, i, seq.Y[i], data[i+w])
			}
		}
	}
	if CreateSequences(data, len(data)).Len() != 0 {
		t.Error("window equal to length should yield no windows")
	}
}

func TestScalerRoundTrip(t *testing.T) {
	train := []float64{12.5, 40, 33.3, 18}
	s, err := FitMinMax(train)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{12.5, 20, 39.99, 40} {
		if got := s.Inverse(s.Transform(v)); math.Abs(got-v) > 1e-9 {
			t.Errorf("round trip %v -> %v", v, got)
		}
	}
	if s.Transform(12.5) != 0 || math.Abs(s.Transform(40)-1) > 1e-12 {
		t.Error("train bounds should map to 0 and 1")
	}
	if s.Transform(50) <= 1 {
		t.Error("values above range must not be clamped")
	}
}

func TestScalerConstantSeries(t *testing.T) {
	s, err := FitMinMax([]float64{7, 7, 7})
	if err != nil {
		t.Fatal(err)
	}
	if s.Transform(7) != 0 || s.Inverse(0) != 7 {
		t.Error("constant series should map to 0 and back")
	}
	if _, err := FitMinMax(nil); err == nil {
		t.Error("expected error fitting on empty input")
	}
}
