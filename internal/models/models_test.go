package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{
			name:    "valid bar",
			bar:     Bar{Date: day("2024-01-02"), Ticker: "TSLA", Close: 248.4, Volume: 1000},
			wantErr: false,
		},
		{
			name:    "missing date",
			bar:     Bar{Ticker: "TSLA", Close: 248.4},
			wantErr: true,
		},
		{
			name:    "empty ticker",
			bar:     Bar{Date: day("2024-01-02"), Close: 248.4},
			wantErr: true,
		},
		{
			name:    "missing close",
			bar:     Bar{Date: day("2024-01-02"), Ticker: "TSLA", Close: math.NaN()},
			wantErr: true,
		},
		{
			name:    "negative volume",
			bar:     Bar{Date: day("2024-01-02"), Ticker: "TSLA", Close: 1, Volume: -5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Bar.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBarField(t *testing.T) {
	b := Bar{Open: 1, High: 2, Low: 0.5, Close: 1.5, AdjClose: 1.4, Volume: 100}
	for col, want := range map[string]float64{
		"open": 1, "high": 2, "low": 0.5, "close": 1.5, "adj_close": 1.4, "volume": 100,
	} {
		got, err := b.Field(col)
		if err != nil {
			t.Fatalf("Field(%q): %v", col, err)
		}
		if got != want {
			t.Errorf("Field(%q) = %v, want %v", col, got, want)
		}
	}
	if _, err := b.Field("ticker"); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for unknown column, got %v", err)
	}
}

func TestTimeSeriesValidate(t *testing.T) {
	ok := TimeSeries{{Time: day("2024-01-02"), Value: 1}, {Time: day("2024-01-03"), Value: 2}}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	dup := TimeSeries{{Time: day("2024-01-02"), Value: 1}, {Time: day("2024-01-02"), Value: 2}}
	if err := dup.Validate(); err == nil {
		t.Error("expected error for duplicate timestamps")
	}
	if got := ok.Last(); !got.Equal(day("2024-01-03")) {
		t.Errorf("Last() = %v", got)
	}
	if !(TimeSeries{}).First().IsZero() {
		t.Error("First() of empty series should be zero")
	}
}

func TestRunRecord(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	r := RunRecord{Name: "lstm", RunID: NewRunID(now), Path: "runs/lstm_20240305_140709"}
	if r.RunID != "20240305_140709" {
		t.Errorf("NewRunID = %s", r.RunID)
	}
	if r.Dir() != "lstm_20240305_140709" {
		t.Errorf("Dir() = %s", r.Dir())
	}
	if r.Key() != "lstm::20240305_140709" {
		t.Errorf("Key() = %s", r.Key())
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	r.RunID = "2024-03-05"
	if err := r.Validate(); err == nil {
		t.Error("expected error for malformed run id")
	}
}

func TestArtifactKindFramework(t *testing.T) {
	if KindNeural.Framework() != "neural" || KindStatistical.Framework() != "statistical" || KindGeneric.Framework() != "generic" {
		t.Error("unexpected framework tags")
	}
}
