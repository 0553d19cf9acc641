// Package marketdata loads daily price bars from the tabular input contract.
package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/logger"
	"github.com/rewired-gh/pmoforecast/internal/models"
)

// Provider supplies the bars of one ticker.
type Provider interface {
	Bars(ctx context.Context, ticker string) ([]models.Bar, error)
}

// CSVProvider reads bars from a CSV file with a header row.
type CSVProvider struct {
	Path string
	// AdjustClose rescales open, high, low and close by adj_close/close.
	AdjustClose bool
}

// NewCSVProvider creates a provider for the file at path.
func NewCSVProvider(path string, adjustClose bool) *CSVProvider {
	return &CSVProvider{Path: path, AdjustClose: adjustClose}
}

// Bars reads the file and returns the rows for ticker sorted by date.
// An empty ticker keeps every row.
func (p *CSVProvider) Bars(ctx context.Context, ticker string) ([]models.Bar, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open market data: %w", err)
	}
	defer f.Close()

	bars, err := ReadCSV(ctx, f, ticker, p.AdjustClose)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.Path, err)
	}
	logger.Info("Loaded %d bars for %q from %s", len(bars), ticker, p.Path)
	return bars, nil
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02T15:04:05",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.ReplaceAll(h, " ", "_")
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadCSV parses bars from r. Rows without a close price are dropped; when a
// date repeats for the same ticker the later row wins.
func ReadCSV(ctx context.Context, r io.Reader, ticker string, adjustClose bool) ([]models.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file: %w", models.ErrInsufficientData)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalizeHeader(h)] = i
	}
	for _, required := range []string{"date", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q: %w", required, models.ErrConfig)
		}
	}

	field := func(rec []string, name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		return rec[i], true
	}
	number := func(rec []string, name string) (float64, error) {
		s, ok := field(rec, name)
		if !ok {
			return math.NaN(), nil
		}
		v, err := parseNumber(s)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return v, nil
	}

	type key struct {
		date   time.Time
		ticker string
	}
	byKey := make(map[key]models.Bar)
	dropped, line := 0, 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rowTicker, _ := field(rec, "ticker")
		rowTicker = strings.TrimSpace(rowTicker)
		if rowTicker == "" {
			rowTicker = ticker
		}
		if ticker != "" && !strings.EqualFold(rowTicker, ticker) {
			continue
		}

		ds, _ := field(rec, "date")
		date, err := parseDate(ds)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := models.Bar{Date: date, Ticker: rowTicker}
		for name, dst := range map[string]*float64{
			"open": &bar.Open, "high": &bar.High, "low": &bar.Low,
			"close": &bar.Close, "adj_close": &bar.AdjClose, "volume": &bar.Volume,
		} {
			v, err := number(rec, name)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			*dst = v
		}
		bar.AssetClass, _ = field(rec, "asset_class")
		bar.RiskProfile, _ = field(rec, "risk_profile")

		if math.IsNaN(bar.Close) {
			dropped++
			continue
		}
		if adjustClose {
			adjust(&bar)
		}
		byKey[key{date: date.UTC(), ticker: rowTicker}] = bar
	}
	if dropped > 0 {
		logger.Warn("Dropped %d rows without a close price", dropped)
	}

	bars := make([]models.Bar, 0, len(byKey))
	for _, b := range byKey {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool {
		if !bars[i].Date.Equal(bars[j].Date) {
			return bars[i].Date.Before(bars[j].Date)
		}
		return bars[i].Ticker < bars[j].Ticker
	})
	return bars, nil
}

func adjust(b *models.Bar) {
	if math.IsNaN(b.AdjClose) || b.Close == 0 {
		return
	}
	ratio := b.AdjClose / b.Close
	b.Open *= ratio
	b.High *= ratio
	b.Low *= ratio
	b.Close = b.AdjClose
}
