package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/rewired-gh/pmoforecast/internal/arima"
	"github.com/rewired-gh/pmoforecast/internal/lstm"
	"github.com/rewired-gh/pmoforecast/internal/metrics"
	"github.com/rewired-gh/pmoforecast/internal/models"
	"github.com/rewired-gh/pmoforecast/internal/prep"
)

// Config represents the complete application configuration
type Config struct {
	Forecasting ForecastingConfig `mapstructure:"forecasting"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Data        DataConfig        `mapstructure:"data"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ForecastingConfig groups the experiment settings.
type ForecastingConfig struct {
	Data  SplitConfig `mapstructure:"data"`
	LSTM  LSTMConfig  `mapstructure:"lstm"`
	ARIMA ARIMAConfig `mapstructure:"arima"`
}

// SplitConfig selects the series and the train/test ranges
type SplitConfig struct {
	Ticker     string `mapstructure:"ticker"`
	TargetCol  string `mapstructure:"target_col"`
	DateCol    string `mapstructure:"date_col"`
	TrainStart string `mapstructure:"train_start"`
	TrainEnd   string `mapstructure:"train_end"`
	TestStart  string `mapstructure:"test_start"`
	TestEnd    string `mapstructure:"test_end"`
}

// LSTMConfig holds network shape and training settings
type LSTMConfig struct {
	WindowSize      int     `mapstructure:"window_size"`
	HiddenUnits     []int   `mapstructure:"hidden_units"` // int or list
	Units           int     `mapstructure:"units"`
	NumLayers       int     `mapstructure:"num_layers"`
	Dropout         float64 `mapstructure:"dropout"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	Epochs          int     `mapstructure:"epochs"`
	BatchSize       int     `mapstructure:"batch_size"`
	ForecastingDays int     `mapstructure:"forecasting_days"`
	ValidationSplit float64 `mapstructure:"validation_split"`
	Patience        int     `mapstructure:"patience"`
	LRFactor        float64 `mapstructure:"lr_factor"`
	LRPatience      int     `mapstructure:"lr_patience"`
	MinLR           float64 `mapstructure:"min_lr"`
	Seed            int64   `mapstructure:"seed"`
	ConfidenceZ     float64 `mapstructure:"confidence_z"`
}

// ARIMAConfig holds the order search settings. D = -1 selects d automatically.
type ARIMAConfig struct {
	Seasonal     bool `mapstructure:"seasonal"`
	M            int  `mapstructure:"m"`
	P            int  `mapstructure:"p"`
	D            int  `mapstructure:"d"`
	Q            int  `mapstructure:"q"`
	SeasonalP    int  `mapstructure:"seasonal_p"`
	SeasonalD    int  `mapstructure:"seasonal_d"`
	SeasonalQ    int  `mapstructure:"seasonal_q"`
	MaxP         int  `mapstructure:"max_p"`
	MaxD         int  `mapstructure:"max_d"`
	MaxQ         int  `mapstructure:"max_q"`
	MaxSeasonalP int  `mapstructure:"max_seasonal_p"`
	MaxSeasonalQ int  `mapstructure:"max_seasonal_q"`
	Stepwise     bool `mapstructure:"stepwise"`
	Trace        bool `mapstructure:"trace"`
}

// PipelineConfig holds orchestration settings
type PipelineConfig struct {
	Models       []string      `mapstructure:"models"`
	ModelTimeout time.Duration `mapstructure:"model_timeout"` // 0 = no bound
}

// RegistryConfig holds artifact and catalog locations
type RegistryConfig struct {
	RunsDir     string `mapstructure:"runs_dir"`
	ChampionDir string `mapstructure:"champion_dir"`
	DBPath      string `mapstructure:"db_path"`
	MaxRuns     int    `mapstructure:"max_runs"` // 0 = unlimited; pruned runs keep their directories
	Metric      string `mapstructure:"metric"`
	Minimize    bool   `mapstructure:"minimize"`
}

// DataConfig locates the market data table
type DataConfig struct {
	CSVPath     string `mapstructure:"csv_path"`
	AdjustClose bool   `mapstructure:"adjust_close"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// TelemetryConfig holds metrics export and tracing configuration
type TelemetryConfig struct {
	MetricsFile     string `mapstructure:"metrics_file"`
	TracingEndpoint string `mapstructure:"tracing_endpoint"`
	TracingInsecure bool   `mapstructure:"tracing_insecure"`
	ServiceName     string `mapstructure:"service_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// PMO_FORECAST_FORECASTING_LSTM_EPOCHS overrides forecasting.lstm.epochs
	v.SetEnvPrefix("PMO_FORECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		scalarToIntSliceHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// scalarToIntSliceHook lets an []int field be written as a single number.
func scalarToIntSliceHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf([]int(nil)) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []int{int(reflect.ValueOf(data).Int())}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []int{int(reflect.ValueOf(data).Uint())}, nil
	case reflect.Float32, reflect.Float64:
		return []int{int(reflect.ValueOf(data).Float())}, nil
	}
	return data, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Data split defaults
	v.SetDefault("forecasting.data.target_col", "close")
	v.SetDefault("forecasting.data.date_col", "date")

	// LSTM defaults
	lh := lstm.DefaultHyperparams()
	v.SetDefault("forecasting.lstm.window_size", 60)
	v.SetDefault("forecasting.lstm.hidden_units", lh.HiddenUnits)
	v.SetDefault("forecasting.lstm.dropout", lh.Dropout)
	v.SetDefault("forecasting.lstm.learning_rate", lh.LearningRate)
	v.SetDefault("forecasting.lstm.epochs", lh.Epochs)
	v.SetDefault("forecasting.lstm.batch_size", lh.BatchSize)
	v.SetDefault("forecasting.lstm.forecasting_days", 30)
	v.SetDefault("forecasting.lstm.validation_split", lh.ValidationSplit)
	v.SetDefault("forecasting.lstm.patience", lh.Patience)
	v.SetDefault("forecasting.lstm.lr_factor", lh.LRFactor)
	v.SetDefault("forecasting.lstm.lr_patience", lh.LRPatience)
	v.SetDefault("forecasting.lstm.min_lr", lh.MinLR)
	v.SetDefault("forecasting.lstm.seed", lh.Seed)
	v.SetDefault("forecasting.lstm.confidence_z", 1.96)

	// ARIMA defaults
	ah := arima.DefaultHyperparams()
	v.SetDefault("forecasting.arima.m", ah.M)
	v.SetDefault("forecasting.arima.p", ah.P)
	v.SetDefault("forecasting.arima.d", ah.D)
	v.SetDefault("forecasting.arima.q", ah.Q)
	v.SetDefault("forecasting.arima.max_p", ah.MaxP)
	v.SetDefault("forecasting.arima.max_d", ah.MaxD)
	v.SetDefault("forecasting.arima.max_q", ah.MaxQ)
	v.SetDefault("forecasting.arima.max_seasonal_p", ah.MaxSP)
	v.SetDefault("forecasting.arima.max_seasonal_q", ah.MaxSQ)
	v.SetDefault("forecasting.arima.stepwise", ah.Stepwise)

	// Pipeline defaults
	v.SetDefault("pipeline.models", []string{"arima", "lstm"})
	v.SetDefault("pipeline.model_timeout", "0s")

	// Registry defaults
	v.SetDefault("registry.runs_dir", "./models/runs")
	v.SetDefault("registry.champion_dir", "./models/champion")
	v.SetDefault("registry.db_path", "./data/pmoforecast.db")
	v.SetDefault("registry.metric", metrics.RMSE)
	v.SetDefault("registry.minimize", true)

	// Telegram defaults
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "pmoforecast")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w: %w", models.ErrConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Validate data split
	d := c.Forecasting.Data
	for _, f := range []struct{ key, val string }{
		{"forecasting.data.ticker", d.Ticker},
		{"forecasting.data.target_col", d.TargetCol},
		{"forecasting.data.train_start", d.TrainStart},
		{"forecasting.data.train_end", d.TrainEnd},
		{"forecasting.data.test_start", d.TestStart},
		{"forecasting.data.test_end", d.TestEnd},
	} {
		if f.val == "" {
			return fmt.Errorf("%s is required", f.key)
		}
	}
	if d.DateCol != "" && d.DateCol != "date" {
		return fmt.Errorf("forecasting.data.date_col must be \"date\", got %q", d.DateCol)
	}
	if _, err := prep.ParseRanges(d.TrainStart, d.TrainEnd, d.TestStart, d.TestEnd); err != nil {
		return err
	}

	// Validate LSTM config
	l := c.Forecasting.LSTM
	if l.WindowSize < 1 {
		return fmt.Errorf("forecasting.lstm.window_size must be at least 1")
	}
	for _, u := range l.HiddenUnits {
		if u < 1 {
			return fmt.Errorf("forecasting.lstm.hidden_units must be positive")
		}
	}
	if l.Dropout < 0 || l.Dropout >= 1 {
		return fmt.Errorf("forecasting.lstm.dropout must be in [0, 1)")
	}
	if l.LearningRate <= 0 {
		return fmt.Errorf("forecasting.lstm.learning_rate must be positive")
	}
	if l.Epochs < 1 {
		return fmt.Errorf("forecasting.lstm.epochs must be at least 1")
	}
	if l.BatchSize < 1 {
		return fmt.Errorf("forecasting.lstm.batch_size must be at least 1")
	}
	if l.ForecastingDays < 0 {
		return fmt.Errorf("forecasting.lstm.forecasting_days must not be negative")
	}
	if l.ValidationSplit < 0 || l.ValidationSplit >= 1 {
		return fmt.Errorf("forecasting.lstm.validation_split must be in [0, 1)")
	}
	if l.ConfidenceZ <= 0 {
		return fmt.Errorf("forecasting.lstm.confidence_z must be positive")
	}

	// Validate ARIMA config
	a := c.Forecasting.ARIMA
	if a.D < -1 {
		return fmt.Errorf("forecasting.arima.d must be -1 (auto) or at least 0")
	}
	if a.Seasonal && a.M < 2 {
		return fmt.Errorf("forecasting.arima.m must be at least 2 for a seasonal model")
	}

	// Validate pipeline config
	if len(c.Pipeline.Models) == 0 {
		return fmt.Errorf("pipeline.models must name at least one model")
	}
	if c.Pipeline.ModelTimeout < 0 {
		return fmt.Errorf("pipeline.model_timeout must not be negative")
	}

	// Validate registry config
	if c.Registry.RunsDir == "" {
		return fmt.Errorf("registry.runs_dir is required")
	}
	if c.Registry.ChampionDir == "" {
		return fmt.Errorf("registry.champion_dir is required")
	}
	if c.Registry.Metric == "" {
		return fmt.Errorf("registry.metric is required")
	}
	if c.Registry.MaxRuns < 0 {
		return fmt.Errorf("registry.max_runs must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// PrepOptions returns the data preparation options.
func (c *Config) PrepOptions() prep.Options {
	d := c.Forecasting.Data
	return prep.Options{
		TargetColumn: d.TargetCol,
		DateColumn:   d.DateCol,
		TrainStart:   d.TrainStart,
		TrainEnd:     d.TrainEnd,
		TestStart:    d.TestStart,
		TestEnd:      d.TestEnd,
		WindowSize:   c.Forecasting.LSTM.WindowSize,
	}
}

// LSTMHyperparams returns the network settings.
func (c *Config) LSTMHyperparams() lstm.Hyperparams {
	l := c.Forecasting.LSTM
	return lstm.Hyperparams{
		HiddenUnits:     l.HiddenUnits,
		Units:           l.Units,
		NumLayers:       l.NumLayers,
		Dropout:         l.Dropout,
		LearningRate:    l.LearningRate,
		Epochs:          l.Epochs,
		BatchSize:       l.BatchSize,
		ValidationSplit: l.ValidationSplit,
		Patience:        l.Patience,
		LRFactor:        l.LRFactor,
		LRPatience:      l.LRPatience,
		MinLR:           l.MinLR,
		Seed:            l.Seed,
	}
}

// ARIMAHyperparams returns the order search settings.
func (c *Config) ARIMAHyperparams() arima.Hyperparams {
	a := c.Forecasting.ARIMA
	return arima.Hyperparams{
		Seasonal: a.Seasonal,
		M:        a.M,
		P:        a.P,
		D:        a.D,
		Q:        a.Q,
		SP:       a.SeasonalP,
		SD:       a.SeasonalD,
		SQ:       a.SeasonalQ,
		MaxP:     a.MaxP,
		MaxD:     a.MaxD,
		MaxQ:     a.MaxQ,
		MaxSP:    a.MaxSeasonalP,
		MaxSQ:    a.MaxSeasonalQ,
		Stepwise: a.Stepwise,
		Trace:    a.Trace,
	}
}
