package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pmoforecast/internal/arima"
	"github.com/rewired-gh/pmoforecast/internal/config"
	"github.com/rewired-gh/pmoforecast/internal/logger"
	"github.com/rewired-gh/pmoforecast/internal/lstm"
	"github.com/rewired-gh/pmoforecast/internal/marketdata"
	"github.com/rewired-gh/pmoforecast/internal/metrics"
	"github.com/rewired-gh/pmoforecast/internal/models"
	"github.com/rewired-gh/pmoforecast/internal/pipeline"
	"github.com/rewired-gh/pmoforecast/internal/registry"
	"github.com/rewired-gh/pmoforecast/internal/storage"
	"github.com/rewired-gh/pmoforecast/internal/telegram"
	"github.com/rewired-gh/pmoforecast/internal/telemetry"
)

var (
	configPath string
	modelNames []string
	promotions int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pmoforecast",
		Short: "Train, compare and promote price forecasting models",
		Long: `Runs reproducible forecasting experiments over daily market data.
Each run fits the configured models on a train range, scores them on a
disjoint test range, registers the artifacts and promotes the best one.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(promoteCmd())
	rootCmd.AddCommand(bestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg      *config.Config
	store    *storage.Storage
	registry *registry.Registry
	notifier *telegram.Client
}

func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", configPath)

	store, err := storage.New(cfg.Registry.MaxRuns, cfg.Registry.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	reg, err := registry.New(cfg.Registry.RunsDir, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	a := &app{cfg: cfg, store: store, registry: reg}
	if cfg.Telegram.Enabled {
		a.notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

func (a *app) comparator() *registry.Comparator {
	c := &registry.Comparator{
		Metric:      a.cfg.Registry.Metric,
		Minimize:    a.cfg.Registry.Minimize,
		ChampionDir: a.cfg.Registry.ChampionDir,
	}
	if a.notifier != nil {
		c.Notifier = a.notifier
	}
	return c
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured models and promote the champion",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tp, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
				ServiceName: a.cfg.Telemetry.ServiceName,
				Endpoint:    a.cfg.Telemetry.TracingEndpoint,
				Insecure:    a.cfg.Telemetry.TracingInsecure,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
			defer func() {
				if err := telemetry.Shutdown(context.Background(), tp); err != nil {
					logger.Warn("Failed to flush traces: %v", err)
				}
			}()

			names := a.cfg.Pipeline.Models
			if len(modelNames) > 0 {
				names = modelNames
			}
			return a.run(ctx, names)
		},
	}
	cmd.Flags().StringSliceVar(&modelNames, "models", nil, "Models to run (default: pipeline.models)")
	return cmd
}

func (a *app) run(ctx context.Context, names []string) error {
	cfg := a.cfg
	if cfg.Data.CSVPath == "" {
		return fmt.Errorf("data.csv_path is required for run: %w", models.ErrConfig)
	}

	provider := marketdata.NewCSVProvider(cfg.Data.CSVPath, cfg.Data.AdjustClose)
	bars, err := provider.Bars(ctx, cfg.Forecasting.Data.Ticker)
	if err != nil {
		a.reportError(err)
		return fmt.Errorf("failed to load market data: %w", err)
	}
	logger.Info("Loaded %d bars for %s from %s", len(bars), cfg.Forecasting.Data.Ticker, cfg.Data.CSVPath)

	recorder := telemetry.NewRecorder()
	runners := []pipeline.Runner{
		&pipeline.ARIMARunner{
			Hyperparams:  cfg.ARIMAHyperparams(),
			ForecastDays: cfg.Forecasting.LSTM.ForecastingDays,
		},
		&pipeline.LSTMRunner{
			Hyperparams:  cfg.LSTMHyperparams(),
			ForecastDays: cfg.Forecasting.LSTM.ForecastingDays,
			Z:            cfg.Forecasting.LSTM.ConfidenceZ,
		},
	}
	p := pipeline.New(a.registry, pipeline.Config{
		Data:         cfg.PrepOptions(),
		ModelTimeout: cfg.Pipeline.ModelTimeout,
	}, runners, pipeline.WithRecorder(recorder))

	results, err := p.Run(ctx, bars, names)
	if err != nil {
		a.reportError(err)
		return err
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	fmt.Println(string(out))

	if a.notifier != nil {
		runID := ""
		for _, res := range results {
			runID = res.RunID
			break
		}
		if err := a.notifier.SendRunSummary(runID, results); err != nil {
			logger.Warn("Failed to send run summary to Telegram: %v", err)
		}
	}

	if rec, promo, err := a.comparator().SelectAndPromote(a.registry); err != nil {
		logger.Warn("No champion promoted: %v", err)
	} else {
		logger.Info("Champion: %s (%s=%.4f) at %s", rec.Key(), promo.Metric, promo.Value, promo.ChampionDir)
	}

	if path := cfg.Telemetry.MetricsFile; path != "" {
		if err := recorder.WriteTextfile(path); err != nil {
			logger.Warn("Failed to write metrics file: %v", err)
		}
	}
	return nil
}

func (a *app) reportError(err error) {
	if a.notifier == nil {
		return
	}
	if sendErr := a.notifier.SendError(err); sendErr != nil {
		logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
	}
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print every registered run ranked by the configured metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			rows := a.registry.Summary()
			if ranked, err := a.comparator().Compare(a.registry); err == nil {
				rows = ranked
			}
			printSummary(rows)

			if promotions > 0 {
				history, err := a.store.Promotions(promotions)
				if err != nil {
					return err
				}
				fmt.Printf("\n=== Promotions ===\n")
				for _, p := range history {
					fmt.Printf("%s  %s_%s  %s=%.4f\n", p.PromotedAt.Format("2006-01-02 15:04:05"), p.Name, p.RunID, p.Metric, p.Value)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&promotions, "promotions", 0, "Also list the last N promotions")
	return cmd
}

func printSummary(rows []registry.SummaryRow) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := append([]string{"NAME", "RUN_ID", "FRAMEWORK"}, metrics.Names...)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		cols := []string{row.Name, row.RunID, row.Framework}
		for _, m := range metrics.Names {
			if v, ok := row.Metrics[m]; ok {
				cols = append(cols, fmt.Sprintf("%.4f", v))
			} else {
				cols = append(cols, "-")
			}
		}
		fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
	_ = w.Flush()
}

func promoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Select the best registered run and copy it to the champion directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			rec, p, err := a.comparator().SelectAndPromote(a.registry)
			if err != nil {
				return fmt.Errorf("failed to promote champion: %w", err)
			}
			fmt.Printf("Promoted %s (%s=%.4f) to %s\n", rec.Key(), p.Metric, p.Value, p.ChampionDir)
			return nil
		},
	}
}

func bestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best",
		Short: "Reload the best registered model and describe it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.registry.GetBest(a.cfg.Registry.Metric, a.cfg.Registry.Minimize)
			if err != nil {
				return err
			}
			fmt.Printf("Best run: %s (%s)\n", rec.Key(), rec.Framework)
			keys := make([]string, 0, len(rec.Metrics))
			for k := range rec.Metrics {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s: %.4f\n", k, rec.Metrics[k])
			}

			model, err := registry.LoadModel(rec, rec.Path)
			if err != nil {
				return fmt.Errorf("failed to reload model: %w", err)
			}
			switch m := model.(type) {
			case *arima.Model:
				fmt.Printf("  order: %s, aic: %.2f, sigma2: %.6f\n", m.Order, m.AIC, m.Sigma2)
			case *lstm.Network:
				fmt.Printf("  layers: %v, window: %d\n", m.HiddenUnits, m.Timesteps)
			}
			return nil
		},
	}
}
