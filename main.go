package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"finsim/config"
	"finsim/engine"
	"finsim/experiments"
	"finsim/experiments/metrics"
	"finsim/searcher"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	v          = viper.New()
	configPath string

	rootCmd = &cobra.Command{
		Use:           "finsim",
		Short:         "Monte Carlo tree search over financial decision paths",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a single simulation and print its optimal path and risk",
		RunE:  runSimulation,
	}
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run a grid of simulations concurrently and write the results to disk",
		RunE:  runSweep,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.String("log-level", config.DefaultLogLevel, "trace, debug, info, warn, error or disabled")
	pf.Int("iterations", searcher.DefaultMaxIterations, "Iterations per simulation")
	pf.Int("horizon", searcher.DefaultTimeHorizon, "Decision steps per path")
	pf.Float64("value", config.DefaultInitialValue, "Initial portfolio value")
	pf.Int("progress", config.DefaultProgressInterval, "Iterations between progress logs")
	mustBind(pf.Lookup("log-level"), "log_level")
	mustBind(pf.Lookup("iterations"), "max_iterations")
	mustBind(pf.Lookup("horizon"), "time_horizon")
	mustBind(pf.Lookup("value"), "initial_value")
	mustBind(pf.Lookup("progress"), "progress_interval")

	rf := runCmd.Flags()
	rf.String("tolerance", "moderate", "conservative, moderate or aggressive")
	rf.StringSlice("scenarios", []string{"baseline"}, "Active scenarios: baseline, recession, growth")
	rf.Uint64("seed", 0, "Random seed, zero seeds from the clock")
	mustBind(rf.Lookup("tolerance"), "risk_tolerance")
	mustBind(rf.Lookup("scenarios"), "scenarios")
	mustBind(rf.Lookup("seed"), "seed")

	sf := sweepCmd.Flags()
	sf.Int("goroutines", config.DefaultGoroutines, "Simulations run at once")
	sf.String("output", config.DefaultOutputDir, "Directory for sweep results")
	mustBind(sf.Lookup("goroutines"), "sweep.goroutines")
	mustBind(sf.Lookup("output"), "output_dir")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
}

func mustBind(flag *pflag.Flag, key string) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("finsim failed")
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return cfg, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Interface("config", cfg).Msg("loaded config")
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m := searcher.NewMCTS(cfg.SearchOptions()...)
	if err := m.Initialize(cfg.SearchConfig()); err != nil {
		return err
	}
	result, err := engine.NewLocalEngine(m, cfg.ProgressInterval).Run(cmd.Context())
	if err != nil && result.Progress.Completed == 0 {
		return err
	}

	printResult(cmd.OutOrStdout(), result)
	return err
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	report, err := experiments.RunSweep(cmd.Context(), cfg, metrics.NewPrometheusMetrics(reg))
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(filepath.Join(report.Dir, "metrics.prom"), reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d runs written to %s\n", report.Summary.Runs, report.Dir)
	if best := report.Summary.Best; best != nil {
		fmt.Fprintf(out, "best run %d (%s, %s): sharpe %.4f, expected value %.2f\n",
			best.Run, best.Tolerance, best.Scenarios, best.Risk.SharpeRatio, best.Risk.ExpectedValue)
	}
	return nil
}

func printResult(out io.Writer, r engine.Result) {
	fmt.Fprintf(out, "run %s: %d/%d iterations, %d nodes\n",
		r.RunID, r.Progress.Completed, r.Progress.Total, r.Final.Nodes)
	fmt.Fprintf(out, "expected value %.2f (95%% interval %.2f to %.2f)\n",
		r.Final.ExpectedValue, r.Progress.ConfidenceInterval.Lower, r.Progress.ConfidenceInterval.Upper)

	fmt.Fprintln(out, "optimal path:")
	for i, edge := range r.Path {
		fmt.Fprintf(out, "  %2d. %-10s ev %.2f confidence %.3f\n", i+1, edge.Action, edge.ExpectedValue, edge.Confidence)
	}

	fmt.Fprintf(out, "risk over %d samples: return %.4f, volatility %.4f, sharpe %.4f, VaR %.4f, max drawdown %.4f\n",
		r.Risk.Samples, r.Risk.ExpectedReturn, r.Risk.Volatility, r.Risk.SharpeRatio, r.Risk.ValueAtRisk, r.Risk.MaxDrawdown)
}
