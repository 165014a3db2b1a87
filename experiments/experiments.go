package experiments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finsim/config"
	"finsim/engine"
	"finsim/experiments/metrics"
	"finsim/finance"
	"finsim/searcher"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const SweepName = "sweep"

// Run is one cell of the sweep grid.
type Run struct {
	ID        int
	Tolerance finance.RiskTolerance
	Scenarios []finance.Scenario
	Seed      uint64
}

type Outcome struct {
	Run    Run
	Result engine.Result
	Metric metrics.SearchMetric
}

type Report struct {
	Dir      string
	Summary  metrics.Summary
	Outcomes []Outcome
}

// Grid pairs every tolerance with every scenario set and every seed. Run ids
// start at 1 in that nesting order.
func Grid(sweep config.SweepConfig) []Run {
	runs := lo.FlatMap(sweep.Tolerances, func(tolerance string, _ int) []Run {
		return lo.FlatMap(sweep.ScenarioSets, func(set []string, _ int) []Run {
			return lo.Map(sweep.Seeds, func(seed uint64, _ int) Run {
				return Run{
					Tolerance: finance.RiskTolerance(tolerance),
					Scenarios: config.Scenarios(set),
					Seed:      seed,
				}
			})
		})
	})
	for i := range runs {
		runs[i].ID = i + 1
	}
	return runs
}

// RunSweep runs the configured grid with at most cfg.Sweep.Goroutines engines
// at a time and writes the records under cfg.OutputDir. The first failing run
// cancels the rest. prom may be nil.
func RunSweep(ctx context.Context, cfg config.Config, prom *metrics.PrometheusMetrics) (Report, error) {
	runs := Grid(cfg.Sweep)
	outcomes := make([]Outcome, len(runs))
	start := time.Now()

	log.Info().
		Int("runs", len(runs)).
		Int("goroutines", cfg.Sweep.Goroutines).
		Msg("starting sweep")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Sweep.Goroutines)
	for i, run := range runs {
		g.Go(func() error {
			outcome, err := runOne(gctx, cfg, run, prom)
			if err != nil {
				return fmt.Errorf("run %d: %w", run.ID, err)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	end := time.Now()
	report := Report{
		Outcomes: outcomes,
		Summary: metrics.Summary{
			Name:      SweepName,
			StartTime: start,
			EndTime:   end,
			Duration:  end.Sub(start),
			Runs:      len(outcomes),
			Best:      best(outcomes),
		},
	}

	writer, err := metrics.NewWriter(cfg.OutputDir, SweepName)
	if err != nil {
		return report, fmt.Errorf("failed to create sweep writer: %w", err)
	}
	report.Dir = writer.Dir()

	if err := writer.WriteRunRecords(lo.Map(outcomes, toRunRecord)); err != nil {
		return report, err
	}
	if err := writer.WritePathRecords(lo.FlatMap(outcomes, toPathRecords)); err != nil {
		return report, err
	}
	if err := writer.WriteSummary(report.Summary); err != nil {
		return report, err
	}

	log.Info().
		Str("dir", report.Dir).
		Dur("duration", report.Summary.Duration).
		Msg("completed sweep")
	return report, nil
}

func runOne(ctx context.Context, cfg config.Config, run Run, prom *metrics.PrometheusMetrics) (Outcome, error) {
	collector := metrics.NewCollector()
	if prom != nil {
		collector = prom.Collector(string(run.Tolerance))
	}

	m := searcher.NewMCTS(
		searcher.WithSeed(run.Seed),
		searcher.WithMetrics(collector),
		searcher.WithRunID(fmt.Sprintf("%s-%d", SweepName, run.ID)),
	)
	search := cfg.SearchConfig()
	search.RiskTolerance = run.Tolerance
	search.Scenarios = run.Scenarios
	if err := m.Initialize(search); err != nil {
		return Outcome{}, err
	}

	log.Info().
		Int("run", run.ID).
		Str("tolerance", string(run.Tolerance)).
		Str("scenarios", joinScenarios(run.Scenarios)).
		Uint64("seed", run.Seed).
		Msg("starting run")

	result, err := engine.NewLocalEngine(m, cfg.ProgressInterval).Run(ctx)
	if err != nil {
		return Outcome{}, err
	}

	log.Info().
		Int("run", run.ID).
		Float64("expectedValue", result.Final.ExpectedValue).
		Float64("sharpe", result.Risk.SharpeRatio).
		Msg("completed run")

	return Outcome{
		Run:    run,
		Result: result,
		Metric: collector.Complete(),
	}, nil
}

func best(outcomes []Outcome) *metrics.BestRun {
	if len(outcomes) == 0 {
		return nil
	}
	top := lo.MaxBy(outcomes, func(a, b Outcome) bool {
		return a.Result.Risk.SharpeRatio > b.Result.Risk.SharpeRatio
	})
	return &metrics.BestRun{
		Run:       top.Run.ID,
		Tolerance: string(top.Run.Tolerance),
		Scenarios: joinScenarios(top.Run.Scenarios),
		Risk:      toRiskRecord(top.Result),
	}
}

func toRunRecord(o Outcome, _ int) metrics.RunRecord {
	return metrics.RunRecord{
		RunConfig: metrics.RunConfig{
			ID:        o.Run.ID,
			Tolerance: string(o.Run.Tolerance),
			Scenarios: joinScenarios(o.Run.Scenarios),
			Seed:      o.Run.Seed,
		},
		SearchMetric: o.Metric,
		RiskRecord:   toRiskRecord(o.Result),
		PathLength:   len(o.Result.Path),
	}
}

func toPathRecords(o Outcome, _ int) []metrics.PathRecord {
	return lo.Map(o.Result.Path, func(edge searcher.PathEdge, i int) metrics.PathRecord {
		return metrics.PathRecord{
			Run:           o.Run.ID,
			Step:          i + 1,
			From:          edge.From,
			To:            edge.To,
			Action:        string(edge.Action),
			ExpectedValue: edge.ExpectedValue,
			Confidence:    edge.Confidence,
		}
	})
}

func toRiskRecord(r engine.Result) metrics.RiskRecord {
	return metrics.RiskRecord{
		ExpectedValue: r.Final.ExpectedValue,
		Lower:         r.Progress.ConfidenceInterval.Lower,
		Upper:         r.Progress.ConfidenceInterval.Upper,
		Volatility:    r.Risk.Volatility,
		SharpeRatio:   r.Risk.SharpeRatio,
		ValueAtRisk:   r.Risk.ValueAtRisk,
		MaxDrawdown:   r.Risk.MaxDrawdown,
	}
}

func joinScenarios(scenarios []finance.Scenario) string {
	return strings.Join(lo.Map(scenarios, func(s finance.Scenario, _ int) string {
		return string(s)
	}), "+")
}
