package engine

import (
	"context"
	"fmt"

	"finsim/searcher"

	"github.com/rs/zerolog/log"
)

type LocalEngine struct {
	Search           *searcher.MCTS
	ProgressInterval int // Iterations between progress logs
}

func NewLocalEngine(search *searcher.MCTS, progressInterval int) *LocalEngine {
	if search == nil {
		panic("engine needs a search")
	}
	if progressInterval <= 0 {
		progressInterval = DefaultProgressInterval
	}
	return &LocalEngine{
		Search:           search,
		ProgressInterval: progressInterval,
	}
}

// Run drives the search one iteration at a time on the calling goroutine.
// Cancelling the context stops the search between iterations; the partial
// result is still returned alongside the context error.
func (e *LocalEngine) Run(ctx context.Context) (Result, error) {
	if !e.Search.IsInitialized() {
		return Result{}, fmt.Errorf("run %s: %w", e.Search.RunID(), searcher.ErrNotInitialized)
	}

	log.Info().Str("run", e.Search.RunID()).Msg("starting search")

	count := 0
	for {
		select {
		case <-ctx.Done():
			e.Search.Stop()
			result := e.result()
			log.Warn().
				Str("run", result.RunID).
				Int("completed", result.Progress.Completed).
				Msg("search cancelled")
			return result, ctx.Err()
		default:
		}

		if !e.Search.RunIteration() {
			break
		}
		count++

		if count%e.ProgressInterval == 0 {
			p := e.Search.Progress()
			log.Info().
				Str("run", e.Search.RunID()).
				Int("completed", p.Completed).
				Int("total", p.Total).
				Dur("elapsed", p.Elapsed).
				Dur("remaining", p.EstimatedRemaining).
				Float64("expectedValue", e.Search.ExpectedValue()).
				Float64("lower", p.ConfidenceInterval.Lower).
				Float64("upper", p.ConfidenceInterval.Upper).
				Msg("search progress")
		}
	}

	result := e.result()
	log.Info().
		Str("run", result.RunID).
		Int("iterations", result.Final.Iterations).
		Int("nodes", result.Final.Nodes).
		Int("pathLength", len(result.Path)).
		Float64("expectedValue", result.Final.ExpectedValue).
		Msg("search complete")
	return result, nil
}

func (e *LocalEngine) result() Result {
	return Result{
		RunID:    e.Search.RunID(),
		Progress: e.Search.Progress(),
		Final:    e.Search.FinalState(),
		Path:     e.Search.OptimalPath(),
		Risk:     e.Search.RiskMetrics(),
	}
}
