package engine

import (
	"context"

	"finsim/searcher"
)

const DefaultProgressInterval = 100

type Result struct {
	RunID    string
	Progress searcher.Progress
	Final    searcher.FinalState
	Path     []searcher.PathEdge
	Risk     searcher.RiskMetrics
}

type Engine interface {
	// Run iterates a search till it completes or the context is cancelled
	Run(ctx context.Context) (Result, error)
}
