package metrics

import (
	"sync/atomic"
	"time"
)

type SearchMetric struct {
	RunID         string
	MaxIterations int
	Horizon       int
	StartTime     time.Time
	Duration      time.Duration
	Iterations    int
	FullRollouts  int // Rollouts that walked at least one step before reaching a terminal state
	NodesCreated  int
	IsStopped     bool
}

type Collector interface {
	Start(runID string, maxIterations, horizon int)
	AddIteration()
	AddRollout(steps int)
	AddNode()
	SetStopped(value bool)
	Complete() SearchMetric
}

type collector struct {
	runID         string
	maxIterations int
	horizon       int
	startTime     time.Time
	iterations    atomic.Int32
	fullRollouts  atomic.Int32
	nodesCreated  atomic.Int32
	isStopped     atomic.Bool
}

func NewCollector() Collector {
	return &collector{}
}

func (m *collector) Start(runID string, maxIterations, horizon int) {
	m.runID = runID
	m.maxIterations = maxIterations
	m.horizon = horizon
	m.startTime = time.Now()
}

func (m *collector) AddIteration() {
	m.iterations.Add(1)
}

func (m *collector) AddRollout(steps int) {
	if steps > 0 {
		m.fullRollouts.Add(1)
	}
}

func (m *collector) AddNode() {
	m.nodesCreated.Add(1)
}

func (m *collector) SetStopped(value bool) {
	m.isStopped.Store(value)
}

func (m *collector) Complete() SearchMetric {
	return SearchMetric{
		RunID:         m.runID,
		MaxIterations: m.maxIterations,
		Horizon:       m.horizon,
		StartTime:     m.startTime,
		Duration:      time.Since(m.startTime),
		Iterations:    int(m.iterations.Load()),
		FullRollouts:  int(m.fullRollouts.Load()),
		NodesCreated:  int(m.nodesCreated.Load()),
		IsStopped:     m.isStopped.Load(),
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start(runID string, maxIterations, horizon int) {}
func (m *dummyCollector) AddIteration()                                  {}
func (m *dummyCollector) AddRollout(steps int)                           {}
func (m *dummyCollector) AddNode()                                       {}
func (m *dummyCollector) SetStopped(value bool)                          {}
func (m *dummyCollector) Complete() SearchMetric                         { return SearchMetric{} }
