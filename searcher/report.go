package searcher

import (
	"math"
	"slices"
	"time"

	"finsim/finance"
	"finsim/stats"
)

const (
	RiskFreeRate      = 0.02
	VaRPercentile     = 0.05 // Tail of the return distribution used for the 95% VaR
	MaxRunConfidence  = 0.99
	BaseRunConfidence = 0.5
)

type Interval struct {
	Lower float64
	Upper float64
}

type Progress struct {
	Completed          int
	Total              int
	Fraction           float64
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
	Confidence         float64
	ConfidenceInterval Interval // 95% interval around the root's expected value
}

// PathEdge is one step of the optimal path. ExpectedValue and Confidence
// belong to the edge's target node.
type PathEdge struct {
	From          string
	To            string
	Action        finance.Action
	ExpectedValue float64
	Confidence    float64
}

type RiskMetrics struct {
	Samples        int
	ExpectedReturn float64
	Volatility     float64
	SharpeRatio    float64
	ValueAtRisk    float64
	MaxDrawdown    float64
}

type FinalState struct {
	Root          Node
	Leaf          Node // Last node of the optimal path
	ExpectedValue float64
	Iterations    int
	Nodes         int
	Transitions   int
	HighlyVisited int
	Complete      bool
	Stopped       bool
}

func (m *MCTS) Progress() Progress {
	m.RLock()
	defer m.RUnlock()

	total := m.config.MaxIterations
	p := Progress{
		Completed: m.completed,
		Total:     total,
	}
	if !m.initialized || total <= 0 {
		return p
	}

	p.Fraction = float64(m.completed) / float64(total)
	p.Confidence = math.Min(MaxRunConfidence, BaseRunConfidence+0.5*p.Fraction)

	end := m.endTime
	if end.IsZero() {
		end = m.now()
	}
	p.Elapsed = end.Sub(m.startTime)
	if m.completed > 0 && !m.isComplete() {
		average := p.Elapsed / time.Duration(m.completed)
		p.EstimatedRemaining = average * time.Duration(total-m.completed)
	}

	if root, ok := m.tree.Root(); ok && root.Visits > 0 {
		mean := root.ExpectedValue
		stdev := math.Sqrt(math.Abs(mean) / float64(root.Visits+1))
		p.ConfidenceInterval = Interval{
			Lower: mean - stats.Z95*stdev,
			Upper: mean + stats.Z95*stdev,
		}
	}
	return p
}

// CurrentState returns the node reached by the latest iteration, or the root
// before the first one.
func (m *MCTS) CurrentState() (Node, bool) {
	m.RLock()
	defer m.RUnlock()

	node, ok := m.tree.Node(m.current)
	if !ok {
		return Node{}, false
	}
	return node.clone(), true
}

func (m *MCTS) ExpectedValue() float64 {
	m.RLock()
	defer m.RUnlock()

	root, ok := m.tree.Root()
	if !ok {
		return 0
	}
	return root.ExpectedValue
}

func (m *MCTS) FinalState() FinalState {
	m.RLock()
	defer m.RUnlock()

	final := FinalState{
		Iterations:    m.completed,
		Nodes:         m.tree.Len(),
		Transitions:   m.transitions.Len(),
		HighlyVisited: m.transitions.HighlyVisited(),
		Complete:      m.isComplete(),
		Stopped:       m.stopped.Load(),
	}
	root, ok := m.tree.Root()
	if !ok {
		return final
	}
	final.Root = root.clone()
	final.ExpectedValue = root.ExpectedValue
	final.Leaf = final.Root

	path := m.optimalPath()
	if len(path) > 0 {
		if leaf, ok := m.tree.Node(path[len(path)-1].To); ok {
			final.Leaf = leaf.clone()
		}
	}
	return final
}

// OptimalPath follows the visited child with the highest expected value from
// the root down.
func (m *MCTS) OptimalPath() []PathEdge {
	m.RLock()
	defer m.RUnlock()

	return m.optimalPath()
}

func (m *MCTS) optimalPath() []PathEdge {
	node, ok := m.tree.Root()
	if !ok {
		return nil
	}

	path := []PathEdge{}
	for {
		var best *Node
		for _, id := range node.Children {
			child, ok := m.tree.Node(id)
			if !ok || child.Visits == 0 {
				continue
			}
			if best == nil || child.ExpectedValue > best.ExpectedValue {
				best = child
			}
		}
		if best == nil {
			return path
		}

		edge := PathEdge{
			From:          node.ID,
			To:            best.ID,
			ExpectedValue: best.ExpectedValue,
			Confidence:    best.Confidence,
		}
		if t, ok := m.transitions.Lookup(best.ID); ok {
			edge.Action = t.Action
		}
		path = append(path, edge)
		node = best
	}
}

// RiskMetrics summarises the returns, relative to the root's value, of the
// visited leaves and horizon nodes. Without samples every metric is zero.
func (m *MCTS) RiskMetrics() RiskMetrics {
	m.RLock()
	defer m.RUnlock()

	returns := m.terminalReturns()
	if len(returns) == 0 {
		return RiskMetrics{}
	}

	mean := stats.Mean(returns)
	volatility := stats.PopStdev(returns)
	sharpe := 0.0
	if volatility > 0 {
		sharpe = (mean - RiskFreeRate) / volatility
	}

	sorted := slices.Clone(returns)
	slices.Sort(sorted)

	return RiskMetrics{
		Samples:        len(returns),
		ExpectedReturn: mean,
		Volatility:     volatility,
		SharpeRatio:    sharpe,
		ValueAtRisk:    math.Abs(stats.Percentile(sorted, VaRPercentile)),
		MaxDrawdown:    stats.MaxDrawdown(returns),
	}
}

func (m *MCTS) terminalReturns() []float64 {
	root, ok := m.tree.Root()
	if !ok {
		return nil
	}

	returns := []float64{}
	m.tree.Walk(func(n *Node) bool {
		if n.Visits == 0 {
			return true
		}
		if len(n.Children) > 0 && n.Depth < m.horizon {
			return true
		}
		r := 0.0
		if root.Value != 0 {
			r = (n.Value - root.Value) / root.Value
		}
		returns = append(returns, r)
		return true
	})
	return returns
}
