package searcher

import (
	"math"
	"sync"
	"testing"
	"time"

	"finsim/experiments/metrics"
	"finsim/finance"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
Tests sequential MCTS over the financial action model:
- selection: unvisited / not fully expanded -> same node; fully expanded -> max UCB1 child, first on ties
- expansion: unexplored action -> new child + transition; fully explored or terminal -> same node
- rollout: terminal -> evaluation; otherwise discounted random walk, tree untouched
- backup: visits and rewards up to the root, stale parent ends the walk
- outputs: progress, optimal path, risk metrics, final state
*/

func newTestMCTS(t *testing.T, config Config, options ...Option) *MCTS {
	t.Helper()
	options = append([]Option{WithSeed(1)}, options...)
	m := NewMCTS(options...)
	if config.InitialState.ID == "" {
		config.InitialState = finance.NewRootState("root", 100000)
	}
	require.NoError(t, m.Initialize(config))
	return m
}

func runToCompletion(m *MCTS) {
	for m.RunIteration() {
	}
}

func TestInitialize(t *testing.T) {
	t.Run("applying defaults", func(t *testing.T) {
		m := newTestMCTS(t, Config{})

		require.Equal(t, DefaultMaxIterations, m.config.MaxIterations)
		require.Equal(t, DefaultExploration, m.exploration)
		require.Equal(t, DefaultTimeHorizon, m.horizon)
		require.Equal(t, []finance.Scenario{finance.Baseline}, m.config.Scenarios)
		require.Equal(t, finance.Moderate, m.config.RiskTolerance)
		require.Equal(t, DefaultMaintenanceInterval, m.config.MaintenanceInterval)
	})

	t.Run("keeping an explicit zero horizon and exploration", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(0), ExplorationParameter: lo.ToPtr(0.0)})

		require.Zero(t, m.horizon)
		require.Zero(t, m.exploration)
	})

	t.Run("not sharing the caller's values", func(t *testing.T) {
		horizon := 5
		m := newTestMCTS(t, Config{TimeHorizon: &horizon})
		horizon = 9

		require.Equal(t, 5, m.horizon)
		require.Equal(t, 5, *m.config.TimeHorizon)
	})

	t.Run("creating the root", func(t *testing.T) {
		m := newTestMCTS(t, Config{})

		root, ok := m.tree.Root()
		require.True(t, ok)
		require.Equal(t, "root", root.ID)
		require.Equal(t, 100000.0, root.Value)
		require.Zero(t, root.Depth)
		require.Equal(t, finance.RootConfidence, root.Confidence)
		require.Equal(t, finance.DefaultCategory, root.Category)
	})

	t.Run("refusing a second initialization", func(t *testing.T) {
		m := newTestMCTS(t, Config{})

		err := m.Initialize(Config{})

		require.ErrorIs(t, err, ErrAlreadyInitialized)
		require.Equal(t, 1, m.tree.Len())
	})

	t.Run("iterating before initialization", func(t *testing.T) {
		m := NewMCTS(WithSeed(1))

		require.False(t, m.RunIteration())
		require.False(t, m.IsComplete())
		require.Equal(t, RiskMetrics{}, m.RiskMetrics())
		require.Empty(t, m.OptimalPath())
	})
}

func TestSelects(t *testing.T) {
	setup := func(t *testing.T, config Config) (*MCTS, *Node) {
		m := newTestMCTS(t, config)
		root, _ := m.tree.Root()
		for _, action := range m.actions(root) {
			_, err := m.tree.CreateNode(finance.State{ID: string(action)}, root.ID, action)
			require.NoError(t, err)
		}
		return m, root
	}
	visit := func(m *MCTS, id string, visits int, reward float64) {
		n, _ := m.tree.Node(id)
		n.Visits = visits
		n.TotalReward = reward
	}

	t.Run("returning an unvisited node", func(t *testing.T) {
		m := newTestMCTS(t, Config{})
		root, _ := m.tree.Root()

		require.Equal(t, root, m.selects(root))
	})

	t.Run("returning a node that is not fully expanded", func(t *testing.T) {
		m := newTestMCTS(t, Config{})
		root, _ := m.tree.Root()
		root.Visits = 3
		_, _ = m.tree.CreateNode(finance.State{ID: "a"}, root.ID, finance.Hold)
		visit(m, "a", 3, 10)

		require.Equal(t, root, m.selects(root))
	})

	t.Run("descending into the max UCB1 child", func(t *testing.T) {
		m, root := setup(t, Config{TimeHorizon: lo.ToPtr(12)})
		root.Visits = 8
		visit(m, "hold", 2, 2)
		visit(m, "reallocate", 2, 8)
		visit(m, "invest", 2, 2)
		visit(m, "diversify", 2, 2)

		got := m.selects(root)

		require.Equal(t, "reallocate", got.ID, "Equal visits should favour the highest mean reward")
	})

	t.Run("breaking ties by children order", func(t *testing.T) {
		m, root := setup(t, Config{TimeHorizon: lo.ToPtr(12)})
		root.Visits = 8
		for _, id := range root.Children {
			visit(m, id, 2, 4)
		}

		got := m.selects(root)

		require.Equal(t, root.Children[0], got.ID)
	})

	t.Run("exploiting only with zero exploration", func(t *testing.T) {
		explore, root := setup(t, Config{TimeHorizon: lo.ToPtr(12)})
		exploit, exploitRoot := setup(t, Config{TimeHorizon: lo.ToPtr(12), ExplorationParameter: lo.ToPtr(0.0)})
		for _, c := range []struct {
			m    *MCTS
			root *Node
		}{{explore, root}, {exploit, exploitRoot}} {
			c.root.Visits = 12
			visit(c.m, "hold", 1, 3)
			visit(c.m, "reallocate", 9, 36)
			visit(c.m, "invest", 1, 0)
			visit(c.m, "diversify", 1, 0)
		}

		require.Equal(t, "hold", explore.selects(root).ID, "A rarely visited child should win on exploration")
		require.Equal(t, "reallocate", exploit.selects(exploitRoot).ID, "Only the mean reward should count")
	})

	t.Run("stopping at a terminal node", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(-1)})
		root, _ := m.tree.Root()
		root.Visits = 5

		require.Equal(t, root, m.selects(root))
	})
}

func TestExpands(t *testing.T) {
	t.Run("adding a child for an unexplored action", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(12)})
		root, _ := m.tree.Root()
		_, _ = m.tree.CreateNode(finance.State{ID: "held"}, root.ID, finance.Hold)

		child := m.expands(root)

		require.NotEqual(t, root, child)
		require.NotEqual(t, finance.Hold, child.Action, "Explored actions should not be expanded again")
		require.Equal(t, root.Depth+1, child.Depth)
		require.Equal(t, root.ID, child.Parent)
		require.Equal(t, []string{"held", child.ID}, root.Children)

		transition, ok := m.transitions.Lookup(child.ID)
		require.True(t, ok)
		require.Equal(t, root.ID, transition.From)
		require.Equal(t, child.Action, transition.Action)
		require.InDelta(t, 1.0/3, transition.Probability, 1e-12, "Three actions remained")
		require.Equal(t, transition.Probability, transition.InitialProbability)
		require.False(t, transition.IsHighlyVisited)
	})

	t.Run("returning a fully expanded node", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(12)})
		root, _ := m.tree.Root()
		for range m.actions(root) {
			require.NotEqual(t, root, m.expands(root))
		}

		require.Equal(t, root, m.expands(root))
		require.Equal(t, len(m.actions(root)), len(root.Children))
	})

	t.Run("returning a terminal node", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(-1)})
		root, _ := m.tree.Root()

		require.Equal(t, root, m.expands(root))
		require.Equal(t, 1, m.tree.Len())
	})
}

func TestSimulate(t *testing.T) {
	t.Run("evaluating a terminal node directly", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(-1)}, WithEvaluationFn(func(finance.State) float64 { return 7 }))
		root, _ := m.tree.Root()

		require.Equal(t, 7.0, m.simulate(root))
	})

	t.Run("discounting a rollout by the steps taken", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(3)}, WithEvaluationFn(func(s finance.State) float64 {
			return float64(s.Depth)
		}))
		root, _ := m.tree.Root()
		root.Value = 0 // Zero value makes every step reward zero

		got := m.simulate(root)

		require.InDelta(t, 3*math.Pow(0.95, 3), got, 1e-12)
	})

	t.Run("leaving the tree untouched", func(t *testing.T) {
		m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(12)})
		root, _ := m.tree.Root()

		m.simulate(root)

		require.Equal(t, 1, m.tree.Len())
		require.Zero(t, root.Visits)
	})
}

func TestBackup(t *testing.T) {
	t.Run("updating every node up to the root", func(t *testing.T) {
		m := newTestMCTS(t, Config{})
		root, _ := m.tree.Root()
		a, _ := m.tree.CreateNode(finance.State{ID: "a"}, root.ID, finance.Hold)
		b, _ := m.tree.CreateNode(finance.State{ID: "b"}, a.ID, finance.Hold)

		for i := 1; i <= 5; i++ {
			m.backup(b, 2)
			require.Equal(t, i, b.Visits)
			require.Equal(t, i, a.Visits)
			require.Equal(t, i, root.Visits)
		}
		require.Equal(t, 10.0, root.TotalReward)
		require.Equal(t, 2.0, root.ExpectedValue)
	})

	t.Run("ending the walk at a stale parent", func(t *testing.T) {
		m := newTestMCTS(t, Config{})
		root, _ := m.tree.Root()
		a, _ := m.tree.CreateNode(finance.State{ID: "a"}, root.ID, finance.Hold)
		a.Parent = "stale"

		require.NotPanics(t, func() { m.backup(a, 1) })
		require.Equal(t, 1, a.Visits)
		require.Zero(t, root.Visits)
	})
}

func TestRunToCompletion(t *testing.T) {
	config := Config{
		MaxIterations: 200,
		TimeHorizon:   lo.ToPtr(6),
		RiskTolerance: finance.Moderate,
		Scenarios:     []finance.Scenario{finance.Baseline},
	}
	collector := metrics.NewCollector()
	m := newTestMCTS(t, config, WithMetrics(collector))

	runToCompletion(m)

	t.Run("completing every iteration", func(t *testing.T) {
		require.True(t, m.IsComplete())
		require.False(t, m.RunIteration(), "A complete search should not run")

		progress := m.Progress()
		require.Equal(t, 200, progress.Completed)
		require.Equal(t, 200, progress.Total)
		require.Equal(t, 1.0, progress.Fraction)
		require.Equal(t, MaxRunConfidence, progress.Confidence)
		require.Zero(t, progress.EstimatedRemaining)

		root, _ := m.tree.Root()
		require.Equal(t, 200, root.Visits)
	})

	t.Run("keeping the tree shape", func(t *testing.T) {
		reachable := 0
		m.tree.Walk(func(n *Node) bool {
			reachable++
			for _, id := range n.Children {
				child, ok := m.tree.Node(id)
				require.True(t, ok)
				require.Equal(t, n.Depth+1, child.Depth)
				require.Equal(t, n.ID, child.Parent)
			}
			return true
		})
		require.Equal(t, m.tree.Len(), reachable, "Every node should be reachable exactly once")
		require.Equal(t, m.tree.Len()-1, m.transitions.Len(), "One transition per non-root node")
	})

	t.Run("keeping expected values consistent", func(t *testing.T) {
		m.tree.Walk(func(n *Node) bool {
			if n.Visits > 0 {
				require.InDelta(t, n.TotalReward/float64(n.Visits), n.ExpectedValue, 1e-6)
			}
			require.LessOrEqual(t, n.Depth, 6, "Nodes should not be created past the horizon")
			return true
		})
	})

	t.Run("finding an optimal path", func(t *testing.T) {
		path := m.OptimalPath()

		require.NotEmpty(t, path)
		require.Equal(t, "root", path[0].From)
		for i, edge := range path {
			if i > 0 {
				require.Equal(t, path[i-1].To, edge.From)
			}
			node, ok := m.tree.Node(edge.To)
			require.True(t, ok)
			require.Positive(t, node.Visits)
			require.Equal(t, node.Action, edge.Action)
			require.Equal(t, node.ExpectedValue, edge.ExpectedValue)
		}
	})

	t.Run("computing risk metrics", func(t *testing.T) {
		risk := m.RiskMetrics()

		require.Positive(t, risk.Samples)
		require.GreaterOrEqual(t, risk.Volatility, 0.0)
		require.GreaterOrEqual(t, risk.ValueAtRisk, 0.0)
		require.GreaterOrEqual(t, risk.MaxDrawdown, 0.0)
	})

	t.Run("summarizing the final state", func(t *testing.T) {
		final := m.FinalState()
		path := m.OptimalPath()

		require.Equal(t, "root", final.Root.ID)
		require.Equal(t, path[len(path)-1].To, final.Leaf.ID)
		require.Equal(t, m.ExpectedValue(), final.ExpectedValue)
		require.Equal(t, 200, final.Iterations)
		require.Equal(t, m.tree.Len(), final.Nodes)
		require.True(t, final.Complete)
		require.False(t, final.Stopped)
	})

	t.Run("collecting search metrics", func(t *testing.T) {
		got := collector.Complete()

		require.Equal(t, m.RunID(), got.RunID)
		require.Equal(t, 200, got.Iterations)
		require.Equal(t, m.tree.Len(), got.NodesCreated)
	})
}

func TestSeededSearchIsReproducible(t *testing.T) {
	config := Config{MaxIterations: 150, TimeHorizon: lo.ToPtr(6), RiskTolerance: finance.Aggressive,
		Scenarios: []finance.Scenario{finance.Recession, finance.Growth}}
	a := newTestMCTS(t, config, WithSeed(99))
	b := newTestMCTS(t, config, WithSeed(99))

	runToCompletion(a)
	runToCompletion(b)

	require.Equal(t, a.tree.Len(), b.tree.Len())
	for i := range a.tree.nodes {
		require.Equal(t, *a.tree.nodes[i], *b.tree.nodes[i])
	}
	require.Equal(t, a.transitions.All(), b.transitions.All())
	require.Equal(t, a.OptimalPath(), b.OptimalPath())
	require.Equal(t, a.RiskMetrics(), b.RiskMetrics())
}

func TestTerminalNodes(t *testing.T) {
	m := newTestMCTS(t, Config{TimeHorizon: lo.ToPtr(2)})
	root, _ := m.tree.Root()
	a, _ := m.tree.CreateNode(finance.State{ID: "a"}, root.ID, finance.Hold)
	b, _ := m.tree.CreateNode(finance.State{ID: "b"}, a.ID, finance.Hold)

	require.Equal(t, 2, b.Depth)
	require.True(t, m.model.IsTerminal(b.State()))
	require.Empty(t, m.actions(b), "Nodes at the horizon should have no actions")
	require.NotEmpty(t, m.actions(a))
}

func TestTransitionNormalization(t *testing.T) {
	m := newTestMCTS(t, Config{MaxIterations: 100, TimeHorizon: lo.ToPtr(6)})

	for i := 0; i < DefaultMaintenanceInterval; i++ {
		require.True(t, m.RunIteration())
	}

	sums := map[string]float64{}
	for _, tr := range m.transitions.All() {
		sums[tr.From] += tr.Probability
	}
	require.NotEmpty(t, sums)
	for from, sum := range sums {
		require.InDelta(t, 1.0, sum, 1e-9, "Probabilities under %s should sum to one", from)
	}
}

func TestProgress(t *testing.T) {
	t.Run("zero interval without root visits", func(t *testing.T) {
		m := newTestMCTS(t, Config{MaxIterations: 10})

		progress := m.Progress()

		require.Equal(t, Interval{Lower: 0, Upper: 0}, progress.ConfidenceInterval)
		require.Equal(t, BaseRunConfidence, progress.Confidence)
	})

	t.Run("interval and timing after iterations", func(t *testing.T) {
		now := time.Unix(0, 0)
		clock := func() time.Time { return now }
		m := newTestMCTS(t, Config{MaxIterations: 10, TimeHorizon: lo.ToPtr(4)}, WithClock(clock))
		for i := 0; i < 4; i++ {
			m.RunIteration()
		}
		now = now.Add(4 * time.Second)

		progress := m.Progress()

		require.Equal(t, 4, progress.Completed)
		require.InDelta(t, 0.4, progress.Fraction, 1e-12)
		require.InDelta(t, 0.7, progress.Confidence, 1e-12)
		require.Equal(t, 4*time.Second, progress.Elapsed)
		require.Equal(t, 6*time.Second, progress.EstimatedRemaining)

		root, _ := m.tree.Root()
		stdev := math.Sqrt(math.Abs(root.ExpectedValue) / 5)
		require.InDelta(t, root.ExpectedValue-1.96*stdev, progress.ConfidenceInterval.Lower, 1e-9)
		require.InDelta(t, root.ExpectedValue+1.96*stdev, progress.ConfidenceInterval.Upper, 1e-9)
	})
}

func TestRiskMetricsDegenerate(t *testing.T) {
	t.Run("root only", func(t *testing.T) {
		m := newTestMCTS(t, Config{})

		got := m.RiskMetrics()

		require.Equal(t, RiskMetrics{}, got)
	})

	t.Run("non-positive horizon", func(t *testing.T) {
		for _, horizon := range []int{0, -1} {
			m := newTestMCTS(t, Config{MaxIterations: 20, TimeHorizon: lo.ToPtr(horizon)})

			runToCompletion(m)

			root, _ := m.tree.Root()
			require.Equal(t, 20, root.Visits)
			require.Equal(t, 1, m.tree.Len(), "Every rollout should end at the root")
			require.Empty(t, m.OptimalPath())
			got := m.RiskMetrics()
			require.Equal(t, 1, got.Samples)
			require.Zero(t, got.Volatility)
			require.Zero(t, got.SharpeRatio)
			require.Zero(t, got.ValueAtRisk)
			require.Zero(t, got.MaxDrawdown)
		}
	})
}

func TestStop(t *testing.T) {
	collector := metrics.NewCollector()
	m := newTestMCTS(t, Config{MaxIterations: 100}, WithMetrics(collector))
	for i := 0; i < 10; i++ {
		m.RunIteration()
	}
	nodes := m.tree.Len()

	m.Stop()

	require.True(t, m.IsComplete())
	require.False(t, m.RunIteration())
	require.Equal(t, nodes, m.tree.Len(), "A stopped search should not grow")
	require.Equal(t, 10, m.Progress().Completed)
	require.True(t, m.FinalState().Stopped)
	require.True(t, collector.Complete().IsStopped)
}

func TestStopAfterLastIteration(t *testing.T) {
	collector := metrics.NewCollector()
	m := newTestMCTS(t, Config{MaxIterations: 5}, WithMetrics(collector))
	runToCompletion(m)

	m.Stop()

	require.True(t, m.IsComplete())
	require.Equal(t, 5, m.Progress().Completed)
	require.False(t, collector.Complete().IsStopped, "A search that reached its cap was not cancelled")
}

func TestQueriesDuringIterations(t *testing.T) {
	m := newTestMCTS(t, Config{MaxIterations: 300, TimeHorizon: lo.ToPtr(6)})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !m.IsComplete() {
			p := m.Progress()
			assert.LessOrEqual(t, p.Completed, 300)
			m.OptimalPath()
			m.RiskMetrics()
			m.CurrentState()
		}
	}()

	runToCompletion(m)
	wg.Wait()

	current, ok := m.CurrentState()
	require.True(t, ok)
	require.NotEmpty(t, current.ID)
}
