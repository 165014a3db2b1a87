package searcher

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"finsim/experiments/metrics"
	"finsim/finance"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/exp/rand"
)

const (
	DefaultMaxIterations       = 1000
	DefaultTimeHorizon         = 12
	DefaultMaintenanceInterval = 50 // Iterations between transition probability passes
)

var (
	ErrAlreadyInitialized = errors.New("search already initialized")
	ErrNotInitialized     = errors.New("search not initialized")
)

// Config describes one simulation run. Zero and nil fields take their
// defaults; a set ExplorationParameter or TimeHorizon is used as given.
type Config struct {
	InitialState         finance.State
	MaxIterations        int
	ExplorationParameter *float64 // Zero is pure exploitation
	TimeHorizon          *int     // A non-positive horizon makes every state terminal
	Scenarios            []finance.Scenario
	RiskTolerance        finance.RiskTolerance
	MaintenanceInterval  int
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:        DefaultMaxIterations,
		ExplorationParameter: lo.ToPtr(DefaultExploration),
		TimeHorizon:          lo.ToPtr(DefaultTimeHorizon),
		Scenarios:            []finance.Scenario{finance.Baseline},
		RiskTolerance:        finance.Moderate,
		MaintenanceInterval:  DefaultMaintenanceInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.ExplorationParameter == nil || math.IsNaN(*c.ExplorationParameter) {
		c.ExplorationParameter = d.ExplorationParameter
	} else {
		c.ExplorationParameter = lo.ToPtr(*c.ExplorationParameter)
	}
	if c.TimeHorizon == nil {
		c.TimeHorizon = d.TimeHorizon
	} else {
		c.TimeHorizon = lo.ToPtr(*c.TimeHorizon)
	}
	if len(c.Scenarios) == 0 {
		c.Scenarios = d.Scenarios
	}
	if c.RiskTolerance == "" {
		c.RiskTolerance = d.RiskTolerance
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	if c.InitialState.Category == "" {
		c.InitialState.Category = finance.DefaultCategory
	}
	if c.InitialState.Confidence == 0 {
		c.InitialState.Confidence = finance.RootConfidence
	}
	c.InitialState.Depth = 0
	return c
}

type Option func(m *MCTS)

// WithRand injects the random source used by every stochastic step.
func WithRand(rng *rand.Rand) Option {
	return func(m *MCTS) {
		if rng != nil {
			m.rng = rng
		}
	}
}

func WithSeed(seed uint64) Option {
	return func(m *MCTS) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(m *MCTS) {
		if collector != nil {
			m.metrics = collector
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *MCTS) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEvaluationFn replaces the model's terminal evaluation.
func WithEvaluationFn(evaluate finance.Evaluate) Option {
	return func(m *MCTS) {
		if evaluate != nil {
			m.evaluate = evaluate
		}
	}
}

func WithRunID(id string) Option {
	return func(m *MCTS) {
		if id != "" {
			m.runID = id
		}
	}
}

// MCTS searches financial decision paths one iteration at a time. It is
// single use: once complete or stopped no further nodes are created.
// Queries may run concurrently with RunIteration.
type MCTS struct {
	sync.RWMutex
	runID       string
	config      Config
	rng         *rand.Rand
	model       *finance.Model
	evaluate    finance.Evaluate
	horizon     int
	exploration float64
	tree        *Tree
	transitions *TransitionLog
	metrics     metrics.Collector
	now         func() time.Time
	initialized bool
	completed   int
	current     string
	startTime   time.Time
	endTime     time.Time
	stopped     atomic.Bool
}

func NewMCTS(options ...Option) *MCTS {
	m := &MCTS{ // Default values
		runID:       uuid.NewString(),
		tree:        NewTree(),
		transitions: NewTransitionLog(),
		metrics:     metrics.NewDummyCollector(),
		now:         time.Now,
	}
	for _, option := range options {
		option(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	}
	return m
}

func (m *MCTS) RunID() string {
	return m.runID
}

// Initialize creates the root node for the configured initial state.
func (m *MCTS) Initialize(config Config) error {
	m.Lock()
	defer m.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	m.config = config.withDefaults()
	m.horizon = *m.config.TimeHorizon
	m.exploration = *m.config.ExplorationParameter
	m.model = finance.NewModel(m.config.RiskTolerance, m.config.Scenarios, m.horizon, m.rng)
	if m.evaluate == nil {
		m.evaluate = m.model.Evaluate
	}

	root, err := m.tree.CreateNode(m.config.InitialState, "", "")
	if err != nil {
		return fmt.Errorf("failed to create root: %w", err)
	}
	m.current = root.ID
	m.startTime = m.now()
	m.initialized = true
	m.metrics.Start(m.runID, m.config.MaxIterations, m.horizon)
	m.metrics.AddNode()

	log.Debug().
		Str("run", m.runID).
		Str("root", root.ID).
		Float64("value", root.Value).
		Int("maxIterations", m.config.MaxIterations).
		Int("horizon", m.horizon).
		Str("tolerance", string(m.config.RiskTolerance)).
		Msg("initialized search")
	return nil
}

// RunIteration performs one select, expand, simulate and backpropagate cycle.
// It returns false without touching the tree once the search is complete,
// stopped or not yet initialized.
func (m *MCTS) RunIteration() bool {
	m.Lock()
	defer m.Unlock()

	if !m.initialized || m.isComplete() {
		return false
	}

	root, _ := m.tree.Root()
	leaf := m.selects(root)
	node := m.expands(leaf)
	reward := m.simulate(node)
	m.backup(node, reward)

	m.completed++
	m.current = node.ID
	m.metrics.AddIteration()

	if m.completed%m.config.MaintenanceInterval == 0 {
		updated := m.transitions.Rebalance(m.tree)
		log.Debug().
			Str("run", m.runID).
			Int("iteration", m.completed).
			Int("updated", updated).
			Int("highlyVisited", m.transitions.HighlyVisited()).
			Msg("rebalanced transition probabilities")
	}
	if m.completed >= m.config.MaxIterations {
		m.endTime = m.now()
	}
	return true
}

// Stop cancels the search. Iterations already run are kept.
func (m *MCTS) Stop() {
	if m.stopped.Swap(true) {
		return
	}

	m.Lock()
	capped := m.initialized && m.completed >= m.config.MaxIterations
	if m.initialized && m.endTime.IsZero() {
		m.endTime = m.now()
	}
	m.Unlock()

	// A search that already hit its cap finished on its own
	if !capped {
		m.metrics.SetStopped(true)
	}

	log.Debug().Str("run", m.runID).Msg("stopped search")
}

func (m *MCTS) IsInitialized() bool {
	m.RLock()
	defer m.RUnlock()

	return m.initialized
}

func (m *MCTS) IsComplete() bool {
	m.RLock()
	defer m.RUnlock()

	return m.isComplete()
}

func (m *MCTS) isComplete() bool {
	if m.stopped.Load() {
		return true
	}
	return m.initialized && m.completed >= m.config.MaxIterations
}

// actions lists the moves available from a node. Terminal nodes have none.
func (m *MCTS) actions(node *Node) []finance.Action {
	state := node.State()
	if m.model.IsTerminal(state) {
		return nil
	}
	return m.model.ActionSpace(state)
}

// selects descends from node by UCB1 until it meets a node that is unvisited,
// not fully expanded or without children.
func (m *MCTS) selects(node *Node) *Node {
	for {
		if node.Visits == 0 || len(node.Children) < len(m.actions(node)) {
			return node
		}
		child := m.pickChild(node)
		if child == nil {
			return node
		}
		node = child
	}
}

func (m *MCTS) pickChild(node *Node) *Node {
	if len(node.Children) == 0 {
		return nil
	}
	policy := newUCB1(m.exploration, float64(node.Visits))

	var best *Node
	maxScore := math.Inf(-1)
	for _, id := range node.Children {
		child, ok := m.tree.Node(id)
		if !ok {
			continue
		}
		score := policy.evaluate(child.TotalReward, float64(child.Visits))
		if score > maxScore {
			maxScore = score
			best = child
		}
	}
	return best
}

// expands adds one child for an action not yet explored from node, or returns
// node itself when every action has been explored.
func (m *MCTS) expands(node *Node) *Node {
	explored := lo.FilterMap(node.Children, func(id string, _ int) (finance.Action, bool) {
		child, ok := m.tree.Node(id)
		if !ok {
			return "", false
		}
		return child.Action, true
	})
	unexplored := lo.Without(m.actions(node), explored...)
	if len(unexplored) == 0 {
		return node
	}

	action := m.model.PickAction(unexplored)
	next := m.model.NextState(node.State(), action)
	child, err := m.tree.CreateNode(next, node.ID, action)
	if err != nil {
		log.Warn().Err(err).Str("run", m.runID).Msg("failed to expand node")
		return node
	}

	probability := 1 / float64(len(unexplored))
	m.transitions.Append(Transition{
		From:               node.ID,
		To:                 child.ID,
		Action:             action,
		Probability:        probability,
		InitialProbability: probability,
	})
	m.metrics.AddNode()
	return child
}

// simulate estimates the value of a node with a random rollout that never
// touches the tree.
func (m *MCTS) simulate(node *Node) float64 {
	state := node.State()
	if m.model.IsTerminal(state) {
		m.metrics.AddRollout(0)
		return m.evaluate(state)
	}

	steps := 0
	rewards := 0.0
	// Rollout till the horizon with a random policy
	for !m.model.IsTerminal(state) {
		action := m.model.PickAction(m.model.ActionSpace(state))
		state = m.model.NextState(state, action)
		steps++
		rewards += m.model.Reward(state)
	}
	m.metrics.AddRollout(steps)

	return (rewards + m.evaluate(state)) * math.Pow(finance.DepthDiscount, float64(steps))
}

// backup adds the reward to every node from node up to the root. A missing
// parent ends the walk.
func (m *MCTS) backup(node *Node, reward float64) {
	id := node.ID
	for id != "" {
		n, ok := m.tree.Node(id)
		if !ok {
			log.Warn().Str("run", m.runID).Str("node", id).Msg("backup reached an unknown node")
			return
		}
		n.update(reward)
		id = n.Parent
	}
}
