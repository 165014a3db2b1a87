package finance

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/samber/lo"
	"golang.org/x/exp/rand"
)

// Model is the stochastic state/action model of a simulation run. All random
// draws go through the single generator it was built with, so a seeded
// generator makes every transition, reward and evaluation reproducible.
type Model struct {
	tolerance RiskTolerance
	scenarios []Scenario
	horizon   int
	rng       *rand.Rand
	counter   atomic.Uint64
}

func NewModel(tolerance RiskTolerance, scenarios []Scenario, horizon int, rng *rand.Rand) *Model {
	if rng == nil {
		panic("model needs a random source")
	}
	return &Model{
		tolerance: tolerance,
		scenarios: scenarios,
		horizon:   horizon,
		rng:       rng,
	}
}

func (m *Model) Horizon() int {
	return m.horizon
}

func (m *Model) HasScenario(s Scenario) bool {
	return lo.Contains(m.scenarios, s)
}

// ActionSpace lists the actions available from a state, in a fixed order.
func (m *Model) ActionSpace(s State) []Action {
	actions := []Action{Hold, Reallocate}
	if s.Depth < m.horizon-1 {
		actions = append(actions, Invest, Diversify)
	}
	switch m.tolerance {
	case Aggressive:
		actions = append(actions, Leverage)
	case Conservative:
		actions = append(actions, Hedge)
	}
	if m.HasScenario(Recession) {
		actions = append(actions, Defensive)
	}
	if m.HasScenario(Growth) {
		actions = append(actions, GrowthPlay)
	}
	return actions
}

// IsTerminal reports whether no further decisions can be taken from a state.
func (m *Model) IsTerminal(s State) bool {
	return s.Depth >= m.horizon || len(m.ActionSpace(s)) == 0
}

// NextState applies an action to a state and returns the resulting state one
// level deeper. Every call yields a fresh id.
func (m *Model) NextState(s State, action Action) State {
	low, high := action.Bounds()
	value := s.Value * (1 + m.uniform(low, high))
	if value < 0 {
		value = 0
	}

	return State{
		ID:         fmt.Sprintf("%s/%s/%d", s.ID, action, m.counter.Add(1)),
		Value:      value,
		Category:   action.Category(),
		Depth:      s.Depth + 1,
		Confidence: math.Min(s.Confidence*ConfidenceDecay, MaxConfidence),
	}
}

// Reward is a noisy per-step reward proportional to the state's value, biased
// towards gains.
func (m *Model) Reward(s State) float64 {
	return s.Value * 0.05 * (m.rng.Float64() - 0.3)
}

func (m *Model) uniform(low, high float64) float64 {
	return low + m.rng.Float64()*(high-low)
}

// PickAction draws one of the actions uniformly at random.
func (m *Model) PickAction(actions []Action) Action {
	if len(actions) == 0 {
		panic("cannot pick from an empty action set")
	}
	return actions[m.rng.Intn(len(actions))]
}
