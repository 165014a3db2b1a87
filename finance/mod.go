package finance

// RiskTolerance selects which actions are available and how terminal states are weighted.
type RiskTolerance string

const (
	Conservative RiskTolerance = "conservative"
	Moderate     RiskTolerance = "moderate"
	Aggressive   RiskTolerance = "aggressive"
)

// Scenario names a market regime that changes the action space and the evaluation.
type Scenario string

const (
	Baseline  Scenario = "baseline"
	Recession Scenario = "recession"
	Growth    Scenario = "growth"
)

// Category tags a state with the kind of action that produced it.
type Category string

const (
	DefaultCategory     Category = "default"
	InvestmentCategory  Category = "investment"
	DiversifiedCategory Category = "diversified"
	LeveragedCategory   Category = "leveraged"
	HedgedCategory      Category = "hedged"
	ReallocatedCategory Category = "reallocated"
	DefensiveCategory   Category = "defensive"
	GrowthCategory      Category = "growth"
)

const (
	RootConfidence  = 0.5  // Confidence of the initial state
	ConfidenceDecay = 0.95 // Per level of depth
	MaxConfidence   = 0.99
	DepthDiscount   = 0.95 // Applied per level of depth on evaluation and per rollout step
)

// State is a portfolio snapshot. States are values: the model never mutates
// a state it was given, it always returns a new one.
type State struct {
	ID         string
	Value      float64
	Category   Category
	Depth      int
	Confidence float64
}

// Evaluates a state to a scalar estimate of its worth.
type Evaluate func(State) float64

// NewRootState returns the starting state of a simulation.
func NewRootState(id string, value float64) State {
	return State{
		ID:         id,
		Value:      value,
		Category:   DefaultCategory,
		Depth:      0,
		Confidence: RootConfidence,
	}
}
