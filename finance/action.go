package finance

// Action is a portfolio decision applied to a state.
type Action string

const (
	Hold       Action = "hold"
	Invest     Action = "invest"
	Diversify  Action = "diversify"
	Leverage   Action = "leverage"
	Hedge      Action = "hedge"
	Reallocate Action = "reallocate"
	Defensive  Action = "defensive"
	GrowthPlay Action = "growth"
)

// perturbation bounds the relative change of value an action can cause.
type perturbation struct {
	low      float64
	high     float64
	category Category
}

var perturbations = map[Action]perturbation{
	Hold:       {low: -0.01, high: 0.03, category: DefaultCategory},
	Invest:     {low: -0.04, high: 0.08, category: InvestmentCategory},
	Diversify:  {low: -0.02, high: 0.05, category: DiversifiedCategory},
	Leverage:   {low: -0.10, high: 0.15, category: LeveragedCategory},
	Hedge:      {low: -0.01, high: 0.02, category: HedgedCategory},
	Reallocate: {low: -0.03, high: 0.06, category: ReallocatedCategory},
	Defensive:  {low: -0.005, high: 0.015, category: DefensiveCategory},
	GrowthPlay: {low: -0.06, high: 0.12, category: GrowthCategory},
}

// Bounds returns the lower and upper relative change of value for the action.
func (a Action) Bounds() (low, high float64) {
	p := perturbations[a]
	return p.low, p.high
}

// Category returns the category of states produced by the action.
func (a Action) Category() Category {
	if p, ok := perturbations[a]; ok {
		return p.category
	}
	return DefaultCategory
}

func (a Action) IsValid() bool {
	_, ok := perturbations[a]
	return ok
}
