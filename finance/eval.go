package finance

import "math"

var riskMultipliers = map[RiskTolerance]float64{
	Conservative: 0.8,
	Moderate:     1.0,
	Aggressive:   1.2,
}

// Evaluate scores a state by its value weighted by the risk appetite, the
// active scenarios and a depth discount.
func (m *Model) Evaluate(s State) float64 {
	return s.Value * m.riskMultiplier() * m.scenarioMultiplier() * math.Pow(DepthDiscount, float64(s.Depth))
}

func (m *Model) riskMultiplier() float64 {
	if multiplier, ok := riskMultipliers[m.tolerance]; ok {
		return multiplier
	}
	return 1.0
}

// scenarioMultiplier draws a fresh factor for every active scenario:
// a recession dampens and a growth market boosts.
func (m *Model) scenarioMultiplier() float64 {
	multiplier := 1.0
	if m.HasScenario(Recession) {
		multiplier *= m.uniform(0.7, 1.0)
	}
	if m.HasScenario(Growth) {
		multiplier *= m.uniform(1.1, 1.4)
	}
	return multiplier
}
