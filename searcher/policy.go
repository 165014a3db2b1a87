package searcher

import "math"

// Hyperparameters for MCTS

const DefaultExploration = 1.41 // Roughly sqrt(2)

type ucb1 struct {
	exploration float64
	numerator   float64
}

func newUCB1(exploration float64, N float64) *ucb1 {
	if N == 0 {
		panic("N cannot be 0")
	}
	return &ucb1{exploration: exploration, numerator: 2 * math.Log(N)}
}

func (u ucb1) evaluate(q float64, n float64) float64 {
	if n == 0 {
		panic("n cannot be 0")
	}
	// UCB1 = q/n + c*sqrt(2*ln(N)/n)
	return q/n + u.exploration*math.Sqrt(u.numerator/n)
}
