package searcher

import "finsim/finance"

const HighlyVisitedFactor = 1.5

// Transition records the expansion of one edge of the tree.
type Transition struct {
	From               string
	To                 string
	Action             finance.Action
	Probability        float64
	InitialProbability float64
	IsHighlyVisited    bool
}

// TransitionLog is an append-only record of expansions, indexed by target.
type TransitionLog struct {
	entries []Transition
	byTo    map[string]int
}

func NewTransitionLog() *TransitionLog {
	return &TransitionLog{byTo: make(map[string]int)}
}

func (l *TransitionLog) Append(t Transition) {
	l.byTo[t.To] = len(l.entries)
	l.entries = append(l.entries, t)
}

// Lookup finds the transition that created the given node.
func (l *TransitionLog) Lookup(to string) (Transition, bool) {
	i, ok := l.byTo[to]
	if !ok {
		return Transition{}, false
	}
	return l.entries[i], true
}

func (l *TransitionLog) Len() int {
	return len(l.entries)
}

func (l *TransitionLog) All() []Transition {
	out := make([]Transition, len(l.entries))
	copy(out, l.entries)
	return out
}

// Rebalance sets every transition's probability to its target's share of the
// visits among its siblings. Sibling groups without visits keep their
// probabilities. Once a transition exceeds HighlyVisitedFactor times its
// initial probability it stays marked as highly visited.
func (l *TransitionLog) Rebalance(tree *Tree) int {
	totals := make(map[string]int)
	for _, t := range l.entries {
		if to, ok := tree.Node(t.To); ok {
			totals[t.From] += to.Visits
		}
	}

	updated := 0
	for i := range l.entries {
		t := &l.entries[i]
		total := totals[t.From]
		to, ok := tree.Node(t.To)
		if !ok || total == 0 {
			continue
		}
		t.Probability = float64(to.Visits) / float64(total)
		if t.Probability > HighlyVisitedFactor*t.InitialProbability {
			t.IsHighlyVisited = true
		}
		updated++
	}
	return updated
}

func (l *TransitionLog) HighlyVisited() int {
	count := 0
	for _, t := range l.entries {
		if t.IsHighlyVisited {
			count++
		}
	}
	return count
}
