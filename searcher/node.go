package searcher

import (
	"errors"
	"fmt"
	"slices"

	"finsim/finance"

	"github.com/google/uuid"
)

var (
	ErrDuplicateNode = errors.New("node id already exists")
	ErrUnknownParent = errors.New("parent node does not exist")
)

// Node is a state in the search tree. Parent and children are referenced by
// id only; the Tree owns every node.
type Node struct {
	ID            string
	Parent        string // Empty for the root
	Children      []string
	Action        finance.Action // Action that produced this state, empty for the root
	Category      finance.Category
	Value         float64
	Depth         int
	Confidence    float64
	Visits        int
	TotalReward   float64
	ExpectedValue float64
}

func (n *Node) State() finance.State {
	return finance.State{
		ID:         n.ID,
		Value:      n.Value,
		Category:   n.Category,
		Depth:      n.Depth,
		Confidence: n.Confidence,
	}
}

func (n *Node) update(reward float64) {
	n.Visits++
	n.TotalReward += reward
	n.ExpectedValue = n.TotalReward / float64(max(n.Visits, 1))
}

func (n *Node) clone() Node {
	c := *n
	c.Children = slices.Clone(n.Children)
	return c
}

// Tree is an append-only node store indexed by id. The first node created is
// the root.
type Tree struct {
	nodes []*Node
	index map[string]int
}

func NewTree() *Tree {
	return &Tree{index: make(map[string]int)}
}

// CreateNode stores a new node for the state under the given parent. A fresh
// id is assigned when the state has none. Children always sit one level below
// their parent.
func (t *Tree) CreateNode(state finance.State, parent string, action finance.Action) (*Node, error) {
	id := state.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := t.index[id]; ok {
		return nil, fmt.Errorf("creating node %s: %w", id, ErrDuplicateNode)
	}

	node := &Node{
		ID:         id,
		Parent:     parent,
		Action:     action,
		Category:   state.Category,
		Value:      state.Value,
		Depth:      state.Depth,
		Confidence: state.Confidence,
	}

	if parent != "" {
		p, ok := t.Node(parent)
		if !ok {
			return nil, fmt.Errorf("creating node %s under %s: %w", id, parent, ErrUnknownParent)
		}
		node.Depth = p.Depth + 1
		p.Children = append(p.Children, id)
	}

	t.index[id] = len(t.nodes)
	t.nodes = append(t.nodes, node)
	return node, nil
}

// Node looks up a node by id. A missing id is a normal outcome.
func (t *Tree) Node(id string) (*Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.nodes[i], true
}

func (t *Tree) Root() (*Node, bool) {
	if len(t.nodes) == 0 {
		return nil, false
	}
	return t.nodes[0], true
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

// Walk visits the nodes reachable from the root depth-first, children in
// insertion order, until fn returns false.
func (t *Tree) Walk(fn func(*Node) bool) {
	root, ok := t.Root()
	if !ok {
		return
	}

	stack := []*Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(node) {
			return
		}
		for i := len(node.Children) - 1; i >= 0; i-- {
			if child, ok := t.Node(node.Children[i]); ok {
				stack = append(stack, child)
			}
		}
	}
}
