package tree

import (
	"fmt"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
)

// validateSnapshot collects every structural problem, in a stable order:
// root checks, per-node checks by node id, cycles, then reachability.
func validateSnapshot(s *snapshot) []string {
	var problems []string

	rootOK := false
	switch {
	case s.rootNodeID.IsZero():
		problems = append(problems, "root node is not set")
	case s.nodes[s.rootNodeID] == nil:
		problems = append(problems, fmt.Sprintf("root node %s does not exist", s.rootNodeID))
	default:
		rootOK = true
	}

	nodes := sortedNodes(s)
	for _, n := range nodes {
		problems = append(problems, validateNode(s, n)...)
	}

	if cycleAt, found := findCycle(s, nodes); found {
		problems = append(problems, fmt.Sprintf("cycle detected through node %s", cycleAt))
	}

	if rootOK {
		reachable := reachableFrom(s, s.rootNodeID)
		for _, n := range nodes {
			if !reachable[n.id] {
				problems = append(problems, fmt.Sprintf("node %s is not reachable from root %s", n.id, s.rootNodeID))
			}
		}
	}

	return problems
}

func validateNode(s *snapshot, n *Node) []string {
	var problems []string

	switch n.nodeType {
	case evaluation.NodeTypeCondition:
		if n.trueNodeID.IsZero() {
			problems = append(problems, fmt.Sprintf("condition node %s has no true successor", n.id))
		}
		if n.falseNodeID.IsZero() {
			problems = append(problems, fmt.Sprintf("condition node %s has no false successor", n.id))
		}
	case evaluation.NodeTypeCalculation:
		if !n.trueNodeID.IsZero() || !n.falseNodeID.IsZero() || len(n.routes) > 0 {
			problems = append(problems, fmt.Sprintf("calculation node %s must not have successors", n.id))
		}
	}

	type reference struct {
		label string
		id    types.NodeID
	}
	refs := []reference{{"true", n.trueNodeID}, {"false", n.falseNodeID}}
	for _, r := range n.routes {
		refs = append(refs, reference{"route", r})
	}
	for _, ref := range refs {
		if !ref.id.IsZero() && s.nodes[ref.id] == nil {
			problems = append(problems, fmt.Sprintf("node %s references missing node %s (%s)", n.id, ref.id, ref.label))
		}
	}

	if n.configErr != nil {
		problems = append(problems, fmt.Sprintf("node %s has an invalid configuration: %v", n.id, n.configErr))
	}
	return problems
}

// findCycle reports the first node, in id order, found on a cycle of static
// references.
func findCycle(s *snapshot, nodes []*Node) (types.NodeID, bool) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[types.NodeID]int, len(s.nodes))

	var dfs func(id types.NodeID) (types.NodeID, bool)
	dfs = func(id types.NodeID) (types.NodeID, bool) {
		switch state[id] {
		case visiting:
			return id, true
		case done:
			return "", false
		}
		state[id] = visiting
		if n := s.nodes[id]; n != nil {
			for _, next := range n.successors() {
				if s.nodes[next] == nil {
					continue
				}
				if at, found := dfs(next); found {
					return at, true
				}
			}
		}
		state[id] = done
		return "", false
	}

	for _, n := range nodes {
		if state[n.id] == unvisited {
			if at, found := dfs(n.id); found {
				return at, true
			}
		}
	}
	return "", false
}

func reachableFrom(s *snapshot, root types.NodeID) map[types.NodeID]bool {
	reachable := map[types.NodeID]bool{root: true}
	stack := []types.NodeID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := s.nodes[id]
		if n == nil {
			continue
		}
		for _, next := range n.successors() {
			if !reachable[next] && s.nodes[next] != nil {
				reachable[next] = true
				stack = append(stack, next)
			}
		}
	}
	return reachable
}
