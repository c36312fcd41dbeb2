package graph

import (
	"errors"
	"fmt"

	"github.com/vk/flowgridgo/internal/condition"
)

// ErrValidation marks a malformed graph spec. Validation errors are returned
// synchronously at creation time and never reach the executor.
var ErrValidation = errors.New("graph validation failed")

// Graph is an immutable, versioned workflow specification. The Version field
// is zero until the persistence gateway assigns one at save time; once a run
// references a (ID, Version) pair, edits produce a new version and the run
// keeps resolving against the old one.
type Graph struct {
	ID        string           `json:"id"`
	Version   int              `json:"version"`
	StartNode string           `json:"start"`
	Nodes     map[string]*Node `json:"nodes"`
	Edges     []Edge           `json:"edges"`
}

// Node is one step in a graph, bound to a tool and parameters. A node may
// only participate in a cycle if it declares a Loop config.
type Node struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Loop   *LoopConfig    `json:"loop,omitempty"`
	Retry  *RetryConfig   `json:"retry,omitempty"`
}

// LoopConfig marks a node as explicitly looping. MaxIterations bounds the
// number of times the node may execute within one run; Until is an optional
// stop predicate evaluated after each iteration with the run context plus an
// "iteration" variable. A zero MaxIterations means bound-only termination is
// disabled and Until alone decides.
type LoopConfig struct {
	MaxIterations int    `json:"max_iterations,omitempty"`
	Until         string `json:"until,omitempty"`
}

// RetryConfig configures bounded immediate retries for a node's tool
// invocation. MaxRetries is the number of retries after the first attempt.
type RetryConfig struct {
	MaxRetries int `json:"max_retries"`
}

// Edge connects two nodes. When is an optional predicate over the run
// context; an empty When means the edge is unconditional. Edge order in the
// slice is declaration order and decides which eligible edge wins.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	When string `json:"when,omitempty"`
}

// Validate checks the structural invariants of a graph spec: node ids are
// present and unique, the start node and all edge endpoints reference
// existing nodes, every condition compiles, and any cycle passes through at
// least one node with a Loop config.
func (g *Graph) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: graph id is required", ErrValidation)
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph %q has no nodes", ErrValidation, g.ID)
	}

	for id, n := range g.Nodes {
		if n == nil {
			return fmt.Errorf("%w: node %q is empty", ErrValidation, id)
		}
		if n.ID == "" {
			n.ID = id
		} else if n.ID != id {
			return fmt.Errorf("%w: node key %q does not match node id %q", ErrValidation, id, n.ID)
		}
		if n.Tool == "" {
			return fmt.Errorf("%w: node %q does not name a tool", ErrValidation, id)
		}
		if n.Loop != nil && n.Loop.MaxIterations < 0 {
			return fmt.Errorf("%w: node %q has negative max_iterations", ErrValidation, id)
		}
		if n.Retry != nil && n.Retry.MaxRetries < 0 {
			return fmt.Errorf("%w: node %q has negative max_retries", ErrValidation, id)
		}
		if n.Loop != nil && n.Loop.Until != "" {
			if _, err := condition.Compile(n.Loop.Until); err != nil {
				return fmt.Errorf("%w: node %q stop predicate: %v", ErrValidation, id, err)
			}
		}
	}

	if g.StartNode == "" {
		return fmt.Errorf("%w: graph %q does not declare a start node", ErrValidation, g.ID)
	}
	if _, ok := g.Nodes[g.StartNode]; !ok {
		return fmt.Errorf("%w: start node %q does not exist", ErrValidation, g.StartNode)
	}

	for i, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return fmt.Errorf("%w: edge %d references unknown source node %q", ErrValidation, i, e.From)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return fmt.Errorf("%w: edge %d references unknown destination node %q", ErrValidation, i, e.To)
		}
		if e.When != "" {
			if _, err := condition.Compile(e.When); err != nil {
				return fmt.Errorf("%w: edge %d condition: %v", ErrValidation, i, err)
			}
		}
	}

	return g.checkCycles()
}

// checkCycles runs a DFS over the edge set. A back edge is legal only when
// the cycle it closes contains at least one explicitly looping node;
// anything else is an accidental cycle and rejected.
func (g *Graph) checkCycles() error {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	var stack []string
	var visit func(id string) error
	visit = func(id string) error {
		state[id] = inStack
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				if !g.cycleHasLoopNode(stack, next) {
					return fmt.Errorf("%w: cycle through node %q has no looping node", ErrValidation, next)
				}
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for id := range g.Nodes {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleHasLoopNode reports whether the cycle closed by a back edge to `entry`
// contains a node with a Loop config. The cycle is the suffix of the DFS
// stack starting at entry.
func (g *Graph) cycleHasLoopNode(stack []string, entry string) bool {
	start := 0
	for i, id := range stack {
		if id == entry {
			start = i
			break
		}
	}
	for _, id := range stack[start:] {
		if n := g.Nodes[id]; n != nil && n.Loop != nil {
			return true
		}
	}
	return false
}

// OutgoingEdges returns the edges leaving the given node in declaration order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}
