// Package graph builds the dependency DAG over resource declarations and
// produces the orderings the planner walks.
package graph

import (
	"fmt"
	"strings"

	"github.com/stackform-io/stackform/internal/model"
)

// Graph is a directed acyclic graph of resource ids. Edges point from a
// dependent to the resources it needs.
type Graph struct {
	nodes    map[model.ResourceID]*node
	declared []model.ResourceID // declaration order, for stable ties
	order    []model.ResourceID // topological order (creation direction)
	revOrder []model.ResourceID // reverse order (destruction direction)
}

type node struct {
	id       model.ResourceID
	edges    []model.ResourceID // resources this node depends on
	revEdges []model.ResourceID // resources that depend on this node
}

// CycleError reports a reference cycle. Path names every node in the cycle
// exactly once, in traversal order.
type CycleError struct {
	Path []model.ResourceID
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path)+1)
	for _, id := range e.Path {
		parts = append(parts, id.String())
	}
	if len(e.Path) > 0 {
		parts = append(parts, e.Path[0].String())
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// Build constructs the graph from a model. Edges come from reference tokens
// inside attribute trees and from explicit dependsOn. A cycle is a fatal
// model error reported with the full cycle path.
func Build(m *model.Model) (*Graph, error) {
	g := &Graph{nodes: make(map[model.ResourceID]*node, len(m.Resources))}

	for _, r := range m.Resources {
		g.nodes[r.ID] = &node{id: r.ID}
		g.declared = append(g.declared, r.ID)
	}

	for _, r := range m.Resources {
		n := g.nodes[r.ID]
		seen := make(map[model.ResourceID]bool)
		add := func(dep model.ResourceID) {
			if dep == r.ID || seen[dep] {
				return
			}
			if _, ok := g.nodes[dep]; !ok {
				// Reference at a resource outside the model; the planner
				// classifies it (dangling vs malformed).
				return
			}
			seen[dep] = true
			n.edges = append(n.edges, dep)
		}
		for _, dep := range r.DependsOn {
			add(dep)
		}
		for _, v := range r.Attributes {
			for _, ref := range v.References() {
				add(ref.Target)
			}
		}
	}

	for _, n := range g.nodes {
		for _, dep := range n.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, n.id)
		}
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}

	g.order = g.topoSort()
	g.revOrder = make([]model.ResourceID, len(g.order))
	for i, id := range g.order {
		g.revOrder[len(g.order)-1-i] = id
	}

	return g, nil
}

// CreationOrder returns ids in dependency-respecting creation order.
func (g *Graph) CreationOrder() []model.ResourceID { return g.order }

// DestructionOrder returns ids in reverse dependency order.
func (g *Graph) DestructionOrder() []model.ResourceID { return g.revOrder }

// Dependencies returns the resources id directly depends on.
func (g *Graph) Dependencies(id model.ResourceID) []model.ResourceID {
	if n, ok := g.nodes[id]; ok {
		return n.edges
	}
	return nil
}

// Dependents returns the resources that directly depend on id.
func (g *Graph) Dependents(id model.ResourceID) []model.ResourceID {
	if n, ok := g.nodes[id]; ok {
		return n.revEdges
	}
	return nil
}

// Dot renders the graph in graphviz format, one edge per dependency.
func (g *Graph) Dot() string {
	var b strings.Builder
	b.WriteString("digraph resources {\n")
	for _, id := range g.declared {
		fmt.Fprintf(&b, "  %q;\n", id.String())
		for _, dep := range g.nodes[id].edges {
			fmt.Fprintf(&b, "  %q -> %q;\n", id.String(), dep.String())
		}
	}
	b.WriteString("}\n")
	return b.String()
}

type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // finished
)

// detectCycle runs a three-color depth-first traversal. Revisiting a gray
// node means the current stack holds a cycle; the error carries the stack
// slice from the first occurrence of that node.
func (g *Graph) detectCycle() error {
	colors := make(map[model.ResourceID]color, len(g.nodes))
	var stack []model.ResourceID

	var visit func(id model.ResourceID) error
	visit = func(id model.ResourceID) error {
		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range g.nodes[id].edges {
			switch colors[dep] {
			case gray:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				path := make([]model.ResourceID, len(stack)-start)
				copy(path, stack[start:])
				return &CycleError{Path: path}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range g.declared {
		if colors[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoSort is Kahn's algorithm with ties broken by declaration order, so
// plans are stable across runs. Must be called after detectCycle.
func (g *Graph) topoSort() []model.ResourceID {
	inDegree := make(map[model.ResourceID]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = len(n.edges)
	}

	ready := func() []model.ResourceID {
		var q []model.ResourceID
		for _, id := range g.declared {
			if inDegree[id] == 0 {
				q = append(q, id)
			}
		}
		return q
	}

	queue := ready()
	taken := make(map[model.ResourceID]bool, len(g.nodes))
	var sorted []model.ResourceID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if taken[id] {
			continue
		}
		taken[id] = true
		sorted = append(sorted, id)

		var unlocked []model.ResourceID
		for _, dependent := range g.nodes[id].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		// Re-queue in declaration order to keep ties stable.
		if len(unlocked) > 0 {
			pending := make(map[model.ResourceID]bool, len(queue)+len(unlocked))
			for _, q := range queue {
				pending[q] = true
			}
			for _, u := range unlocked {
				pending[u] = true
			}
			queue = queue[:0]
			for _, id := range g.declared {
				if pending[id] && !taken[id] {
					queue = append(queue, id)
				}
			}
		}
	}

	return sorted
}
