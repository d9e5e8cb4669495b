// Package resolver orders deployment units by their address references and
// resolves references to concrete addresses while a run executes.
package resolver

import (
	"sort"

	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/registry"
)

// Dependencies returns the names of the units u references through its
// arguments and library links, deduplicated, in first-seen order
func Dependencies(u models.DeploymentUnit) []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(arg models.Arg) {
		if arg.IsRef() && !seen[arg.Ref] {
			seen[arg.Ref] = true
			deps = append(deps, arg.Ref)
		}
	}
	for _, arg := range u.ConstructorArgs {
		add(arg)
	}
	for _, slot := range u.LibrarySlots() {
		add(u.LibraryLinks[slot])
	}
	return deps
}

// dependencyGraph is a directed graph where an edge A -> B means A references B
type dependencyGraph struct {
	reg        *registry.Registry
	deps       map[string][]string // unit -> units it references
	dependents map[string][]string // unit -> units referencing it
}

func newDependencyGraph(reg *registry.Registry) *dependencyGraph {
	g := &dependencyGraph{
		reg:        reg,
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
	for _, u := range reg.Units() {
		deps := Dependencies(u)
		g.deps[u.Name] = deps
		for _, dep := range deps {
			g.dependents[dep] = append(g.dependents[dep], u.Name)
		}
	}
	return g
}

// Plan returns the units of reg in a topological order where every unit comes
// after the units it references. Units with no ordering constraint between
// them keep their declaration order.
func Plan(reg *registry.Registry) ([]models.DeploymentUnit, error) {
	g := newDependencyGraph(reg)
	units := reg.Units()

	inDegree := make(map[string]int, len(units))
	for _, u := range units {
		inDegree[u.Name] = len(g.deps[u.Name])
	}

	// Ready set ordered by declaration index
	var ready []int
	for i, u := range units {
		if inDegree[u.Name] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]models.DeploymentUnit, 0, len(units))
	for len(ready) > 0 {
		current := units[ready[0]]
		ready = ready[1:]
		order = append(order, current)

		for _, dependent := range g.dependents[current.Name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, reg.Index(dependent))
			}
		}
		sort.Ints(ready)
	}

	if len(order) != len(units) {
		return nil, &domain.CyclicDependencyError{Cycle: g.findCycle(inDegree)}
	}
	return order, nil
}

// findCycle walks the units left unordered by Kahn's algorithm and returns one
// cycle among them, starting and ending at the same unit
func (g *dependencyGraph) findCycle(inDegree map[string]int) []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = onStack
		stack = append(stack, name)
		for _, dep := range g.deps[name] {
			if inDegree[dep] == 0 {
				continue
			}
			switch state[dep] {
			case onStack:
				for i, n := range stack {
					if n == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range g.reg.Names() {
		if inDegree[name] > 0 && state[name] == unvisited {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}
