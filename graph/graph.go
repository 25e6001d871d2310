// Package graph builds the reverse-edge dependency graph over a manifest's
// tasks and implements target closure, cycle detection and topological
// sorting.
//
// Tasks are addressed by index into a flat slice rather than by pointer:
// the dependency relation between tasks can be an arbitrarily tangled DAG,
// and representing it with pointers would mean cyclic ownership between
// Go values. An index into a slice sidesteps that entirely and is what the
// scheduler wants anyway, since it needs a stable, comparable handle to
// pass between goroutines.
package graph

import (
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"reprovm/manifest"
)

// ErrCycle is returned by Sort when the requested subset cannot be fully
// ordered because it contains a dependency cycle.
type ErrCycle struct {
	Remaining []string // Task names that could not be emitted
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("dependency cycle detected, involving: %v", e.Remaining)
}

// UnknownTargetError is returned when a requested target or dependency name
// does not exist in the manifest. Suggestion is the closest known task
// name, or empty if nothing was close enough to guess.
type UnknownTargetError struct {
	Name       string
	Suggestion string
}

func (e *UnknownTargetError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown task %q, did you mean %q?", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown task %q", e.Name)
}

// Graph is the manifest's task set addressed by index, with parent
// (dependency) and child (dependent) edges precomputed for fast closure and
// sort operations.
type Graph struct {
	manifest *manifest.Manifest
	names    []string       // index -> task name, same order as manifest.Tasks
	indexOf  map[string]int // task name -> index

	// parents[i] holds the indices of tasks that i directly depends on;
	// children[i] holds the indices of tasks that directly depend on i.
	parents  [][]int
	children [][]int
}

// New builds a Graph from a parsed manifest. It does not itself fail on
// unknown dependency names; those are only an error once they are part of a
// requested target's closure, matching the manifest parser's own
// warn-don't-abort stance on undefined deps.
func New(m *manifest.Manifest) *Graph {
	names := make([]string, len(m.Tasks))
	indexOf := make(map[string]int, len(m.Tasks))
	for i, t := range m.Tasks {
		names[i] = t.Name
		indexOf[t.Name] = i
	}

	g := &Graph{
		manifest: m,
		names:    names,
		indexOf:  indexOf,
		parents:  make([][]int, len(m.Tasks)),
		children: make([][]int, len(m.Tasks)),
	}

	for i, t := range m.Tasks {
		for _, dep := range t.Deps {
			j, ok := indexOf[dep]
			if !ok {
				// Unknown dependency; manifest.Parse already recorded a
				// warning for this. It only becomes fatal if i ends up in
				// a requested closure (see Closure).
				continue
			}
			g.parents[i] = append(g.parents[i], j)
			g.children[j] = append(g.children[j], i)
		}
	}

	return g
}

// Name returns the task name at index i.
func (g *Graph) Name(i int) string {
	return g.names[i]
}

// Index returns the index of task name, and whether it was found.
func (g *Graph) Index(name string) (int, bool) {
	i, ok := g.indexOf[name]
	return i, ok
}

// suggest returns the closest known task name to name, or "" if none are
// close enough to be worth suggesting.
func (g *Graph) suggest(name string) string {
	matches := fuzzy.RankFindNormalizedFold(name, g.names)
	if len(matches) == 0 {
		return ""
	}
	sort.Sort(matches)
	return matches[0].Target
}

// Closure returns the minimal set of task indices containing every name in
// targets plus the transitive closure of their declared deps, with no
// duplicates. An empty targets slice means "all tasks". The returned order
// is not significant. A target, or a dependency reached from one, that names
// no task in the manifest yields an *UnknownTargetError.
//
// Closure is a DFS over the parent (dependency) edges with a visited set.
func (g *Graph) Closure(targets []string) ([]int, error) {
	if len(targets) == 0 {
		targets = g.names
	}

	visited := make(map[int]struct{})
	var order []int

	var visit func(i int) error
	visit = func(i int) error {
		if _, ok := visited[i]; ok {
			return nil
		}
		visited[i] = struct{}{}
		order = append(order, i)
		for _, dep := range g.manifest.Tasks[i].Deps {
			if _, ok := g.indexOf[dep]; !ok {
				return &UnknownTargetError{Name: dep, Suggestion: g.suggest(dep)}
			}
		}
		for _, p := range g.parents[i] {
			if err := visit(p); err != nil {
				return err
			}
		}
		return nil
	}

	for _, target := range targets {
		i, ok := g.indexOf[target]
		if !ok {
			return nil, &UnknownTargetError{Name: target, Suggestion: g.suggest(target)}
		}
		if err := visit(i); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// Sort topologically orders subset, computing in-degree within the subset
// only; edges leaving the subset are ignored. It repeatedly emits
// zero-in-degree nodes, decrementing the in-degree of their in-subset
// children (Kahn's algorithm). If fewer than len(subset) nodes can be
// emitted, the remainder forms at least one cycle and ErrCycle is returned.
//
// Subset indices are processed in the order given for seeding and for
// breaking ties between simultaneously-ready nodes, so the result is
// deterministic for a deterministic input order.
func (g *Graph) Sort(subset []int) ([]int, error) {
	inSubset := make(map[int]struct{}, len(subset))
	for _, i := range subset {
		inSubset[i] = struct{}{}
	}

	inDegree := make(map[int]int, len(subset))
	for _, i := range subset {
		n := 0
		for _, p := range g.parents[i] {
			if _, ok := inSubset[p]; ok {
				n++
			}
		}
		inDegree[i] = n
	}

	var ready []int
	for _, i := range subset {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	var order []int
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)

		for _, c := range g.children[i] {
			if _, ok := inSubset[c]; !ok {
				continue
			}
			inDegree[c]--
			if inDegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(order) < len(subset) {
		emitted := make(map[int]struct{}, len(order))
		for _, i := range order {
			emitted[i] = struct{}{}
		}
		var remaining []string
		for _, i := range subset {
			if _, ok := emitted[i]; !ok {
				remaining = append(remaining, g.names[i])
			}
		}
		return nil, &ErrCycle{Remaining: remaining}
	}

	return order, nil
}

// Dependents returns the indices of tasks that directly depend on i.
func (g *Graph) Dependents(i int) []int {
	return g.children[i]
}

// Dependencies returns the indices of tasks that i directly depends on.
func (g *Graph) Dependencies(i int) []int {
	return g.parents[i]
}
