package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/rollout/internal/ir"
)

// CycleError reports an artifact dependency cycle.
type CycleError struct {
	// Path walks the cycle and ends where it started: ["a", "b", "a"].
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("artifact dependency cycle: %s", strings.Join(e.Path, " → "))
}

// DetectArtifactCycles finds every dependency cycle among the project's
// artifacts, self-dependencies included. An acyclic project returns an
// empty slice. Results follow artifact declaration order.
func DetectArtifactCycles(p *ir.Project) []*CycleError {
	graph, order := buildDependencyGraph(p.Artifacts())

	cycles := []*CycleError{}
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, &CycleError{Path: reconstructCyclePath(scc, graph)})
		}
	}
	return cycles
}

// dependencyGraph maps artifact id → ids it depends on.
type dependencyGraph map[string][]string

// buildDependencyGraph returns the graph and the node visit order.
// Dependencies on undeclared artifacts are left to Validate.
func buildDependencyGraph(artifacts []*ir.Artifact) (dependencyGraph, []string) {
	graph := make(dependencyGraph, len(artifacts))
	order := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		order = append(order, a.ID)
		graph[a.ID] = []string{}
	}
	for _, a := range artifacts {
		for _, dep := range a.DependsOn {
			if _, ok := graph[dep]; ok {
				graph[a.ID] = append(graph[a.ID], dep)
			}
		}
	}
	return graph, order
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the given order so results are deterministic.
// Each SCC is rotated to start at its earliest-declared member.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	for _, scc := range sccs {
		first := 0
		for i, id := range scc {
			if rank[id] < rank[scc[first]] {
				first = i
			}
		}
		rotated := append(append([]string{}, scc[first:]...), scc[:first]...)
		copy(scc, rotated)
	}
	sortByRank(sccs, rank)
	return sccs
}

func sortByRank(sccs [][]string, rank map[string]int) {
	for i := 1; i < len(sccs); i++ {
		for j := i; j > 0 && rank[sccs[j][0]] < rank[sccs[j-1][0]]; j-- {
			sccs[j], sccs[j-1] = sccs[j-1], sccs[j]
		}
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}
	start := scc[0]
	if len(scc) == 1 {
		return []string{start, start}
	}

	sccSet := make(map[string]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
