package validator

import (
	"fmt"
	"strings"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
)

// Report lists the structural problems of a graph.
type Report struct {
	// Unreachable states cannot be entered from the entry state.
	Unreachable []string
	// DeadEnds have no outward path, so a session there can only be recovered by reconnecting.
	DeadEnds []string
	// Stranded states cannot route back to the entry state.
	Stranded []string
}

// Empty reports whether no problem was found.
func (r Report) Empty() bool {
	return len(r.Unreachable) == 0 && len(r.DeadEnds) == 0 && len(r.Stranded) == 0
}

// Analyze crawls g from entry. An empty entry uses the first state.
func Analyze(g *graph.Graph, entry string) (Report, error) {
	states := g.States()
	if len(states) == 0 {
		return Report{}, fmt.Errorf("graph %q has no states", g.Name())
	}
	start := states[0]
	if entry != "" {
		s, err := g.State(entry)
		if err != nil {
			return Report{}, fmt.Errorf("entry state: %w", err)
		}
		start = s
	}

	var r Report
	visited := crawl(g, start)
	for _, s := range states {
		if !visited[s] {
			r.Unreachable = append(r.Unreachable, s.Name)
		}
		if len(g.PathsFrom(s)) == 0 {
			r.DeadEnds = append(r.DeadEnds, s.Name)
			continue
		}
		if s != start {
			if _, err := g.ShortestPath(s, start); err != nil {
				r.Stranded = append(r.Stranded, s.Name)
			}
		}
	}
	return r, nil
}

// ValidateGraph checks that every state is reachable from entry and that none is a dead end.
func ValidateGraph(g *graph.Graph, entry string) error {
	r, err := Analyze(g, entry)
	if err != nil {
		return err
	}

	var errors []string
	for _, name := range r.Unreachable {
		errors = append(errors, fmt.Sprintf("Unreachable state: '%s'", name))
	}
	for _, name := range r.DeadEnds {
		errors = append(errors, fmt.Sprintf("No outward path: '%s'", name))
	}
	if len(errors) > 0 {
		return fmt.Errorf("found %d errors:\n- %s", len(errors), strings.Join(errors, "\n- "))
	}
	return nil
}

func crawl(g *graph.Graph, start *domain.State) map[*domain.State]bool {
	visited := make(map[*domain.State]bool)
	queue := []*domain.State{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, p := range g.PathsFrom(current) {
			if !visited[p.To] {
				queue = append(queue, p.To)
			}
		}
	}
	return visited
}
