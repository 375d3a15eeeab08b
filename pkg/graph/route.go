package graph

import (
	"github.com/aretw0/promptgraph/pkg/domain"
)

// ShortestPath returns the hop sequence from -> to with the fewest paths.
// Breadth-first search follows paths in insertion order, so among equally short
// routes the first discovered wins. from == to yields an empty route.
func (g *Graph) ShortestPath(from, to *domain.State) ([]*Path, error) {
	return g.shortest(from, func(s *domain.State) bool { return s == to }, to.String())
}

// NearestOf returns the shortest route from `from` to any state in targets.
func (g *Graph) NearestOf(from *domain.State, targets []*domain.State) ([]*Path, error) {
	set := make(map[*domain.State]bool, len(targets))
	names := ""
	for i, t := range targets {
		set[t] = true
		if i > 0 {
			names += "|"
		}
		names += t.String()
	}
	return g.shortest(from, func(s *domain.State) bool { return set[s] }, names)
}

func (g *Graph) shortest(from *domain.State, goal func(*domain.State) bool, goalName string) ([]*Path, error) {
	if goal(from) {
		return nil, nil
	}

	via := map[*domain.State]*Path{}
	visited := map[*domain.State]bool{from: true}
	queue := []*domain.State{from}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, p := range g.out[cur] {
			if visited[p.To] {
				continue
			}
			visited[p.To] = true
			via[p.To] = p
			if goal(p.To) {
				return unwind(via, from, p.To), nil
			}
			queue = append(queue, p.To)
		}
	}
	return nil, &domain.NoDirectPathError{From: from.String(), To: goalName, HopWise: true}
}

func unwind(via map[*domain.State]*Path, from, to *domain.State) []*Path {
	var route []*Path
	for s := to; s != from; {
		p := via[s]
		route = append(route, p)
		s = p.From
	}
	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return route
}

// StateFor classifies device output. Among states whose prompt occurs in text,
// the one whose last match ends closest to the end of text wins; ties go to
// the state declared first.
func (g *Graph) StateFor(text string) (*domain.State, bool) {
	var (
		best    *domain.State
		bestEnd = -1
	)
	for _, s := range g.states {
		if s.Prompt == nil {
			continue
		}
		locs := s.Prompt.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		if end := locs[len(locs)-1][1]; end > bestEnd {
			best, bestEnd = s, end
		}
	}
	return best, best != nil
}
