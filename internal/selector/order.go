package selector

import (
	"slices"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/lintscale"
)

// order sorts tools by phase, then dependency-respecting topological order, then id.
// Edges pointing at tools outside the set are ignored.
func order(tools []lintscale.Tool) ([]lintscale.Tool, error) {
	byPhase := make(map[lintscale.Phase][]lintscale.Tool)
	for _, t := range tools {
		byPhase[t.Phase] = append(byPhase[t.Phase], t)
	}

	out := make([]lintscale.Tool, 0, len(tools))
	for _, phase := range lintscale.PhaseOrder {
		sorted, err := topoSort(phase, byPhase[phase])
		if err != nil {
			return nil, err
		}
		out = append(out, sorted...)
	}
	return out, nil
}

// topoSort runs Kahn's algorithm with a lexicographic ready queue.
func topoSort(phase lintscale.Phase, tools []lintscale.Tool) ([]lintscale.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	byID := make(map[string]lintscale.Tool, len(tools))
	for _, t := range tools {
		byID[t.ID] = t
	}

	succ, pred := edges(tools, byID)
	indegree := make(map[string]int, len(tools))
	for id := range byID {
		indegree[id] = len(pred[id])
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	out := make([]lintscale.Tool, 0, len(tools))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, byID[id])
		for _, next := range succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				i, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, i, next)
			}
		}
	}

	if len(out) < len(tools) {
		remaining := make(map[string]bool)
		for id, deg := range indegree {
			if deg > 0 {
				remaining[id] = true
			}
		}
		return nil, lintscale.NewOrderingCycleError(phase, findCycle(remaining, pred))
	}
	return out, nil
}

// edges builds sorted successor and predecessor lists. "a after b" and "b before a" both mean b -> a.
func edges(tools []lintscale.Tool, byID map[string]lintscale.Tool) (succ, pred map[string][]string) {
	succ = make(map[string][]string)
	pred = make(map[string][]string)
	add := func(from, to string) {
		if _, ok := byID[from]; !ok {
			return
		}
		if _, ok := byID[to]; !ok {
			return
		}
		if slices.Contains(succ[from], to) {
			return
		}
		succ[from] = append(succ[from], to)
		pred[to] = append(pred[to], from)
	}
	for _, t := range tools {
		for _, dep := range t.After {
			add(canonical(byID, dep), t.ID)
		}
		for _, dep := range t.Before {
			add(t.ID, canonical(byID, dep))
		}
	}
	for id := range succ {
		sort.Strings(succ[id])
	}
	for id := range pred {
		sort.Strings(pred[id])
	}
	return succ, pred
}

// canonical resolves a case-insensitive edge target to the selected tool's id.
func canonical(byID map[string]lintscale.Tool, id string) string {
	if _, ok := byID[id]; ok {
		return id
	}
	for known := range byID {
		if strings.EqualFold(known, id) {
			return known
		}
	}
	return id
}

// findCycle walks predecessors inside the unsorted remainder until a node repeats.
// Every remaining node has a remaining predecessor, so the walk always closes.
// The cycle is reported in edge order starting from its smallest id.
func findCycle(remaining map[string]bool, pred map[string][]string) []string {
	ids := make([]string, 0, len(remaining))
	for id := range remaining {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pos := make(map[string]int)
	var walk []string
	cur := ids[0]
	for {
		if i, seen := pos[cur]; seen {
			walk = walk[i:]
			break
		}
		pos[cur] = len(walk)
		walk = append(walk, cur)
		for _, p := range pred[cur] {
			if remaining[p] {
				cur = p
				break
			}
		}
	}

	// walk follows predecessors; reverse it into edge direction.
	slices.Reverse(walk)
	start := 0
	for i, id := range walk {
		if id < walk[start] {
			start = i
		}
	}
	cycle := make([]string, 0, len(walk))
	cycle = append(cycle, walk[start:]...)
	return append(cycle, walk[:start]...)
}
