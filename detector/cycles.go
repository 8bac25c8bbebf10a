package detector

import (
	"strconv"
	"strings"

	"github.com/blockspacer/d2/util"
)

// Cycle enumeration. Deliberately not Tiernan's or Johnson's: a depth-first
// search records a predecessor edge per tree edge and rebuilds a cycle
// whenever a back edge appears; the search is then restarted at every other
// vertex implicated in a cycle, so rotations of the same cycle surface too.
// Cycles are rare in well-behaved programs, so the simple algorithm wins.

const (
	white = iota
	gray
	black
)

// allCycles calls visit once for every distinct edge sequence forming a
// simple cycle. Rotations of a cycle are distinct sequences; semantic
// deduplication happens downstream, after the deadlock filter.
func (g *LockGraph) allCycles(visit func([]*Edge)) {
	if len(g.order) == 0 {
		return
	}
	seen := make(map[string]struct{})
	var found [][]*Edge
	emit := func(c []*Edge) {
		key := cycleKey(c)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		found = append(found, c)
		visit(c)
	}

	root := g.order[0]
	g.cycleSearch(root, emit)

	// Vertices implicated in a cycle during the first pass. A search
	// rooted at each of them uncovers the rotations: if the first pass
	// found a->b->a, the search rooted at b finds b->a->b.
	var hot []util.LockID
	hotSeen := map[util.LockID]struct{}{root: {}}
	for _, c := range found {
		for _, e := range c {
			for _, v := range [2]util.LockID{e.From, e.To} {
				if _, ok := hotSeen[v]; !ok {
					hotSeen[v] = struct{}{}
					hot = append(hot, v)
				}
			}
		}
	}
	for _, v := range hot {
		g.cycleSearch(v, emit)
	}
}

// cycleSearch runs one full depth-first search over the graph, starting at
// root and then covering any vertices left unvisited, in insertion order.
func (g *LockGraph) cycleSearch(root util.LockID, emit func([]*Edge)) {
	color := make(map[util.LockID]int, len(g.order))
	pred := make(map[util.LockID]*Edge)

	var dfs func(u util.LockID)
	dfs = func(u util.LockID) {
		color[u] = gray
		for _, e := range g.adj[u] {
			switch color[e.To] {
			case white:
				pred[e.To] = e
				dfs(e.To)
			case gray:
				// Back edge: its target is an ancestor on the search
				// stack. Walking tree-edge predecessors from the source
				// back to that ancestor rebuilds the cycle.
				cycle := []*Edge{e}
				ok := true
				for v := e.From; v != e.To; {
					pe, present := pred[v]
					if !present {
						ok = false
						break
					}
					cycle = append([]*Edge{pe}, cycle...)
					v = pe.From
				}
				if ok {
					emit(cycle)
				}
			}
		}
		color[u] = black
	}

	dfs(root)
	for _, v := range g.order {
		if color[v] == white {
			dfs(v)
		}
	}
}

func cycleKey(c []*Edge) string {
	var b strings.Builder
	for i, e := range c {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(e.id))
	}
	return b.String()
}
