// Package detector implements the post-mortem analysis: it rebuilds the
// happens-before order and the lock-order graph from a recorded trace and
// reports lock-ordering cycles that could deadlock a real execution.
package detector

import (
	"github.com/blockspacer/d2/util"
)

// SegmentationGraph encodes the happens-before partial order over segments
// induced by thread starts and joins. It is acyclic by construction: every
// edge points at a segment created after its source.
type SegmentationGraph struct {
	adj   map[util.Segment][]util.Segment
	verts map[util.Segment]struct{}
	reach map[util.Segment]map[util.Segment]bool // closure, memoized per source
}

func NewSegmentationGraph() *SegmentationGraph {
	return &SegmentationGraph{
		adj:   make(map[util.Segment][]util.Segment),
		verts: make(map[util.Segment]struct{}),
		reach: make(map[util.Segment]map[util.Segment]bool),
	}
}

// Build consumes the start_join stream in arrival order. The first event of
// a non-empty stream must be a start, and every event must be a start or a
// join; any violation returns an EventTypeError and leaves the graph
// untouched.
func (g *SegmentationGraph) Build(events []util.Event) error {
	if len(events) == 0 {
		return nil
	}
	if _, ok := events[0].(*util.StartEvent); !ok {
		return &util.EventTypeError{Expected: "start", Actual: util.EventName(events[0])}
	}
	for _, e := range events {
		switch e.(type) {
		case *util.StartEvent, *util.JoinEvent:
		default:
			return &util.EventTypeError{Expected: "start or join", Actual: util.EventName(e)}
		}
	}
	for _, e := range events {
		switch ev := e.(type) {
		case *util.StartEvent:
			// The parent's old segment precedes both the parent's new
			// segment and the child's first segment.
			g.addEdge(ev.Parent, ev.NewParent)
			g.addEdge(ev.Parent, ev.Child)
		case *util.JoinEvent:
			// The parent's new segment follows both the parent's old
			// segment and the child's last segment.
			g.addEdge(ev.Parent, ev.NewParent)
			g.addEdge(ev.Child, ev.NewParent)
		}
	}
	return nil
}

func (g *SegmentationGraph) addEdge(u, v util.Segment) {
	g.adj[u] = append(g.adj[u], v)
	g.verts[u] = struct{}{}
	g.verts[v] = struct{}{}
}

// NumVertices returns the number of distinct segments in the graph.
func (g *SegmentationGraph) NumVertices() int { return len(g.verts) }

// HappensBefore reports whether v is reachable from u. The relation is
// irreflexive and transitive.
func (g *SegmentationGraph) HappensBefore(u, v util.Segment) bool {
	if u == v {
		return false
	}
	return g.reachable(u)[v]
}

// reachable returns the set of segments reachable from u, computing and
// caching it on first use. The graph is read-only once built, so the cache
// never invalidates.
func (g *SegmentationGraph) reachable(u util.Segment) map[util.Segment]bool {
	if r, ok := g.reach[u]; ok {
		return r
	}
	r := make(map[util.Segment]bool)
	stack := append([]util.Segment(nil), g.adj[u]...)
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r[s] {
			continue
		}
		r[s] = true
		stack = append(stack, g.adj[s]...)
	}
	g.reach[u] = r
	return r
}
