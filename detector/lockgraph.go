package detector

import (
	"fmt"

	"github.com/blockspacer/d2/util"
)

// Label annotates one edge of the lock graph: thread Thread, while in
// segment S1, held Gatelocks together with the edge's source lock and
// acquired the edge's target lock; the acquisition extended into segment
// S2. Info1 and Info2 carry the acquisition sites of the source and target
// locks for diagnostics.
type Label struct {
	S1, S2    util.Segment
	Thread    util.ThreadID
	Gatelocks *Gatelocks
	Info1     util.LockInfo
	Info2     util.LockInfo
}

// key is the coalescing identity of a full label, metadata included:
// observations differing only in their diagnostics stay distinct edges.
func (l Label) key() string {
	return fmt.Sprintf("%d|%d|%d|%s|%s|%s",
		l.S1, l.S2, l.Thread, l.Gatelocks.key, l.Info1.Key(), l.Info2.Key())
}

// Edge is one held-then-acquired observation: some thread held From and
// then acquired To in the context described by Label.
type Edge struct {
	id       int
	From, To util.LockID
	Label    Label
}

// LockGraph is a directed multigraph over locks. Vertices appear on first
// acquisition; parallel edges with distinct labels are kept, equal labels
// are coalesced.
type LockGraph struct {
	verts map[util.LockID]struct{}
	order []util.LockID // insertion order, for deterministic traversal
	adj   map[util.LockID][]*Edge
	edges map[string]struct{} // (from, to, label) coalescing set
	n     int
}

func NewLockGraph() *LockGraph {
	return &LockGraph{
		verts: make(map[util.LockID]struct{}),
		adj:   make(map[util.LockID][]*Edge),
		edges: make(map[string]struct{}),
	}
}

// AddVertex ensures l is a vertex of the graph.
func (g *LockGraph) AddVertex(l util.LockID) {
	if _, ok := g.verts[l]; !ok {
		g.verts[l] = struct{}{}
		g.order = append(g.order, l)
	}
}

// AddEdge records a held-then-acquired observation. Duplicate observations
// (same endpoints, same full label) are dropped.
func (g *LockGraph) AddEdge(from, to util.LockID, label Label) {
	key := fmt.Sprintf("%d>%d>%s", from, to, label.key())
	if _, ok := g.edges[key]; ok {
		return
	}
	g.edges[key] = struct{}{}
	g.AddVertex(from)
	g.AddVertex(to)
	e := &Edge{id: g.n, From: from, To: to, Label: label}
	g.n++
	g.adj[from] = append(g.adj[from], e)
}

// NumVertices returns the number of distinct locks seen.
func (g *LockGraph) NumVertices() int { return len(g.verts) }

// NumEdges returns the number of distinct observations recorded.
func (g *LockGraph) NumEdges() int { return g.n }
