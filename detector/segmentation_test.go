package detector

import (
	"errors"
	"testing"

	"github.com/blockspacer/d2/util"
)

func start(p, np, c uint64) util.Event {
	return &util.StartEvent{Parent: util.Segment(p), NewParent: util.Segment(np), Child: util.Segment(c)}
}

func join(p, np, c uint64) util.Event {
	return &util.JoinEvent{Parent: util.Segment(p), NewParent: util.Segment(np), Child: util.Segment(c)}
}

func TestSegmentationNoEvents(t *testing.T) {
	g := NewSegmentationGraph()
	if err := g.Build(nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.NumVertices() != 0 {
		t.Fatalf("expected empty graph, got %d vertices", g.NumVertices())
	}
}

func TestSegmentationOneStart(t *testing.T) {
	//      0   1   2
	// t0   o___o
	// t1   |_______o
	g := NewSegmentationGraph()
	if err := g.Build([]util.Event{start(0, 1, 2)}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.NumVertices() != 3 {
		t.Fatalf("expected 3 vertices, got %d", g.NumVertices())
	}
	for _, c := range []struct {
		u, v uint64
		want bool
	}{
		{0, 1, true},
		{0, 2, true},
		{1, 2, false},
		{2, 1, false},
	} {
		if got := g.HappensBefore(util.Segment(c.u), util.Segment(c.v)); got != c.want {
			t.Errorf("HappensBefore(%d, %d) = %v, want %v", c.u, c.v, got, c.want)
		}
	}
}

func TestSegmentationStartAndJoin(t *testing.T) {
	//      0   1   2   3
	// t0   o___o_______o
	// t1   |_______o___|
	g := NewSegmentationGraph()
	if err := g.Build([]util.Event{start(0, 1, 2), join(1, 3, 2)}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.NumVertices() != 4 {
		t.Fatalf("expected 4 vertices, got %d", g.NumVertices())
	}
	for _, c := range []struct {
		u, v uint64
		want bool
	}{
		{0, 1, true},
		{0, 2, true},
		{0, 3, true}, // transitively through either branch
		{1, 2, false},
		{1, 3, true},
		{2, 3, true},
		{3, 0, false},
	} {
		if got := g.HappensBefore(util.Segment(c.u), util.Segment(c.v)); got != c.want {
			t.Errorf("HappensBefore(%d, %d) = %v, want %v", c.u, c.v, got, c.want)
		}
	}
}

func TestSegmentationIrreflexive(t *testing.T) {
	g := NewSegmentationGraph()
	if err := g.Build([]util.Event{start(0, 1, 2), join(1, 3, 2)}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	for s := uint64(0); s <= 3; s++ {
		if g.HappensBefore(util.Segment(s), util.Segment(s)) {
			t.Errorf("segment %d happens before itself", s)
		}
	}
}

func TestSegmentationFirstEventMustBeStart(t *testing.T) {
	g := NewSegmentationGraph()
	err := g.Build([]util.Event{join(0, 1, 2), start(1, 3, 4)})
	var typeErr *util.EventTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected EventTypeError, got %v", err)
	}
	if typeErr.Expected != "start" || typeErr.Actual != "join" {
		t.Fatalf("unexpected error detail: %+v", typeErr)
	}
	if g.NumVertices() != 0 {
		t.Fatalf("graph must be left empty on failure, has %d vertices", g.NumVertices())
	}
}

func TestSegmentationRejectsForeignEvents(t *testing.T) {
	g := NewSegmentationGraph()
	err := g.Build([]util.Event{
		start(0, 1, 2),
		&util.AcquireEvent{Thread: 1, Lock: 1},
	})
	var typeErr *util.EventTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected EventTypeError, got %v", err)
	}
}
