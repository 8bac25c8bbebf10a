package logging

import (
	"sync"

	"github.com/blockspacer/d2/util"
)

// segmentAllocator hands out fresh segments at every thread start and join.
// The counter and the thread-to-segment map are guarded by one mutex; this
// is the only contended lock on the start/join notification path.
type segmentAllocator struct {
	mu      sync.Mutex
	current util.Segment
	of      map[util.ThreadID]util.Segment
}

func newSegmentAllocator() *segmentAllocator {
	return &segmentAllocator{of: make(map[util.ThreadID]util.Segment)}
}

// start splits the parent's segment and creates a segment for the child.
// On the very first call the parent's segment is the initial segment 0,
// which is also the counter's initial value; the counter is pre-incremented
// so both fresh segments are distinct from it.
func (a *segmentAllocator) start(parent, child util.ThreadID) (*util.StartEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if parent == child {
		return nil, util.ErrInvalidTopology
	}
	// An unknown parent is a thread that predates tracing; it starts out
	// in the initial segment 0.
	parentSeg := a.of[parent]
	a.current++
	newParentSeg := a.current
	a.current++
	childSeg := a.current
	a.of[parent] = newParentSeg
	a.of[child] = childSeg
	return &util.StartEvent{Parent: parentSeg, NewParent: newParentSeg, Child: childSeg}, nil
}

// join splits the parent's segment again and retires the child's entry.
// Both threads must be known to the allocator.
func (a *segmentAllocator) join(parent, child util.ThreadID) (*util.JoinEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if parent == child {
		return nil, util.ErrInvalidTopology
	}
	parentSeg, ok := a.of[parent]
	if !ok {
		return nil, util.ErrInvalidTopology
	}
	childSeg, ok := a.of[child]
	if !ok {
		return nil, util.ErrInvalidTopology
	}
	a.current++
	newParentSeg := a.current
	a.of[parent] = newParentSeg
	delete(a.of, child)
	return &util.JoinEvent{Parent: parentSeg, NewParent: newParentSeg, Child: childSeg}, nil
}
