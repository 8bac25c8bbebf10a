package detector

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/blockspacer/d2/parser"
)

// Skeleton is a traced program stripped of everything unrelated to
// synchronization: its happens-before order and its lock-order graph.
type Skeleton struct {
	sg      *SegmentationGraph
	lg      *LockGraph
	threads int
}

// NewSkeleton loads the repository rooted at root and builds both graphs.
func NewSkeleton(root string) (*Skeleton, error) {
	tr, err := parser.LoadRepository(root)
	if err != nil {
		return nil, err
	}
	return NewSkeletonFromTrace(tr)
}

// NewSkeletonFromTrace builds a skeleton from an already parsed trace.
// Per-thread streams are replayed concurrently; the graph is assembled
// serially afterwards, in thread-id order, so results are deterministic.
func NewSkeletonFromTrace(tr *parser.Trace) (*Skeleton, error) {
	sg := NewSegmentationGraph()
	if err := sg.Build(tr.StartJoin); err != nil {
		return nil, err
	}
	logrus.Debugf("segmentation graph: %d segments", sg.NumVertices())

	feeds := make([]*threadFeed, len(tr.ThreadIDs))
	var eg errgroup.Group
	for i, tid := range tr.ThreadIDs {
		i, tid := i, tid
		eg.Go(func() error {
			feed, err := replayThread(tid, tr.Threads[tid])
			if err != nil {
				return err
			}
			feeds[i] = feed
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	lg := NewLockGraph()
	in := newGatelockInterner()
	for _, feed := range feeds {
		lg.apply(in, feed)
	}
	logrus.Debugf("lock graph: %d locks, %d edges", lg.NumVertices(), lg.NumEdges())

	return &Skeleton{sg: sg, lg: lg, threads: len(tr.ThreadIDs)}, nil
}

// NumberOfThreads returns the number of threads captured by the skeleton.
func (s *Skeleton) NumberOfThreads() int { return s.threads }

// NumberOfLocks returns the number of distinct locks captured.
func (s *Skeleton) NumberOfLocks() int { return s.lg.NumVertices() }

// Deadlocks calls visit once per deduplicated potential deadlock.
func (s *Skeleton) Deadlocks(visit func(PotentialDeadlock)) {
	for _, dl := range analyze(s.lg, s.sg) {
		visit(dl)
	}
}
