package detector

import (
	"github.com/blockspacer/d2/util"
)

type heldLock struct {
	lock util.LockID
	seg  util.Segment // segment the lock was acquired in
	info util.LockInfo
}

// observation is one held-then-acquired fact extracted from a thread
// stream, before it becomes a labeled edge of the lock graph.
type observation struct {
	from, to     util.LockID
	s1, s2       util.Segment
	gatelocks    []util.LockID // acquisition order, from excluded
	info1, info2 util.LockInfo
}

// threadFeed is everything one thread contributes to the lock graph.
type threadFeed struct {
	tid   util.ThreadID
	locks []util.LockID // every acquired lock, first-seen order
	obs   []observation
}

// replayThread replays one per-thread stream, maintaining the thread's
// current segment, its lock stack in acquisition order, and a recursion
// count per re-entrant lock. Replays are independent across threads; the
// skeleton applies the resulting feeds to the graph serially.
func replayThread(tid util.ThreadID, events []util.Event) (*threadFeed, error) {
	feed := &threadFeed{tid: tid}
	var current util.Segment
	var held []heldLock
	recursion := make(map[util.LockID]uint)

	for _, e := range events {
		switch ev := e.(type) {
		case *util.AcquireEvent:
			if ev.Recursive {
				if recursion[ev.Lock] > 0 {
					recursion[ev.Lock]++
					continue
				}
				recursion[ev.Lock] = 1
			}
			feed.locks = append(feed.locks, ev.Lock)
			for i, h := range held {
				feed.obs = append(feed.obs, observation{
					from:      h.lock,
					to:        ev.Lock,
					s1:        h.seg,
					s2:        current,
					gatelocks: gatelocksWithout(held, i),
					info1:     h.info,
					info2:     ev.Info,
				})
			}
			held = append(held, heldLock{lock: ev.Lock, seg: current, info: ev.Info})

		case *util.ReleaseEvent:
			if ev.Recursive {
				if recursion[ev.Lock] == 0 {
					return nil, &util.UnexpectedReleaseError{Thread: tid, Lock: ev.Lock}
				}
				if recursion[ev.Lock]--; recursion[ev.Lock] > 0 {
					continue
				}
			}
			// Locks need not be released in LIFO order; a non-top release
			// removes the lock at its current stack position.
			idx := -1
			for i := len(held) - 1; i >= 0; i-- {
				if held[i].lock == ev.Lock {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, &util.UnexpectedReleaseError{Thread: tid, Lock: ev.Lock}
			}
			held = append(held[:idx], held[idx+1:]...)

		case *util.SegmentHopEvent:
			current = ev.Segment

		default:
			return nil, &util.EventTypeError{Expected: "per-thread event", Actual: util.EventName(e)}
		}
	}
	return feed, nil
}

// gatelocksWithout lists the held locks in acquisition order, skipping the
// one at position skip (the edge's own source lock).
func gatelocksWithout(held []heldLock, skip int) []util.LockID {
	if len(held) == 1 {
		return nil
	}
	locks := make([]util.LockID, 0, len(held)-1)
	for i, h := range held {
		if i != skip {
			locks = append(locks, h.lock)
		}
	}
	return locks
}

// apply inserts one thread's feed into the graph, interning each gatelock
// set so equal contexts share storage.
func (g *LockGraph) apply(in *gatelockInterner, feed *threadFeed) {
	for _, l := range feed.locks {
		g.AddVertex(l)
	}
	for _, o := range feed.obs {
		g.AddEdge(o.from, o.to, Label{
			S1:        o.s1,
			S2:        o.s2,
			Thread:    feed.tid,
			Gatelocks: in.intern(o.gatelocks),
			Info1:     o.info1,
			Info2:     o.info2,
		})
	}
}
