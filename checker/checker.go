// Package checker validates a parsed trace against the stream invariants
// the analysis relies on, so a broken producer is diagnosed before the
// graphs are built.
package checker

import (
	"fmt"
	"sort"

	"github.com/blockspacer/d2/parser"
	"github.com/blockspacer/d2/util"
)

// Problem is one invariant violation found in a trace.
type Problem struct {
	Thread util.ThreadID
	Index  int // position of the offending event in the thread's stream
	Fatal  bool
	Reason string
}

func (p Problem) String() string {
	return fmt.Sprintf("thread %d, event %d: %s", p.Thread, p.Index, p.Reason)
}

// Validate checks every per-thread stream:
//   - a segment hop precedes the first lock event (threads the start_join
//     stream knows about always hop first),
//   - every release matches a held lock and recursion counts balance,
//   - non-LIFO releases are flagged as warnings,
//   - the lock stack is empty at end of stream.
//
// The returned problems are ordered by thread id, then stream position.
func Validate(tr *parser.Trace) []Problem {
	var problems []Problem
	for _, tid := range tr.ThreadIDs {
		problems = append(problems, validateThread(tid, tr.Threads[tid])...)
	}
	return problems
}

func validateThread(tid util.ThreadID, events []util.Event) []Problem {
	var problems []Problem
	var held []util.LockID
	recursion := make(map[util.LockID]uint)

	// A thread the allocator knows about hops before its lock events; a
	// stream with no hop at all is a thread that predates tracing and is
	// fine. Only the ordering is an invariant.
	firstHop, firstLock := -1, -1
	for i, e := range events {
		switch e.(type) {
		case *util.SegmentHopEvent:
			if firstHop < 0 {
				firstHop = i
			}
		case *util.AcquireEvent, *util.ReleaseEvent:
			if firstLock < 0 {
				firstLock = i
			}
		}
	}
	if firstHop >= 0 && firstLock >= 0 && firstLock < firstHop {
		problems = append(problems, Problem{
			Thread: tid, Index: firstLock,
			Reason: "lock event before the thread's first segment hop",
		})
	}

	remove := func(l util.LockID) (top bool, ok bool) {
		for i := len(held) - 1; i >= 0; i-- {
			if held[i] == l {
				top = i == len(held)-1
				held = append(held[:i], held[i+1:]...)
				return top, true
			}
		}
		return false, false
	}

	for i, e := range events {
		switch ev := e.(type) {
		case *util.AcquireEvent:
			if ev.Recursive {
				if recursion[ev.Lock] > 0 {
					recursion[ev.Lock]++
					continue
				}
				recursion[ev.Lock] = 1
			}
			held = append(held, ev.Lock)
		case *util.ReleaseEvent:
			if ev.Recursive {
				if recursion[ev.Lock] == 0 {
					problems = append(problems, Problem{
						Thread: tid, Index: i, Fatal: true,
						Reason: fmt.Sprintf("recursive release of lock %d with no matching acquire", ev.Lock),
					})
					continue
				}
				if recursion[ev.Lock]--; recursion[ev.Lock] > 0 {
					continue
				}
			}
			top, ok := remove(ev.Lock)
			if !ok {
				problems = append(problems, Problem{
					Thread: tid, Index: i, Fatal: true,
					Reason: fmt.Sprintf("release of lock %d which is not held", ev.Lock),
				})
			} else if !top {
				problems = append(problems, Problem{
					Thread: tid, Index: i,
					Reason: fmt.Sprintf("out of order release of lock %d", ev.Lock),
				})
			}
		case *util.SegmentHopEvent:
			// ordering already checked above
		default:
			problems = append(problems, Problem{
				Thread: tid, Index: i, Fatal: true,
				Reason: fmt.Sprintf("%s event in a per-thread stream", util.EventName(e)),
			})
		}
	}
	if len(held) > 0 {
		problems = append(problems, Problem{
			Thread: tid, Index: len(events),
			Reason: fmt.Sprintf("%d locks still held at end of stream", len(held)),
		})
	}
	sort.SliceStable(problems, func(i, j int) bool { return problems[i].Index < problems[j].Index })
	return problems
}

// Fatal reports whether any problem makes the trace unanalyzable.
func Fatal(problems []Problem) bool {
	for _, p := range problems {
		if p.Fatal {
			return true
		}
	}
	return false
}
