package detector

import (
	"sort"
	"strconv"
	"strings"

	"github.com/blockspacer/d2/util"
)

// DeadlockedThread is the state of one thread in a potential deadlock: the
// locks it held at the moment of the inversion, starting with the edge's
// source lock, then its other held locks in acquisition order, and ending
// with the lock it went on to acquire.
type DeadlockedThread struct {
	TID   util.ThreadID
	Locks []util.LockID
	// Acquisition sites of the first held lock and of the awaited lock,
	// when the trace carried them.
	HoldInfo util.LockInfo
	WaitInfo util.LockInfo
}

// Holds returns the locks the thread holds, i.e. all but the awaited one.
func (t DeadlockedThread) Holds() []util.LockID { return t.Locks[:len(t.Locks)-1] }

// Waits returns the lock the thread is trying to acquire.
func (t DeadlockedThread) Waits() util.LockID { return t.Locks[len(t.Locks)-1] }

// PotentialDeadlock is a state which, if reached, would deadlock the traced
// program: one record per thread participating in the lock-order cycle.
type PotentialDeadlock struct {
	Threads []DeadlockedThread
}

// deadlockFilter decides whether an enumerated cycle is a real inversion.
// Every ordered pair of distinct edges must involve different threads, must
// not share a gatelock, and must not be ordered by happens-before.
func deadlockFilter(sg *SegmentationGraph, cycle []*Edge) bool {
	for i, e1 := range cycle {
		for j, e2 := range cycle {
			if i == j {
				continue
			}
			l1, l2 := e1.Label, e2.Label
			if l1.Thread == l2.Thread {
				return false
			}
			// A lock held by both threads throughout would serialize them.
			if l1.Gatelocks.Intersects(l2.Gatelocks) {
				return false
			}
			// If one acquisition already happened before the other, the
			// two can never be concurrent.
			if sg.HappensBefore(l1.S2, l2.S1) {
				return false
			}
		}
	}
	return true
}

// deadlockFromCycle maps a surviving cycle to its report: edge by edge, the
// thread held the edge's source plus its gatelocks and acquired the target.
func deadlockFromCycle(cycle []*Edge) PotentialDeadlock {
	dl := PotentialDeadlock{Threads: make([]DeadlockedThread, 0, len(cycle))}
	for _, e := range cycle {
		locks := make([]util.LockID, 0, e.Label.Gatelocks.Len()+2)
		locks = append(locks, e.From)
		locks = append(locks, e.Label.Gatelocks.Locks()...)
		locks = append(locks, e.To)
		dl.Threads = append(dl.Threads, DeadlockedThread{
			TID:      e.Label.Thread,
			Locks:    locks,
			HoldInfo: e.Label.Info1,
			WaitInfo: e.Label.Info2,
		})
	}
	return dl
}

// equivalenceKey canonicalizes a deadlock for semantic deduplication: the
// multiset of (thread, lock set) pairs, order insensitive within each set
// and across threads.
func equivalenceKey(dl PotentialDeadlock) string {
	parts := make([]string, 0, len(dl.Threads))
	for _, t := range dl.Threads {
		locks := append([]util.LockID(nil), t.Locks...)
		sort.Slice(locks, func(i, j int) bool { return locks[i] < locks[j] })
		var b strings.Builder
		b.WriteString(strconv.FormatUint(uint64(t.TID), 10))
		b.WriteByte(':')
		var last util.LockID
		for i, l := range locks {
			if i > 0 && l == last {
				continue // set semantics
			}
			b.WriteString(strconv.FormatUint(uint64(l), 10))
			b.WriteByte(',')
			last = l
		}
		parts = append(parts, b.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// Dedup keeps one representative per equivalence class, preserving first
// appearance order. Idempotent and insensitive to rotations of the
// underlying cycles.
func Dedup(deadlocks []PotentialDeadlock) []PotentialDeadlock {
	seen := make(map[string]struct{}, len(deadlocks))
	kept := deadlocks[:0:0]
	for _, dl := range deadlocks {
		key := equivalenceKey(dl)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, dl)
	}
	return kept
}

// analyze enumerates the cycles of lg, filters them against sg, and returns
// the deduplicated potential deadlocks.
func analyze(lg *LockGraph, sg *SegmentationGraph) []PotentialDeadlock {
	var all []PotentialDeadlock
	lg.allCycles(func(cycle []*Edge) {
		if deadlockFilter(sg, cycle) {
			all = append(all, deadlockFromCycle(cycle))
		}
	})
	return Dedup(all)
}
