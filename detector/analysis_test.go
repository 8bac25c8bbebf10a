package detector

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/blockspacer/d2/parser"
	"github.com/blockspacer/d2/util"
)

func mkTrace(startJoin []util.Event, threads map[util.ThreadID][]util.Event) *parser.Trace {
	tr := &parser.Trace{Threads: threads, StartJoin: startJoin}
	for tid := range threads {
		tr.ThreadIDs = append(tr.ThreadIDs, tid)
	}
	for i := range tr.ThreadIDs {
		for j := i + 1; j < len(tr.ThreadIDs); j++ {
			if tr.ThreadIDs[j] < tr.ThreadIDs[i] {
				tr.ThreadIDs[i], tr.ThreadIDs[j] = tr.ThreadIDs[j], tr.ThreadIDs[i]
			}
		}
	}
	return tr
}

func deadlocksOf(t *testing.T, tr *parser.Trace) []PotentialDeadlock {
	t.Helper()
	sk, err := NewSkeletonFromTrace(tr)
	if err != nil {
		t.Fatalf("NewSkeletonFromTrace: %v", err)
	}
	var dls []PotentialDeadlock
	sk.Deadlocks(func(dl PotentialDeadlock) { dls = append(dls, dl) })
	return dls
}

func onlyLocks(dls []PotentialDeadlock) []PotentialDeadlock {
	out := make([]PotentialDeadlock, len(dls))
	for i, dl := range dls {
		for _, th := range dl.Threads {
			out[i].Threads = append(out[i].Threads, DeadlockedThread{TID: th.TID, Locks: th.Locks})
		}
	}
	return out
}

const (
	lockA = 1
	lockB = 2
	lockC = 3
	lockG = 9
)

// abbaTrace is the classic inversion: t0 takes A then B, t1 takes B then A,
// concurrently.
func abbaTrace(repetitions int) *parser.Trace {
	t0 := []util.Event{hop(0, 1)}
	t1 := []util.Event{hop(1, 2)}
	for i := 0; i < repetitions; i++ {
		t0 = append(t0, acq(0, lockA), acq(0, lockB), rel(0, lockB), rel(0, lockA))
		t1 = append(t1, acq(1, lockB), acq(1, lockA), rel(1, lockA), rel(1, lockB))
	}
	return mkTrace(
		[]util.Event{start(0, 1, 2)},
		map[util.ThreadID][]util.Event{0: t0, 1: t1},
	)
}

func TestClassicABBA(t *testing.T) {
	got := deadlocksOf(t, abbaTrace(1))
	want := []PotentialDeadlock{{
		Threads: []DeadlockedThread{
			{TID: 0, Locks: []util.LockID{lockA, lockB}},
			{TID: 1, Locks: []util.LockID{lockB, lockA}},
		},
	}}
	if diff := cmp.Diff(want, onlyLocks(got)); diff != "" {
		t.Fatalf("deadlocks mismatch (-want +got):\n%s", diff)
	}
}

func TestRedundantABBA(t *testing.T) {
	// 100 repetitions of the same inversion still report exactly once.
	got := deadlocksOf(t, abbaTrace(100))
	if len(got) != 1 {
		t.Fatalf("want exactly 1 deadlock, got %d", len(got))
	}
}

func TestEmptyTrace(t *testing.T) {
	tr := mkTrace(nil, map[util.ThreadID][]util.Event{})
	sk, err := NewSkeletonFromTrace(tr)
	if err != nil {
		t.Fatalf("NewSkeletonFromTrace: %v", err)
	}
	if sk.NumberOfThreads() != 0 || sk.NumberOfLocks() != 0 {
		t.Fatalf("empty trace: %d threads, %d locks", sk.NumberOfThreads(), sk.NumberOfLocks())
	}
	if dls := deadlocksOf(t, tr); len(dls) != 0 {
		t.Fatalf("empty trace produced %d deadlocks", len(dls))
	}
}

func TestSingleThreadNeverDeadlocks(t *testing.T) {
	// One thread inverting its own lock order is not a deadlock.
	tr := mkTrace(nil, map[util.ThreadID][]util.Event{
		0: {
			acq(0, lockA), acq(0, lockB), rel(0, lockB), rel(0, lockA),
			acq(0, lockB), acq(0, lockA), rel(0, lockA), rel(0, lockB),
		},
	})
	if dls := deadlocksOf(t, tr); len(dls) != 0 {
		t.Fatalf("single-thread trace produced %d deadlocks", len(dls))
	}
}

func TestJoinOrdersInversion(t *testing.T) {
	// t0 starts t1; t1 takes B then A; t0 joins t1 and only then takes A
	// then B. The join edge orders the two inversions, so no deadlock.
	tr := mkTrace(
		[]util.Event{start(0, 1, 2), join(1, 3, 2)},
		map[util.ThreadID][]util.Event{
			0: {
				hop(0, 1), hop(0, 3),
				acq(0, lockA), acq(0, lockB), rel(0, lockB), rel(0, lockA),
			},
			1: {
				hop(1, 2),
				acq(1, lockB), acq(1, lockA), rel(1, lockA), rel(1, lockB),
			},
		},
	)
	if dls := deadlocksOf(t, tr); len(dls) != 0 {
		t.Fatalf("join-ordered inversion reported as deadlock: %+v", dls)
	}
}

func TestConcurrentInversionWithLaterJoin(t *testing.T) {
	// Same topology, but t0's inversion happens before the join: the two
	// blocks are concurrent and the deadlock is real.
	tr := mkTrace(
		[]util.Event{start(0, 1, 2), join(1, 3, 2)},
		map[util.ThreadID][]util.Event{
			0: {
				hop(0, 1),
				acq(0, lockA), acq(0, lockB), rel(0, lockB), rel(0, lockA),
				hop(0, 3),
			},
			1: {
				hop(1, 2),
				acq(1, lockB), acq(1, lockA), rel(1, lockA), rel(1, lockB),
			},
		},
	)
	if dls := deadlocksOf(t, tr); len(dls) != 1 {
		t.Fatalf("want 1 deadlock, got %d", len(dls))
	}
}

func TestSharedGatelockSerializes(t *testing.T) {
	// Three threads form the cycle A->B->C->A but every inversion happens
	// under the common gatelock G.
	tr := mkTrace(nil, map[util.ThreadID][]util.Event{
		0: {acq(0, lockG), acq(0, lockA), acq(0, lockB), rel(0, lockB), rel(0, lockA), rel(0, lockG)},
		1: {acq(1, lockG), acq(1, lockB), acq(1, lockC), rel(1, lockC), rel(1, lockB), rel(1, lockG)},
		2: {acq(2, lockG), acq(2, lockC), acq(2, lockA), rel(2, lockA), rel(2, lockC), rel(2, lockG)},
	})
	if dls := deadlocksOf(t, tr); len(dls) != 0 {
		t.Fatalf("gatelocked cycle reported as deadlock: %+v", dls)
	}
}

func TestThreeWayDeadlock(t *testing.T) {
	// Without the shared gatelock the same cycle is a genuine three-thread
	// deadlock, and the thread count equals the cycle length.
	tr := mkTrace(nil, map[util.ThreadID][]util.Event{
		0: {acq(0, lockA), acq(0, lockB), rel(0, lockB), rel(0, lockA)},
		1: {acq(1, lockB), acq(1, lockC), rel(1, lockC), rel(1, lockB)},
		2: {acq(2, lockC), acq(2, lockA), rel(2, lockA), rel(2, lockC)},
	})
	dls := deadlocksOf(t, tr)
	if len(dls) != 1 {
		t.Fatalf("want 1 deadlock, got %d", len(dls))
	}
	if len(dls[0].Threads) != 3 {
		t.Fatalf("want 3 deadlocked threads, got %d", len(dls[0].Threads))
	}
	tids := map[util.ThreadID]int{}
	for _, th := range dls[0].Threads {
		tids[th.TID]++
		if len(th.Locks) < 2 {
			t.Fatalf("thread %d lock list too short: %v", th.TID, th.Locks)
		}
	}
	if len(tids) != 3 {
		t.Fatalf("each thread must appear exactly once: %v", tids)
	}
	// The chain closes: thread i waits for what thread i+1 holds first.
	n := len(dls[0].Threads)
	for i, th := range dls[0].Threads {
		next := dls[0].Threads[(i+1)%n]
		if th.Waits() != next.Locks[0] {
			t.Fatalf("chain does not close at %d: waits %d, next holds %v", i, th.Waits(), next.Locks)
		}
	}
}

func TestUnexpectedReleaseSurfaces(t *testing.T) {
	tr := mkTrace(nil, map[util.ThreadID][]util.Event{
		4: {acq(4, lockA), rel(4, lockB)},
	})
	_, err := NewSkeletonFromTrace(tr)
	var relErr *util.UnexpectedReleaseError
	if !errors.As(err, &relErr) {
		t.Fatalf("expected UnexpectedReleaseError, got %v", err)
	}
	if relErr.Thread != 4 || relErr.Lock != lockB {
		t.Fatalf("error carries (%d, %d), want (4, %d)", relErr.Thread, relErr.Lock, lockB)
	}
}

func TestDedupIdempotentAndOrderInsensitive(t *testing.T) {
	a := PotentialDeadlock{Threads: []DeadlockedThread{
		{TID: 0, Locks: []util.LockID{lockA, lockB}},
		{TID: 1, Locks: []util.LockID{lockB, lockA}},
	}}
	rotated := PotentialDeadlock{Threads: []DeadlockedThread{
		{TID: 1, Locks: []util.LockID{lockB, lockA}},
		{TID: 0, Locks: []util.LockID{lockA, lockB}},
	}}
	other := PotentialDeadlock{Threads: []DeadlockedThread{
		{TID: 0, Locks: []util.LockID{lockA, lockC}},
		{TID: 2, Locks: []util.LockID{lockC, lockA}},
	}}

	once := Dedup([]PotentialDeadlock{a, rotated, other})
	if len(once) != 2 {
		t.Fatalf("want 2 classes, got %d", len(once))
	}
	twice := Dedup(once)
	if diff := cmp.Diff(once, twice, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("dedup not idempotent (-once +twice):\n%s", diff)
	}

	reordered := Dedup([]PotentialDeadlock{other, rotated, a})
	if len(reordered) != 2 {
		t.Fatalf("want 2 classes regardless of order, got %d", len(reordered))
	}
}
