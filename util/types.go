package util

import (
	"fmt"
	"strings"
)

// ThreadID names a thread for the lifetime of the traced process.
type ThreadID uint64

// LockID names a synchronization object for the lifetime of the traced
// process.
type LockID uint64

// Segment identifies a contiguous region of one thread's execution between
// start/join events. Segments are allocated by a monotonic counter starting
// at 0 and are never reused.
type Segment uint64

// LockInfo carries optional acquisition-site metadata recorded with an
// acquire event.
type LockInfo struct {
	Stack []string // frames, innermost first, formatted fn@file:line
	File  string
	Line  int
}

func (i LockInfo) Empty() bool {
	return len(i.Stack) == 0 && i.File == "" && i.Line == 0
}

// Key returns a deterministic string form of the info, usable as part of a
// map key.
func (i LockInfo) Key() string {
	return strings.Join(i.Stack, "|") + "#" + i.location()
}

func (i LockInfo) location() string {
	if i.File == "" && i.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", i.File, i.Line)
}

func (i LockInfo) String() string {
	if i.Empty() {
		return "unknown location"
	}
	return i.location()
}

// Event is one record of a trace. Per-thread events (acquire, release,
// segment hop) live in that thread's stream; start and join events live in
// the shared start_join stream.
type Event interface {
	// Record renders the event in its wire form, without a trailing
	// newline. Records round-trip losslessly through ParseRecord.
	Record() string
}

// AcquireEvent records thread Thread acquiring lock Lock. Recursive marks a
// re-entrant acquisition.
type AcquireEvent struct {
	Thread    ThreadID
	Lock      LockID
	Info      LockInfo
	Recursive bool
}

func (e *AcquireEvent) Record() string {
	sep := ";;"
	if e.Recursive {
		sep = "!!"
	}
	return fmt.Sprintf("%d %s %d %s %s %s %s", e.Thread, sep, e.Lock, sep,
		strings.Join(e.Info.Stack, "|"), sep, e.Info.location())
}

// ReleaseEvent records thread Thread releasing lock Lock.
type ReleaseEvent struct {
	Thread    ThreadID
	Lock      LockID
	Recursive bool
}

func (e *ReleaseEvent) Record() string {
	sep := ";"
	if e.Recursive {
		sep = "!"
	}
	return fmt.Sprintf("%d %s %d %s", e.Thread, sep, e.Lock, sep)
}

// StartEvent records a thread whose current segment was Parent starting a
// child thread. The parent continues in NewParent and the child begins in
// Child.
type StartEvent struct {
	Parent    Segment
	NewParent Segment
	Child     Segment
}

func (e *StartEvent) Record() string {
	return fmt.Sprintf("%d ~ %d ~ %d ~", e.Parent, e.NewParent, e.Child)
}

// JoinEvent records a thread whose current segment was Parent joining a
// child whose last segment was Child. The parent continues in NewParent.
type JoinEvent struct {
	Parent    Segment
	NewParent Segment
	Child     Segment
}

func (e *JoinEvent) Record() string {
	return fmt.Sprintf("%d ^ %d ^ %d ^", e.Parent, e.NewParent, e.Child)
}

// SegmentHopEvent records thread Thread entering segment Segment. Emitted
// for the parent and the child right after a start, and for the parent right
// after a join.
type SegmentHopEvent struct {
	Thread  ThreadID
	Segment Segment
}

func (e *SegmentHopEvent) Record() string {
	return fmt.Sprintf("%d > %d >", e.Thread, e.Segment)
}
