// Package logging implements the runtime half of the deadlock detector: a
// process-wide event API that records lock acquisitions, releases, thread
// starts and joins into a filesystem repository for later analysis.
package logging

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	callstack "github.com/codemodify/systemkit-callstack"
	"github.com/sirupsen/logrus"

	"github.com/blockspacer/d2/util"
)

// RepositoryEnv selects the repository at process start. When present,
// logging is enabled automatically.
const RepositoryEnv = "D2_REPOSITORY"

var (
	enabled      atomic.Bool
	stackCapture atomic.Bool

	setupMu sync.Mutex
	disp    atomic.Pointer[dispatcher]

	segments = newSegmentAllocator()
)

func init() {
	stackCapture.Store(true)
	if root := os.Getenv(RepositoryEnv); root != "" {
		if err := SetLogRepository(root); err != nil {
			logrus.WithError(err).Error("d2: cannot use repository from " + RepositoryEnv)
			return
		}
		EnableEventLogging()
	}
}

// SetLogRepository selects the directory events are dispatched to, creating
// it if needed. A previously set repository is flushed and closed.
func SetLogRepository(root string) error {
	setupMu.Lock()
	defer setupMu.Unlock()
	d, err := newDispatcher(root)
	if err != nil {
		return err
	}
	if old := disp.Swap(d); old != nil {
		old.stop()
	}
	return nil
}

// UnsetRepository flushes and closes the current repository and disables
// event logging.
func UnsetRepository() {
	setupMu.Lock()
	defer setupMu.Unlock()
	enabled.Store(false)
	if old := disp.Swap(nil); old != nil {
		old.stop()
	}
}

// EnableEventLogging turns notifications on. Idempotent.
func EnableEventLogging() { enabled.Store(true) }

// DisableEventLogging turns notifications off. Idempotent.
func DisableEventLogging() { enabled.Store(false) }

func IsEnabled() bool  { return enabled.Load() }
func IsDisabled() bool { return !enabled.Load() }

// SetStackCapture controls whether acquire notifications record the call
// stack of the acquisition. On by default.
func SetStackCapture(on bool) { stackCapture.Store(on) }

func current() *dispatcher {
	if !enabled.Load() {
		return nil
	}
	return disp.Load()
}

// NotifyAcquire records the acquisition of lock l by thread t.
func NotifyAcquire(t util.ThreadID, l util.LockID) {
	notifyAcquire(t, l, false, 1)
}

// NotifyRecursiveAcquire records a re-entrant acquisition of lock l by
// thread t.
func NotifyRecursiveAcquire(t util.ThreadID, l util.LockID) {
	notifyAcquire(t, l, true, 1)
}

func notifyAcquire(t util.ThreadID, l util.LockID, recursive bool, skip int) {
	d := current()
	if d == nil {
		return
	}
	e := &util.AcquireEvent{Thread: t, Lock: l, Recursive: recursive}
	if stackCapture.Load() {
		e.Info = captureInfo(skip + 2)
	}
	d.dispatchThread(t, e)
}

// NotifyRelease records the release of lock l by thread t.
func NotifyRelease(t util.ThreadID, l util.LockID) {
	if d := current(); d != nil {
		d.dispatchThread(t, &util.ReleaseEvent{Thread: t, Lock: l})
	}
}

// NotifyRecursiveRelease records a re-entrant release of lock l by thread t.
func NotifyRecursiveRelease(t util.ThreadID, l util.LockID) {
	if d := current(); d != nil {
		d.dispatchThread(t, &util.ReleaseEvent{Thread: t, Lock: l, Recursive: true})
	}
}

// NotifyStart records parent starting child. The parent hops into a fresh
// segment and the child receives its first one.
func NotifyStart(parent, child util.ThreadID) error {
	d := current()
	if d == nil {
		return nil
	}
	e, err := segments.start(parent, child)
	if err != nil {
		return err
	}
	d.dispatchStartJoin(e)
	d.dispatchThread(parent, &util.SegmentHopEvent{Thread: parent, Segment: e.NewParent})
	d.dispatchThread(child, &util.SegmentHopEvent{Thread: child, Segment: e.Child})
	return nil
}

// NotifyJoin records parent joining child. Both threads must have been seen
// by a start notification.
func NotifyJoin(parent, child util.ThreadID) error {
	d := current()
	if d == nil {
		return nil
	}
	e, err := segments.join(parent, child)
	if err != nil {
		return err
	}
	d.dispatchStartJoin(e)
	d.dispatchThread(parent, &util.SegmentHopEvent{Thread: parent, Segment: e.NewParent})
	return nil
}

// captureInfo resolves the caller's stack into acquire-site metadata.
func captureInfo(skip int) util.LockInfo {
	raw := callstack.GetRawFrames(skip)
	if len(raw) == 0 {
		return util.LockInfo{}
	}
	var info util.LockInfo
	frames := runtime.CallersFrames(raw)
	for {
		fr, more := frames.Next()
		if fr.Function != "" {
			info.Stack = append(info.Stack,
				fr.Function+"@"+fr.File+":"+strconv.Itoa(fr.Line))
			if info.File == "" {
				info.File, info.Line = fr.File, fr.Line
			}
		}
		if !more {
			break
		}
	}
	return info
}
