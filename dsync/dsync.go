// Package dsync provides drop-in lockable and thread wrappers that feed the
// event logging pipeline, so a program (or a test scenario) can be traced
// without threading ids around by hand.
package dsync

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/blockspacer/d2/logging"
	"github.com/blockspacer/d2/util"
)

var (
	nextLock   atomic.Uint64
	nextThread atomic.Uint64

	reg struct {
		mu sync.RWMutex
		m  map[int64]util.ThreadID
	}
)

func init() {
	reg.m = make(map[int64]util.ThreadID)
}

// CurrentThreadID returns the traced identity of the calling goroutine: the
// Thread id it runs under when launched through Thread, or its raw
// goroutine id otherwise.
func CurrentThreadID() util.ThreadID {
	gid := goid.Get()
	reg.mu.RLock()
	tid, ok := reg.m[gid]
	reg.mu.RUnlock()
	if ok {
		return tid
	}
	return util.ThreadID(gid)
}

func bind(tid util.ThreadID) {
	gid := goid.Get()
	reg.mu.Lock()
	reg.m[gid] = tid
	reg.mu.Unlock()
}

func unbind() {
	gid := goid.Get()
	reg.mu.Lock()
	delete(reg.m, gid)
	reg.mu.Unlock()
}

// Mutex is a sync.Mutex whose acquisitions and releases are recorded.
type Mutex struct {
	mu sync.Mutex
	id lockID
}

func (m *Mutex) Lock() {
	m.mu.Lock()
	logging.NotifyAcquire(CurrentThreadID(), m.id.get())
}

func (m *Mutex) Unlock() {
	logging.NotifyRelease(CurrentThreadID(), m.id.get())
	m.mu.Unlock()
}

// ID returns the lock's traced identity.
func (m *Mutex) ID() util.LockID { return m.id.get() }

// RecursiveMutex is a re-entrant mutex whose acquisitions and releases are
// recorded as recursive events: the goroutine holding it may lock it again,
// and it is released once every Lock has been matched by an Unlock.
type RecursiveMutex struct {
	mu    sync.Mutex
	id    lockID
	owner atomic.Int64
	depth int
}

func (m *RecursiveMutex) Lock() {
	gid := goid.Get()
	if m.owner.Load() != gid {
		m.mu.Lock()
		m.owner.Store(gid)
	}
	m.depth++
	logging.NotifyRecursiveAcquire(CurrentThreadID(), m.id.get())
}

func (m *RecursiveMutex) Unlock() {
	logging.NotifyRecursiveRelease(CurrentThreadID(), m.id.get())
	if m.depth--; m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

func (m *RecursiveMutex) ID() util.LockID { return m.id.get() }

// lockID assigns a process-unique LockID on first use.
type lockID struct {
	once sync.Once
	id   util.LockID
}

func (l *lockID) get() util.LockID {
	l.once.Do(func() {
		l.id = util.LockID(nextLock.Add(1))
	})
	return l.id
}

// Thread runs a function on its own goroutine under a fresh traced thread
// id, notifying start and join around it.
type Thread struct {
	id   util.ThreadID
	fn   func()
	done chan struct{}
}

// NewThread allocates a thread for fn. Nothing runs until Start.
func NewThread(fn func()) *Thread {
	return &Thread{
		id:   util.ThreadID(1_000_000 + nextThread.Add(1)),
		fn:   fn,
		done: make(chan struct{}),
	}
}

// Go is NewThread followed by Start.
func Go(fn func()) *Thread {
	t := NewThread(fn)
	t.Start()
	return t
}

// ID returns the thread's traced identity.
func (t *Thread) ID() util.ThreadID { return t.id }

// Start notifies the start from the calling thread, then launches the
// goroutine. The notification happens first so the child's events land in
// its fresh segment.
func (t *Thread) Start() error {
	if err := logging.NotifyStart(CurrentThreadID(), t.id); err != nil {
		return err
	}
	go func() {
		bind(t.id)
		defer func() {
			unbind()
			close(t.done)
		}()
		t.fn()
	}()
	return nil
}

// Join waits for the thread and notifies the join from the calling thread.
func (t *Thread) Join() error {
	<-t.done
	return logging.NotifyJoin(CurrentThreadID(), t.id)
}
