package logging

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/glowlabs-org/threadgroup"
	"github.com/sirupsen/logrus"

	"github.com/blockspacer/d2/util"
)

// startJoinFile is the shared stream for start and join events.
const startJoinFile = "start_join"

type stream struct {
	f *os.File
	w *bufio.Writer
}

func (s *stream) write(e util.Event) error {
	if _, err := s.w.WriteString(e.Record()); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *stream) close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// dispatcher routes events to the streams of a repository directory. One
// stream per thread, opened on demand, plus the shared start_join stream.
// Per-thread streams take no lock on the write path: the owning thread is
// the only writer. The start_join stream is serialized by its own mutex.
type dispatcher struct {
	root string
	tg   threadgroup.ThreadGroup

	mu      sync.RWMutex // guards threads
	threads map[util.ThreadID]*stream

	sjMu      sync.Mutex
	startJoin *stream

	errOnce sync.Once
}

func newDispatcher(root string) (*dispatcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating repository %s: %w", root, err)
	}
	d := &dispatcher{
		root:    root,
		threads: make(map[util.ThreadID]*stream),
	}
	d.tg.OnStop(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		var first error
		for _, s := range d.threads {
			if err := s.close(); err != nil && first == nil {
				first = err
			}
		}
		d.threads = make(map[util.ThreadID]*stream)
		if d.startJoin != nil {
			if err := d.startJoin.close(); err != nil && first == nil {
				first = err
			}
			d.startJoin = nil
		}
		return first
	})
	return d, nil
}

func (d *dispatcher) open(name string) (*stream, error) {
	f, err := os.OpenFile(filepath.Join(d.root, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &stream{f: f, w: bufio.NewWriter(f)}, nil
}

// dispatchThread appends a per-thread event to the stream owned by tid.
func (d *dispatcher) dispatchThread(tid util.ThreadID, e util.Event) {
	d.mu.RLock()
	s, ok := d.threads[tid]
	d.mu.RUnlock()
	if !ok {
		d.mu.Lock()
		s, ok = d.threads[tid]
		if !ok {
			var err error
			s, err = d.open(strconv.FormatUint(uint64(tid), 10))
			if err != nil {
				d.mu.Unlock()
				d.fail(err)
				return
			}
			d.threads[tid] = s
		}
		d.mu.Unlock()
	}

	if err := s.write(e); err != nil {
		d.fail(err)
	}
}

// dispatchStartJoin appends a start or join event to the shared stream.
func (d *dispatcher) dispatchStartJoin(e util.Event) {
	d.sjMu.Lock()
	defer d.sjMu.Unlock()
	if d.startJoin == nil {
		s, err := d.open(startJoinFile)
		if err != nil {
			d.fail(err)
			return
		}
		d.startJoin = s
	}
	if err := d.startJoin.write(e); err != nil {
		d.fail(err)
	}
}

// fail disables event logging after the first write error. Notifications
// must never surface errors into the traced program.
func (d *dispatcher) fail(err error) {
	d.errOnce.Do(func() {
		logrus.WithError(err).Error("d2: disabling event logging after repository write failure")
		DisableEventLogging()
	})
}

func (d *dispatcher) stop() error {
	return d.tg.Stop()
}
