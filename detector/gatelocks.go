package detector

import (
	"strconv"
	"strings"

	"github.com/blockspacer/d2/util"
)

// Gatelocks is an immutable set of locks a thread already held when it
// acquired another one, kept in acquisition order. Instances are interned:
// every edge whose gatelock contents are equal shares one allocation, which
// keeps the lock graph's footprint bounded when many edges carry the same
// context.
type Gatelocks struct {
	order []util.LockID
	set   map[util.LockID]struct{}
	key   string
}

var emptyGatelocks = &Gatelocks{key: ""}

// gatelockInterner hands out shared Gatelocks values. The analysis phase is
// single threaded per graph, so no lock is taken here; the skeleton
// serializes insertions when it fans out per-thread feeding.
type gatelockInterner struct {
	known map[string]*Gatelocks
}

func newGatelockInterner() *gatelockInterner {
	return &gatelockInterner{known: make(map[string]*Gatelocks)}
}

func gatelockKey(locks []util.LockID) string {
	var b strings.Builder
	for i, l := range locks {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(l), 10))
	}
	return b.String()
}

// intern returns the shared set holding exactly locks, in order.
func (in *gatelockInterner) intern(locks []util.LockID) *Gatelocks {
	if len(locks) == 0 {
		return emptyGatelocks
	}
	key := gatelockKey(locks)
	if g, ok := in.known[key]; ok {
		return g
	}
	g := &Gatelocks{
		order: append([]util.LockID(nil), locks...),
		set:   make(map[util.LockID]struct{}, len(locks)),
		key:   key,
	}
	for _, l := range locks {
		g.set[l] = struct{}{}
	}
	in.known[key] = g
	return g
}

func (g *Gatelocks) Len() int { return len(g.order) }

// Locks returns the set in acquisition order. The slice is shared; callers
// must not mutate it.
func (g *Gatelocks) Locks() []util.LockID { return g.order }

func (g *Gatelocks) Contains(l util.LockID) bool {
	_, ok := g.set[l]
	return ok
}

// Intersects reports whether the two sets share any lock.
func (g *Gatelocks) Intersects(other *Gatelocks) bool {
	a, b := g, other
	if len(b.order) < len(a.order) {
		a, b = b, a
	}
	for _, l := range a.order {
		if b.Contains(l) {
			return true
		}
	}
	return false
}
