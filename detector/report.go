package detector

import (
	"fmt"
	"io"
	"strings"
)

// Explain renders a potential deadlock the way a developer reads it: per
// thread, a line naming the awaited lock followed by a line naming the held
// locks, with acquisition sites when the trace recorded them.
func Explain(w io.Writer, dl PotentialDeadlock) {
	fmt.Fprintf(w, "potential deadlock between %d threads:\n", len(dl.Threads))
	for _, t := range dl.Threads {
		held := make([]string, 0, len(t.Locks)-1)
		for _, l := range t.Holds() {
			held = append(held, fmt.Sprintf("%d", l))
		}
		noun := "lock"
		if len(held) > 1 {
			noun = "locks"
		}
		fmt.Fprintf(w, "thread %d waits for lock %d", t.TID, t.Waits())
		if !t.WaitInfo.Empty() {
			fmt.Fprintf(w, " (acquired at %s)", t.WaitInfo)
		}
		fmt.Fprintf(w, "\n    while holding %s %s", noun, strings.Join(held, ", "))
		if !t.HoldInfo.Empty() {
			fmt.Fprintf(w, " (acquired at %s)", t.HoldInfo)
		}
		fmt.Fprintln(w)
	}
}
