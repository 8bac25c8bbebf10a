// Package parser reads an event repository produced by the logging phase
// back into memory for analysis.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/blockspacer/d2/util"
)

// StartJoinFile is the name of the shared stream holding start and join
// events. Every other file in a repository is named by the decimal ThreadID
// owning the stream.
const StartJoinFile = "start_join"

// Trace is a fully parsed repository.
type Trace struct {
	Threads   map[util.ThreadID][]util.Event
	ThreadIDs []util.ThreadID // sorted, so consumers iterate deterministically
	StartJoin []util.Event
}

// LoadRepository parses every stream found under root. Files whose names are
// not a decimal thread id and not the start_join file are ignored. A missing
// start_join file is legal: a trace of a single thread never records a start
// or a join.
func LoadRepository(root string) (*Trace, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", root, err)
	}

	tr := &Trace{Threads: make(map[util.ThreadID][]util.Event)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(root, name)
		if name == StartJoinFile {
			tr.StartJoin, err = parseFile(path)
			if err != nil {
				return nil, err
			}
			continue
		}
		id, convErr := strconv.ParseUint(name, 10, 64)
		if convErr != nil {
			continue
		}
		events, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		tid := util.ThreadID(id)
		tr.Threads[tid] = events
		tr.ThreadIDs = append(tr.ThreadIDs, tid)
	}
	sort.Slice(tr.ThreadIDs, func(i, j int) bool { return tr.ThreadIDs[i] < tr.ThreadIDs[j] })
	return tr, nil
}

func parseFile(path string) ([]util.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening stream %s: %w", path, err)
	}
	defer f.Close()
	events, err := ParseStream(f)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", path, err)
	}
	return events, nil
}

// ParseStream parses a sequence of wire records, one per line. Blank lines
// are skipped.
func ParseStream(r io.Reader) ([]util.Event, error) {
	var events []util.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		ev, err := util.ParseRecord(line)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
