package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// The wire format is line based: one event per record, fields separated by
// an event specific delimiter. The delimiter doubles as the event tag:
//
//	acquire            t ;; l ;; stack ;; file:line
//	recursive acquire  t !! l !! stack !! file:line
//	release            t ; l ;
//	recursive release  t ! l !
//	start              p ~ p' ~ c ~
//	join               p ^ p' ^ c ^
//	segment hop        t > s >
//
// Readers tolerate surrounding whitespace in every field.

var errUnknownRecord = errors.New("unrecognized record shape")

// ParseRecord parses a single wire record into an event.
func ParseRecord(record string) (Event, error) {
	line := strings.TrimSpace(record)
	if line == "" {
		return nil, &CorruptRecordError{Record: record, Err: errors.New("empty record")}
	}

	var ev Event
	var err error
	switch {
	case strings.Contains(line, "~"):
		ev, err = parseSegments(line, "~", func(p, np, c Segment) Event {
			return &StartEvent{Parent: p, NewParent: np, Child: c}
		})
	case strings.Contains(line, "^"):
		ev, err = parseSegments(line, "^", func(p, np, c Segment) Event {
			return &JoinEvent{Parent: p, NewParent: np, Child: c}
		})
	case strings.Contains(line, ">"):
		ev, err = parseHop(line)
	case strings.Contains(line, "!!"):
		ev, err = parseAcquire(line, "!!", true)
	case strings.Contains(line, ";;"):
		ev, err = parseAcquire(line, ";;", false)
	case strings.Contains(line, "!"):
		ev, err = parseRelease(line, "!", true)
	case strings.Contains(line, ";"):
		ev, err = parseRelease(line, ";", false)
	default:
		err = errUnknownRecord
	}
	if err != nil {
		return nil, &CorruptRecordError{Record: record, Err: err}
	}
	return ev, nil
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}

func parseSegments(line, sep string, mk func(p, np, c Segment) Event) (Event, error) {
	fields := strings.Split(line, sep)
	if len(fields) != 4 || strings.TrimSpace(fields[3]) != "" {
		return nil, fmt.Errorf("want 3 %q separated segments", sep)
	}
	var segs [3]Segment
	for i := 0; i < 3; i++ {
		n, err := parseUint(fields[i])
		if err != nil {
			return nil, err
		}
		segs[i] = Segment(n)
	}
	return mk(segs[0], segs[1], segs[2]), nil
}

func parseHop(line string) (Event, error) {
	fields := strings.Split(line, ">")
	if len(fields) != 3 || strings.TrimSpace(fields[2]) != "" {
		return nil, errors.New(`want "t > s >"`)
	}
	t, err := parseUint(fields[0])
	if err != nil {
		return nil, err
	}
	s, err := parseUint(fields[1])
	if err != nil {
		return nil, err
	}
	return &SegmentHopEvent{Thread: ThreadID(t), Segment: Segment(s)}, nil
}

func parseAcquire(line, sep string, recursive bool) (Event, error) {
	fields := strings.Split(line, sep)
	if len(fields) != 4 {
		return nil, fmt.Errorf("want 4 %q separated fields", sep)
	}
	t, err := parseUint(fields[0])
	if err != nil {
		return nil, err
	}
	l, err := parseUint(fields[1])
	if err != nil {
		return nil, err
	}
	ev := &AcquireEvent{Thread: ThreadID(t), Lock: LockID(l), Recursive: recursive}
	if stack := strings.TrimSpace(fields[2]); stack != "" {
		ev.Info.Stack = strings.Split(stack, "|")
	}
	if loc := strings.TrimSpace(fields[3]); loc != "" {
		colon := strings.LastIndex(loc, ":")
		if colon < 0 {
			return nil, fmt.Errorf("malformed location %q", loc)
		}
		line, err := strconv.Atoi(loc[colon+1:])
		if err != nil {
			return nil, fmt.Errorf("malformed location %q", loc)
		}
		ev.Info.File, ev.Info.Line = loc[:colon], line
	}
	return ev, nil
}

func parseRelease(line, sep string, recursive bool) (Event, error) {
	fields := strings.Split(line, sep)
	if len(fields) != 3 || strings.TrimSpace(fields[2]) != "" {
		return nil, fmt.Errorf("want %q terminated thread and lock", sep)
	}
	t, err := parseUint(fields[0])
	if err != nil {
		return nil, err
	}
	l, err := parseUint(fields[1])
	if err != nil {
		return nil, err
	}
	return &ReleaseEvent{Thread: ThreadID(t), Lock: LockID(l), Recursive: recursive}, nil
}
