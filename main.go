package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/blockspacer/d2/checker"
	"github.com/blockspacer/d2/detector"
	"github.com/blockspacer/d2/parser"
	"github.com/blockspacer/d2/util"
)

const rule = "\n--------------------------------------------------------------------------------\n"

func main() {
	analyze := flag.Bool("analyze", true, "perform the analysis for deadlocks")
	stats := flag.Bool("stats", false, "produce statistics about the usage of locks and threads")
	validate := flag.Bool("validate", false, "check the trace for invariant violations before analyzing")
	debug := flag.Bool("debug", false, "enable special debugging output")
	flag.Parse()
	args := flag.Args()
	if len(args) > 0 {
		// Flags may also follow the repository path.
		flag.CommandLine.Parse(args[1:])
	}

	if len(args) == 0 || flag.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: d2 <repo-path> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	repo := args[0]

	logrus.SetOutput(os.Stderr)
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	tr, err := parser.LoadRepository(repo)
	if err != nil {
		var corrupt *util.CorruptRecordError
		if errors.As(err, &corrupt) {
			fmt.Fprintf(os.Stderr, "error while reading the trace: %v\n", corrupt)
		} else {
			fmt.Fprintf(os.Stderr, "unable to open the repository at %s\n", repo)
		}
		if *debug {
			logrus.WithError(err).Debug("repository load failed")
		}
		os.Exit(1)
	}

	if *validate {
		problems := checker.Validate(tr)
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, p)
		}
		if checker.Fatal(problems) {
			fmt.Fprintln(os.Stderr, "the trace violates invariants the analysis relies on")
			os.Exit(1)
		}
	}

	sk, err := detector.NewSkeletonFromTrace(tr)
	if err != nil {
		explainBuildError(err)
		if *debug {
			logrus.WithError(err).Debug("skeleton construction failed")
		}
		os.Exit(1)
	}

	if *stats {
		fmt.Printf("number of threads: %d\n", sk.NumberOfThreads())
		fmt.Printf("number of locks: %d\n", sk.NumberOfLocks())
	}

	if *analyze {
		sk.Deadlocks(func(dl detector.PotentialDeadlock) {
			fmt.Print(rule)
			detector.Explain(os.Stdout, dl)
		})
	}
}

func explainBuildError(err error) {
	var typeErr *util.EventTypeError
	var relErr *util.UnexpectedReleaseError
	switch {
	case errors.As(err, &typeErr):
		fmt.Fprintf(os.Stderr,
			"error while loading the data:\n"+
				"    encountered an event of type %s\n"+
				"    while expecting an event of type %s\n",
			typeErr.Actual, typeErr.Expected)
	case errors.As(err, &relErr):
		fmt.Fprintf(os.Stderr,
			"error while building the graphs:\n"+
				"    lock %d was unexpectedly released by thread %d\n",
			relErr.Lock, relErr.Thread)
	default:
		fmt.Fprintf(os.Stderr, "error while building the graphs: %v\n", err)
	}
}
