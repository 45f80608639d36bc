// Command graphkernel is the thin CLI wrapper around the kernel's
// maintenance entry points (spec §6): check, repair, compact,
// autocompact, gc, stats, and bench. All of the interesting behavior
// lives in the library (kernel.Engine.Check/Repair/Compact/AutoCompact/
// GC, or benchEdgeWrites for bench); this wrapper only parses flags,
// loads an optional YAML options overlay, and maps results onto the
// spec's exit-code contract.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/nervusdb/kernel"
)

// Exit codes (spec §6): 0 success; 1 usage error; 2 database error
// (corruption, lock, format mismatch); 130/143 for SIGINT/SIGTERM.
const (
	exitOK            = 0
	exitUsage         = 1
	exitDatabaseError = 2
	exitSIGINT        = 130
	exitSIGTERM       = 143
)

// fileOptions mirrors the subset of kernel.Options a YAML options file
// may override; zero fields fall back to kernel.DefaultOptions.
type fileOptions struct {
	PageSize             int    `yaml:"pageSize"`
	HotCompression       string `yaml:"hotCompression"`
	ColdCompression      string `yaml:"coldCompression"`
	MemTableMaxSize      int    `yaml:"memTableMaxSize"`
	MinCompactionScore   float64 `yaml:"minCompactionScore"`
	MaxPrimariesPerOrder int    `yaml:"maxPrimariesPerOrder"`
	LockRetries          int    `yaml:"lockRetries"`
	LogLevel             string `yaml:"logLevel"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		usage()
		return exitUsage
	}
	cmd, dbPath := args[0], args[1]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	optionsFile := fs.String("options", "", "path to a YAML options overlay file")
	strict := fs.Bool("strict", false, "check: also verify ordering invariants, not just CRCs")
	fast := fs.Bool("fast", false, "repair: skip orderings that already verify cleanly")
	respectReaders := fs.Bool("respect-readers", true, "gc: refuse to reclaim pages a pinned reader may still need")
	benchEdges := fs.Int("bench-edges", 100000, "bench: number of edges to commit")
	benchBatchSize := fs.Int("bench-batch-size", 500, "bench: edges committed per batch")
	if err := fs.Parse(args[2:]); err != nil {
		return exitUsage
	}

	opts := kernel.DefaultOptions(dbPath)
	if *optionsFile != "" {
		if err := loadOptionsFile(*optionsFile, &opts); err != nil {
			fmt.Fprintln(os.Stderr, "graphkernel:", err)
			return exitUsage
		}
	}

	e, err := kernel.Open(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "graphkernel: open:", err)
		return exitDatabaseError
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan int, 1)
	exitCode := make(chan int, 1)

	go func() {
		exitCode <- dispatch(cmd, e, dispatchOptions{
			strict:         *strict,
			fast:           *fast,
			respectReaders: *respectReaders,
			benchEdges:     *benchEdges,
			benchBatchSize: *benchBatchSize,
		})
		done <- 1
	}()

	select {
	case sig := <-sigCh:
		e.Close()
		if sig == syscall.SIGINT {
			return exitSIGINT
		}
		return exitSIGTERM
	case code := <-exitCode:
		<-done
		if cerr := e.Close(); cerr != nil && code == exitOK {
			fmt.Fprintln(os.Stderr, "graphkernel: close:", cerr)
			return exitDatabaseError
		}
		return code
	}
}

// dispatchOptions collects every per-subcommand flag value dispatch
// needs, so adding a new bench/check/repair knob never changes
// dispatch's signature.
type dispatchOptions struct {
	strict         bool
	fast           bool
	respectReaders bool
	benchEdges     int
	benchBatchSize int
}

func dispatch(cmd string, e *kernel.Engine, opts dispatchOptions) int {
	switch cmd {
	case "check":
		report, err := e.Check(opts.strict)
		if err != nil {
			fmt.Fprintln(os.Stderr, "graphkernel: check:", err)
			return exitDatabaseError
		}
		if !report.OK {
			for _, e := range report.Errors {
				fmt.Fprintln(os.Stderr, "graphkernel: check error:", e)
			}
			return exitDatabaseError
		}
		fmt.Println("graphkernel: check: ok")
		return exitOK

	case "repair":
		if err := e.Repair(opts.fast); err != nil {
			fmt.Fprintln(os.Stderr, "graphkernel: repair:", err)
			return exitDatabaseError
		}
		fmt.Println("graphkernel: repair: complete")
		return exitOK

	case "compact":
		if _, err := e.Compact(); err != nil {
			fmt.Fprintln(os.Stderr, "graphkernel: compact:", err)
			return exitDatabaseError
		}
		fmt.Println("graphkernel: compact: complete")
		return exitOK

	case "autocompact":
		stats, err := e.AutoCompact()
		if err != nil {
			fmt.Fprintln(os.Stderr, "graphkernel: autocompact:", err)
			return exitDatabaseError
		}
		fmt.Printf("graphkernel: autocompact: %+v\n", stats)
		return exitOK

	case "gc":
		stats, err := e.GC(opts.respectReaders)
		if err != nil {
			fmt.Fprintln(os.Stderr, "graphkernel: gc:", err)
			return exitDatabaseError
		}
		fmt.Printf("graphkernel: gc: %+v\n", stats)
		return exitOK

	case "stats":
		fmt.Printf("graphkernel: stats: %+v\n", e.Stats())
		return exitOK

	case "bench":
		result, err := benchEdgeWrites(e, opts.benchEdges, opts.benchBatchSize)
		if err != nil {
			fmt.Fprintln(os.Stderr, "graphkernel: bench:", err)
			return exitDatabaseError
		}
		printBenchResult(result)
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "graphkernel: unknown command %q\n", cmd)
		usage()
		return exitUsage
	}
}

func loadOptionsFile(path string, opts *kernel.Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read options file: %w", err)
	}
	var fo fileOptions
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return fmt.Errorf("parse options file: %w", err)
	}

	if fo.PageSize != 0 {
		opts.PageSize = uint32(fo.PageSize)
	}
	if fo.HotCompression != "" {
		opts.HotCompression.Codec = fo.HotCompression
	}
	if fo.ColdCompression != "" {
		opts.ColdCompression.Codec = fo.ColdCompression
	}
	if fo.MemTableMaxSize != 0 {
		opts.MemTableMaxSize = fo.MemTableMaxSize
	}
	if fo.MinCompactionScore != 0 {
		opts.MinCompactionScore = fo.MinCompactionScore
	}
	if fo.MaxPrimariesPerOrder != 0 {
		opts.MaxPrimariesPerOrder = fo.MaxPrimariesPerOrder
	}
	if fo.LockRetries != 0 {
		opts.LockRetries = fo.LockRetries
	}
	if fo.LogLevel != "" {
		opts.LogLevel = fo.LogLevel
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: graphkernel <check|repair|compact|autocompact|gc|stats|bench> <dbPath> [flags]")
	flag.PrintDefaults()
}
