// Package main provides the entry point for dyncom.
// dyncom runs guest threads on emulated ARM11 cores that share one global
// timing facility.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/sarchlab/dyncom/config"
	"github.com/sarchlab/dyncom/loader"
	"github.com/sarchlab/dyncom/threadctx"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON or YAML)")
	cores       = flag.Int("cores", 0, "Number of cores (overrides config)")
	steps       = flag.Int("steps", -1, "Scheduling rounds, 0 runs until every thread exits (overrides config)")
	budget      = flag.Int("budget", 0, "Instruction budget per step (overrides config)")
	mode        = flag.String("mode", "", "Initial privilege mode (overrides config)")
	savePath    = flag.String("save", "", "Write a thread snapshot to this file after the run")
	restorePath = flag.String("restore", "", "Resume threads from a snapshot instead of creating them")
	verbosity   = flag.Int("v", 0, "Log verbosity")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dyncom [options] [program.elf]\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
		} else {
			fmt.Fprintln(os.Stderr, args)
		}
	}, funcr.Options{Verbosity: *verbosity})

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildConfig loads the configuration, applies flag overrides and adds the
// main thread of the program named on the command line.
func buildConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	if *cores > 0 {
		cfg.Cores = *cores
	}
	if *steps >= 0 {
		cfg.Scheduler.Steps = *steps
	}
	if *budget > 0 {
		cfg.Scheduler.Budget = *budget
	}
	if *mode != "" {
		cfg.InitialMode = *mode
	}

	if flag.NArg() > 0 {
		prog, err := loader.Load(flag.Arg(0))
		if err != nil {
			return nil, fmt.Errorf("loading program: %w", err)
		}
		if !prog.ExecutableAt(prog.EntryPoint) {
			return nil, fmt.Errorf("entry point 0x%08X is not in an executable segment", prog.EntryPoint)
		}
		cfg.Threads = append([]config.ThreadConfig{mainThread(cfg, prog)}, cfg.Threads...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// mainThread describes the thread that runs prog. A configured stack top
// overrides the loader's default.
func mainThread(cfg *config.Config, prog *loader.Program) config.ThreadConfig {
	stackTop := prog.InitialSP
	if cfg.StackTop != 0 {
		stackTop = cfg.StackTop
	}
	return config.ThreadConfig{
		Name:     "main",
		Entry:    prog.EntryPoint,
		StackTop: stackTop,
		Priority: 24,
		Thumb:    prog.Thumb,
	}
}

func run(ctx context.Context, cfg *config.Config, log logr.Logger) error {
	m, err := newMachine(cfg, log)
	if err != nil {
		return err
	}

	if *restorePath != "" {
		snap, err := readSnapshot(*restorePath)
		if err != nil {
			return err
		}
		if err := m.restore(snap); err != nil {
			return fmt.Errorf("restoring snapshot: %w", err)
		}
	} else if err := m.createThreads(cfg.Threads); err != nil {
		return err
	}

	runErr := m.run(ctx, cfg.Scheduler.Steps, cfg.Scheduler.Budget)
	m.report(os.Stdout)

	if *savePath != "" {
		if err := writeSnapshot(*savePath, m.snapshot()); err != nil {
			return err
		}
		log.Info("snapshot written", "path", *savePath)
	}
	return runErr
}

func readSnapshot(path string) (*threadctx.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	snap, err := threadctx.ReadSnapshot(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

func writeSnapshot(path string, snap *threadctx.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	if err := snap.Write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return f.Close()
}
