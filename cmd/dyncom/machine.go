package main

import (
	"context"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/sarchlab/dyncom/config"
	"github.com/sarchlab/dyncom/core"
	"github.com/sarchlab/dyncom/dispatch"
	"github.com/sarchlab/dyncom/emu"
	"github.com/sarchlab/dyncom/kernel"
	"github.com/sarchlab/dyncom/threadctx"
	"github.com/sarchlab/dyncom/timing"
)

// machine is a set of cores sharing one timing facility, each with its own
// thread scheduler.
type machine struct {
	timing  *timing.Timing
	cores   []*core.Core
	engines []*dispatch.BlockEngine
	scheds  []*kernel.Scheduler
	log     logr.Logger

	stackTop uint32
}

func newMachine(cfg *config.Config, log logr.Logger) (*machine, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	m := &machine{
		timing: timing.New(
			timing.WithSliceLength(cfg.SliceLength),
			timing.WithClockRate(cfg.ClockRate),
			timing.WithLogger(log.WithName("timing")),
		),
		log:      log,
		stackTop: cfg.StackTop,
	}

	ids := &kernel.IDAllocator{}
	for i := 0; i < cfg.Cores; i++ {
		coreLog := log.WithName(fmt.Sprintf("core%d", i))

		var cache *dispatch.BlockCache
		if cfg.Engine.CacheSets > 0 {
			cache = dispatch.NewBlockCache(dispatch.CacheConfig{
				Sets: cfg.Engine.CacheSets,
				Ways: cfg.Engine.CacheWays,
			})
		}
		engine := dispatch.NewBlockEngine(
			dispatch.WithBlockLength(cfg.Engine.BlockLength),
			dispatch.WithCyclesPerInstruction(cfg.Engine.CyclesPerInstruction),
			dispatch.WithTranslationPenalty(cfg.Engine.TranslationPenalty),
			dispatch.WithBlockCache(cache),
			dispatch.WithLogger(coreLog),
		)

		c, err := core.New(mode,
			core.WithEngine(engine),
			core.WithTiming(m.timing),
			core.WithLogger(coreLog),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create core %d: %w", i, err)
		}
		if err := c.SetRegister(emu.RegSP, cfg.StackTop); err != nil {
			return nil, fmt.Errorf("failed to set stack of core %d: %w", i, err)
		}

		m.cores = append(m.cores, c)
		m.engines = append(m.engines, engine)
		m.scheds = append(m.scheds, kernel.New(c, m.timing,
			kernel.WithQuantum(cfg.Scheduler.Quantum),
			kernel.WithIDAllocator(ids),
			kernel.WithLogger(coreLog.WithName("kernel")),
		))
	}

	return m, nil
}

// createThreads spreads threads over the cores round-robin. A thread without
// a stack of its own gets the configured stack top.
func (m *machine) createThreads(threads []config.ThreadConfig) error {
	for i, t := range threads {
		sched := m.scheds[i%len(m.scheds)]
		stackTop := t.StackTop
		if stackTop == 0 {
			stackTop = m.stackTop
		}
		th, err := sched.CreateThread(t.Name, t.Entry, stackTop, t.Arg, t.Priority)
		if err != nil {
			return fmt.Errorf("failed to create thread %q: %w", t.Name, err)
		}
		if t.Thumb {
			th.Context.CPSR |= emu.FlagT
		}
	}
	return nil
}

// run interleaves one scheduling step per core until steps rounds have run
// or no core has anything left to do.
func (m *machine) run(ctx context.Context, steps, budget int) error {
	for i := 0; steps <= 0 || i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		alive := false
		for n, sched := range m.scheds {
			ok, err := sched.Step(budget)
			if err != nil {
				return fmt.Errorf("core %d: %w", n, err)
			}
			alive = alive || ok
		}
		if !alive {
			return nil
		}
	}
	return nil
}

// snapshot captures the threads of every core.
func (m *machine) snapshot() *threadctx.Snapshot {
	snap := threadctx.NewSnapshot(m.timing.Ticks())
	for _, sched := range m.scheds {
		snap.Threads = append(snap.Threads, sched.Snapshot().Threads...)
	}
	return snap
}

// restore spreads the threads of snap over the cores round-robin.
func (m *machine) restore(snap *threadctx.Snapshot) error {
	parts := make([]*threadctx.Snapshot, len(m.scheds))
	for i := range parts {
		parts[i] = &threadctx.Snapshot{ID: snap.ID, Version: snap.Version, Ticks: snap.Ticks}
	}
	for i, rec := range snap.Threads {
		p := parts[i%len(parts)]
		p.Threads = append(p.Threads, rec)
	}

	for i, sched := range m.scheds {
		if err := sched.Restore(parts[i]); err != nil {
			return fmt.Errorf("core %d: %w", i, err)
		}
	}
	return nil
}

func (m *machine) report(w io.Writer) {
	ticks := m.timing.Ticks()
	fmt.Fprintf(w, "Global ticks: %d (%v emulated)\n", ticks, m.timing.Duration(ticks))
	fmt.Fprintf(w, "Idled cycles: %d\n", m.timing.IdledCycles())

	for i, c := range m.cores {
		stats := c.Stats()
		fmt.Fprintf(w, "\nCore %d\n", i)
		fmt.Fprintf(w, "  Steps:        %d\n", stats.Steps)
		fmt.Fprintf(w, "  Instructions: %d\n", stats.Instructions)
		fmt.Fprintf(w, "  Cycles:       %d\n", stats.Cycles)
		fmt.Fprintf(w, "  Advances:     %d\n", stats.Advances)
		fmt.Fprintf(w, "  Reschedules:  %d\n", stats.Reschedules)
		fmt.Fprintf(w, "  Switches:     %d\n", m.scheds[i].Switches())

		if cache := m.engines[i].Cache(); cache != nil {
			cs := cache.Stats()
			hitRate := 0.0
			if cs.Lookups > 0 {
				hitRate = float64(cs.Hits) / float64(cs.Lookups) * 100
			}
			fmt.Fprintf(w, "  Block cache:  %d lookups, %.1f%% hits, %d evictions\n",
				cs.Lookups, hitRate, cs.Evictions)
		}

		for _, th := range m.scheds[i].Threads() {
			fmt.Fprintf(w, "  Thread %d %-12q %-8v pc=0x%08X\n",
				th.ID, th.Name, th.Status, th.Context.PC)
		}
	}
}
