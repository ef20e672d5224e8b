// Package core provides the execution context of one emulated ARM11 core.
// It owns the architectural state, runs the dispatch engine against an
// instruction budget and reports consumed cycles to the global timing
// facility through a local down-counter.
package core

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/sarchlab/dyncom/dispatch"
	"github.com/sarchlab/dyncom/emu"
	"github.com/sarchlab/dyncom/threadctx"
	"github.com/sarchlab/dyncom/timing"
)

// DefaultStackTop is the stack pointer of a freshly constructed core.
const DefaultStackTop uint32 = 0x10000000

// Advancer is the part of the global timing facility a core talks to.
type Advancer interface {
	Advance()
}

type attacher interface {
	Attach(c timing.DownCounter)
}

// Stats holds execution statistics for the core.
type Stats struct {
	// Steps is the number of RunInstructions calls.
	Steps uint64
	// Cycles is the total number of cycles reported by the engine.
	Cycles uint64
	// Instructions is the budget actually consumed, overruns included.
	Instructions uint64
	// Advances is the number of times the down-counter underflowed.
	Advances uint64
	// Reschedules is the number of RequestReschedule calls.
	Reschedules uint64
}

// Core is the execution context of one emulated core.
type Core struct {
	state  *emu.State
	engine dispatch.Engine
	timing Advancer

	downCount int64

	stats Stats
	log   logr.Logger
}

// Option is a functional option for configuring the Core.
type Option func(*Core)

// WithEngine sets the dispatch engine.
func WithEngine(e dispatch.Engine) Option {
	return func(c *Core) {
		c.engine = e
	}
}

// WithTiming sets the global timing facility. If it accepts down-counters
// the core attaches itself and receives its first slice.
func WithTiming(t Advancer) Option {
	return func(c *Core) {
		c.timing = t
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Core) {
		c.log = l
	}
}

// WithDownCount sets the initial down-counter. It is overwritten if the
// timing facility issues a slice on attach.
func WithDownCount(n int64) Option {
	return func(c *Core) {
		c.downCount = n
	}
}

// New creates a core in the given privilege mode with the stack pointer at
// DefaultStackTop and the program counter at zero.
func New(mode emu.PrivilegeMode, opts ...Option) (*Core, error) {
	c := &Core{
		log: logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if !mode.Valid() {
		return nil, errors.Wrapf(emu.ErrCorruptState, "initial %v", mode)
	}

	s := emu.NewState()
	if err := s.SelectProcessor(emu.FeatureV6 | emu.FeatureV5 | emu.FeatureV5E); err != nil {
		return nil, err
	}
	s.AbortModel = emu.AbortBaseRestored
	s.CPU = emu.ARM11
	s.BigEndSig = emu.Low
	s.LateAbortSig = emu.Low
	s.NIRQSig = emu.High

	if err := s.Reset(); err != nil {
		return nil, err
	}
	if err := s.SwitchMode(mode); err != nil {
		return nil, err
	}
	s.Reg[emu.RegSP] = DefaultStackTop
	s.Reg[emu.RegPC] = 0
	c.state = s

	if c.engine == nil {
		c.engine = dispatch.NewBlockEngine(dispatch.WithLogger(c.log))
	}
	if c.timing == nil {
		c.timing = timing.New(timing.WithLogger(c.log))
	}
	if a, ok := c.timing.(attacher); ok {
		a.Attach(c)
	}

	c.log.V(1).Info("core ready", "mode", mode.String(), "downCount", c.downCount)
	return c, nil
}

// State returns the architectural state for debug tooling. Mutating it while
// a step is in progress is not supported.
func (c *Core) State() *emu.State {
	return c.state
}

// Mode returns the current privilege mode.
func (c *Core) Mode() emu.PrivilegeMode {
	return c.state.Mode()
}

// PC returns the program counter.
func (c *Core) PC() uint32 {
	return c.state.Reg[emu.RegPC]
}

// SetPC sets the program counter.
func (c *Core) SetPC(pc uint32) {
	c.state.Reg[emu.RegPC] = pc
}

// Register returns general-purpose register index.
func (c *Core) Register(index int) (uint32, error) {
	return c.state.ReadReg(index)
}

// SetRegister sets general-purpose register index.
func (c *Core) SetRegister(index int, value uint32) error {
	return c.state.WriteReg(index, value)
}

// ExtRegister returns extension register index.
func (c *Core) ExtRegister(index int) (uint32, error) {
	return c.state.ReadExtReg(index)
}

// SetExtRegister sets extension register index.
func (c *Core) SetExtRegister(index int, value uint32) error {
	return c.state.WriteExtReg(index, value)
}

// CPSR returns the status register as an opaque word.
func (c *Core) CPSR() uint32 {
	return c.state.CPSR
}

// SetCPSR sets the status register. The mode bits are not checked; no
// register banking takes place.
func (c *Core) SetCPSR(cpsr uint32) {
	c.state.CPSR = cpsr
}

// ControlRegister returns a CP15 register.
func (c *Core) ControlRegister(reg emu.CP15Register) (uint32, error) {
	return c.state.ReadCP15(reg)
}

// SetControlRegister sets a CP15 register.
func (c *Core) SetControlRegister(reg emu.CP15Register, value uint32) error {
	return c.state.WriteCP15(reg, value)
}

// DownCount returns the local cycle budget.
func (c *Core) DownCount() int64 {
	return c.downCount
}

// SetDownCount sets the local cycle budget.
func (c *Core) SetDownCount(n int64) {
	c.downCount = n
}

// AccountTicks consumes n cycles from the down-counter and advances global
// time when the counter crosses from non-negative to negative. A counter that
// is already negative does not advance again until it has been refilled.
func (c *Core) AccountTicks(n uint64) {
	prev := c.downCount
	c.downCount -= int64(n)
	if prev >= 0 && c.downCount < 0 {
		c.stats.Advances++
		c.timing.Advance()
	}
}

// RunInstructions executes roughly n instructions from the current program
// counter and accounts the cycles they took. The engine may overrun n when it
// dispatches whole blocks; n == 1 is an exact single step.
func (c *Core) RunInstructions(n int) {
	c.state.NumInstrsToExecute = int64(n)
	cycles := c.engine.Execute(c.state)

	executed := int64(n) - c.state.NumInstrsToExecute
	if executed > 0 {
		c.stats.Instructions += uint64(executed)
	}
	c.stats.Steps++
	c.stats.Cycles += cycles

	c.log.V(1).Info("step", "budget", n, "cycles", cycles, "pc", c.PC())
	c.AccountTicks(cycles)
}

// RequestReschedule drops the remaining instruction budget so the engine
// returns at its next dispatch boundary.
func (c *Core) RequestReschedule() {
	c.state.NumInstrsToExecute = 0
	c.stats.Reschedules++
}

// Stats returns execution statistics.
func (c *Core) Stats() Stats {
	return c.stats
}

// ResetStats clears execution statistics.
func (c *Core) ResetStats() {
	c.stats = Stats{}
}

// InitializeNewContext fills ctx for a thread starting at entryPoint. It
// does not read or modify the core.
func (c *Core) InitializeNewContext(ctx *threadctx.Context, stackTop, entryPoint, arg uint32) {
	*ctx = threadctx.New(stackTop, entryPoint, arg)
}

// CaptureContext copies the thread-visible registers into ctx.
func (c *Core) CaptureContext(ctx *threadctx.Context) {
	s := c.state

	ctx.CPURegisters = s.Reg
	ctx.FPURegisters = s.ExtReg

	ctx.SP = s.Reg[emu.RegSP]
	ctx.LR = s.Reg[emu.RegLR]
	ctx.PC = s.Reg[emu.RegPC]
	ctx.CPSR = s.CPSR

	ctx.FPSCR = s.VFP[emu.VFPSlotFPSCR]
	ctx.FPEXC = s.VFP[emu.VFPSlotFPEXC]
}

// RestoreContext loads ctx into the core. A record whose status word does not
// name a defined mode is rejected and the core is left unchanged.
func (c *Core) RestoreContext(ctx *threadctx.Context) error {
	if err := ctx.Validate(); err != nil {
		return err
	}

	s := c.state

	s.Reg = ctx.CPURegisters
	s.ExtReg = ctx.FPURegisters

	s.Reg[emu.RegSP] = ctx.SP
	s.Reg[emu.RegLR] = ctx.LR
	s.Reg[emu.RegPC] = ctx.PC
	s.CPSR = ctx.CPSR

	s.VFP[emu.VFPSlotFPSCR] = ctx.FPSCR
	s.VFP[emu.VFPSlotFPEXC] = ctx.FPEXC
	return nil
}
