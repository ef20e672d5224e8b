// Package kernel schedules guest threads onto an execution context. Threads
// are picked by priority and round-robin within a priority; a timing event
// preempts the running thread at the end of every quantum.
package kernel

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/sarchlab/dyncom/core"
	"github.com/sarchlab/dyncom/emu"
	"github.com/sarchlab/dyncom/threadctx"
	"github.com/sarchlab/dyncom/timing"
)

// DefaultQuantum is the preemption interval in cycles.
const DefaultQuantum int64 = 10000

// ErrNoSuchThread is returned for an unknown thread id.
var ErrNoSuchThread = errors.New("no such thread")

// Scheduler runs guest threads on one core.
type Scheduler struct {
	core   *core.Core
	timing *timing.Timing

	quantum int64
	preempt timing.EventType
	wakeup  timing.EventType

	threads []*Thread
	current *Thread
	ids     *IDAllocator

	pending  bool
	switches uint64

	log logr.Logger
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithQuantum sets the preemption interval in cycles. Non-positive values
// are ignored.
func WithQuantum(cycles int64) Option {
	return func(s *Scheduler) {
		if cycles > 0 {
			s.quantum = cycles
		}
	}
}

// WithIDAllocator shares a thread id space with other schedulers.
func WithIDAllocator(a *IDAllocator) Option {
	return func(s *Scheduler) {
		if a != nil {
			s.ids = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// New creates a scheduler for c. t must be the timing facility c reports to.
func New(c *core.Core, t *timing.Timing, opts ...Option) *Scheduler {
	s := &Scheduler{
		core:    c,
		timing:  t,
		quantum: DefaultQuantum,
		ids:     &IDAllocator{},
		log:     logr.Discard(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.preempt = t.RegisterEvent("preempt", s.onPreempt)
	s.wakeup = t.RegisterEvent("wakeup", s.onWakeup)
	t.ScheduleEvent(s.quantum, s.preempt, 0)

	return s
}

func (s *Scheduler) onPreempt(_ uint64, cyclesLate int64) {
	s.pending = true
	s.core.RequestReschedule()
	s.timing.ScheduleEvent(s.quantum-cyclesLate, s.preempt, 0)
}

func (s *Scheduler) onWakeup(id uint64, _ int64) {
	th := s.find(uint32(id))
	if th == nil || th.Status != Waiting {
		return
	}
	th.Status = Ready
	s.pending = true
	s.log.V(1).Info("wakeup", "thread", th.ID)
}

// CreateThread adds a ready thread that starts at entryPoint with arg in R0.
func (s *Scheduler) CreateThread(name string, entryPoint, stackTop, arg, priority uint32) (*Thread, error) {
	if priority > LowestPriority {
		return nil, errors.Wrapf(emu.ErrOutOfRange, "thread priority %d", priority)
	}

	th := &Thread{
		ID:         s.ids.Next(),
		Name:       name,
		Priority:   priority,
		Status:     Ready,
		EntryPoint: entryPoint,
		StackTop:   stackTop,
		Arg:        arg,
	}
	s.core.InitializeNewContext(&th.Context, stackTop, entryPoint, arg)
	s.threads = append(s.threads, th)

	if s.current != nil && priority < s.current.Priority {
		s.pending = true
	}

	s.log.Info("thread created", "thread", th.ID, "name", name,
		"entry", entryPoint, "priority", priority)
	return th, nil
}

// ExitThread marks a thread dead. If it is running, the core is asked to
// return so another thread can be picked.
func (s *Scheduler) ExitThread(id uint32) error {
	th := s.find(id)
	if th == nil {
		return errors.Wrapf(ErrNoSuchThread, "exit thread %d", id)
	}

	th.Status = Dead
	s.timing.UnscheduleEvent(s.wakeup, uint64(id))
	if th == s.current {
		s.requestSwitch()
	}

	s.log.Info("thread exited", "thread", id)
	return nil
}

// Sleep suspends a thread for the given number of cycles.
func (s *Scheduler) Sleep(id uint32, cycles int64) error {
	th := s.find(id)
	if th == nil || th.Status == Dead {
		return errors.Wrapf(ErrNoSuchThread, "sleep thread %d", id)
	}

	th.Status = Waiting
	s.timing.ScheduleEvent(cycles, s.wakeup, uint64(id))
	if th == s.current {
		s.requestSwitch()
	}
	return nil
}

// Yield gives up the rest of the running thread's step.
func (s *Scheduler) Yield() {
	if s.current != nil {
		s.requestSwitch()
	}
}

func (s *Scheduler) requestSwitch() {
	s.pending = true
	s.core.RequestReschedule()
}

// Reschedule saves the running thread and loads the best ready thread. With
// nothing ready the core is left without a current thread.
func (s *Scheduler) Reschedule() error {
	prev := s.current
	if prev != nil {
		s.core.CaptureContext(&prev.Context)
		if prev.Status == Running {
			prev.Status = Ready
		}
	}

	s.pending = false
	next := s.pick(prev)
	s.current = nil
	if next == nil {
		return nil
	}

	if err := s.core.RestoreContext(&next.Context); err != nil {
		next.Status = Dead
		return errors.Wrapf(err, "resuming thread %d", next.ID)
	}
	next.Status = Running
	s.current = next

	if next != prev {
		s.switches++
		s.log.V(1).Info("switch", "thread", next.ID, "pc", next.Context.PC)
	}
	return nil
}

// pick returns the ready thread with the best priority, starting the search
// after prev so equal priorities take turns.
func (s *Scheduler) pick(prev *Thread) *Thread {
	n := len(s.threads)
	start := 0
	for i, th := range s.threads {
		if th == prev {
			start = i + 1
			break
		}
	}

	var best *Thread
	for i := 0; i < n; i++ {
		th := s.threads[(start+i)%n]
		if th.Status != Ready {
			continue
		}
		if best == nil || th.Priority < best.Priority {
			best = th
		}
	}
	return best
}

// Step runs the current thread for one budget of instructions, switching
// threads first if one is due. With nothing ready but threads waiting the
// core idles through its slice; a thread woken by that idle runs in the same
// step. It reports false once no thread can ever run again. A thread whose
// engine stops the core is treated as exited.
func (s *Scheduler) Step(budget int) (bool, error) {
	if s.current == nil || s.pending || s.current.Status != Running {
		if err := s.Reschedule(); err != nil {
			return false, err
		}
	}

	if s.current == nil {
		if !s.anyWaiting() {
			return false, nil
		}
		s.timing.Idle(s.core)
		s.timing.Advance()
		if !s.pending {
			return true, nil
		}
		if err := s.Reschedule(); err != nil {
			return false, err
		}
		if s.current == nil {
			return true, nil
		}
	}

	s.core.RunInstructions(budget)

	if st := s.core.State(); st.Emulate == emu.Stop {
		st.Emulate = emu.Run
		if err := s.ExitThread(s.current.ID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Run calls Step up to steps times. A non-positive steps runs until every
// thread is dead or ctx is done.
func (s *Scheduler) Run(ctx context.Context, steps int, budget int) error {
	for i := 0; steps <= 0 || i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		alive, err := s.Step(budget)
		if err != nil {
			return err
		}
		if !alive {
			s.log.Info("no runnable threads", "ticks", s.timing.Ticks())
			return nil
		}
	}
	return nil
}

// Done reports whether every thread has exited.
func (s *Scheduler) Done() bool {
	for _, th := range s.threads {
		if th.Status != Dead {
			return false
		}
	}
	return true
}

func (s *Scheduler) anyWaiting() bool {
	for _, th := range s.threads {
		if th.Status == Waiting {
			return true
		}
	}
	return false
}

func (s *Scheduler) find(id uint32) *Thread {
	for _, th := range s.threads {
		if th.ID == id {
			return th
		}
	}
	return nil
}

// Thread returns the thread with the given id.
func (s *Scheduler) Thread(id uint32) (*Thread, bool) {
	th := s.find(id)
	return th, th != nil
}

// Threads returns every thread in creation order.
func (s *Scheduler) Threads() []*Thread {
	out := make([]*Thread, len(s.threads))
	copy(out, s.threads)
	return out
}

// Current returns the running thread, or nil.
func (s *Scheduler) Current() *Thread {
	return s.current
}

// Switches returns the number of context switches.
func (s *Scheduler) Switches() uint64 {
	return s.switches
}

// Snapshot captures every live thread.
func (s *Scheduler) Snapshot() *threadctx.Snapshot {
	if s.current != nil {
		s.core.CaptureContext(&s.current.Context)
	}

	snap := threadctx.NewSnapshot(s.timing.Ticks())
	for _, th := range s.threads {
		if th.Status == Dead {
			continue
		}
		snap.Threads = append(snap.Threads, threadctx.ThreadRecord{
			ID:       th.ID,
			Priority: th.Priority,
			Status:   uint32(th.Status),
			Name:     th.Name,
			Context:  th.Context,
		})
	}
	return snap
}

// Restore replaces every thread with those in snap. Running and waiting
// threads come back ready; pending wakeups are not carried over.
func (s *Scheduler) Restore(snap *threadctx.Snapshot) error {
	threads := make([]*Thread, 0, len(snap.Threads))
	seen := make(map[uint32]bool, len(snap.Threads))
	var maxID uint32
	for i := range snap.Threads {
		rec := &snap.Threads[i]
		if seen[rec.ID] {
			return errors.Wrapf(emu.ErrCorruptState, "duplicate thread id %d", rec.ID)
		}
		seen[rec.ID] = true
		if rec.Priority > LowestPriority {
			return errors.Wrapf(emu.ErrOutOfRange, "thread %d priority %d", rec.ID, rec.Priority)
		}
		if ThreadStatus(rec.Status) > Dead {
			return errors.Wrapf(emu.ErrCorruptState, "thread %d %v", rec.ID, ThreadStatus(rec.Status))
		}
		if err := rec.Context.Validate(); err != nil {
			return errors.Wrapf(err, "thread %d", rec.ID)
		}

		status := Ready
		if ThreadStatus(rec.Status) == Dead {
			status = Dead
		}
		threads = append(threads, &Thread{
			ID:         rec.ID,
			Name:       rec.Name,
			Priority:   rec.Priority,
			Status:     status,
			EntryPoint: rec.Context.PC,
			StackTop:   rec.Context.SP,
			Arg:        rec.Context.CPURegisters[0],
			Context:    rec.Context,
		})
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}

	for _, th := range s.threads {
		s.timing.UnscheduleEvent(s.wakeup, uint64(th.ID))
	}
	s.threads = threads
	s.current = nil
	s.pending = true
	s.ids.Reserve(maxID)

	s.log.Info("threads restored", "snapshot", snap.ID.String(), "threads", len(threads))
	return nil
}
