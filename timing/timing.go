// Package timing provides the global timing facility shared by every
// emulated core. Cores run against a local down-counter; when it underflows
// they call Advance, which folds the executed slice into global time, fires
// due events and hands out a new slice.
package timing

import (
	"container/heap"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// DefaultClockRate is the ARM11 core clock in Hz.
const DefaultClockRate uint64 = 268111856

// DefaultSliceLength is the number of cycles a core may run before it has to
// report back.
const DefaultSliceLength int64 = 20000

// DownCounter is a per-core cycle budget owned by an execution context.
type DownCounter interface {
	DownCount() int64
	SetDownCount(n int64)
}

// EventType identifies a registered event callback.
type EventType int

// Callback is invoked when a scheduled event becomes due. cyclesLate is how
// far global time has moved past the requested time.
type Callback func(userdata uint64, cyclesLate int64)

type eventKind struct {
	name     string
	callback Callback
}

type attached struct {
	counter DownCounter
	slice   int64
	start   uint64
}

// Timing is the global timing facility. It is safe for use by several
// execution contexts; callbacks run without the lock held so they may
// schedule further events.
type Timing struct {
	mu sync.Mutex

	sliceLength int64
	clockRate   uint64
	log         logr.Logger

	globalTicks uint64
	idledCycles uint64
	advances    uint64

	counters []*attached
	kinds    []eventKind
	events   eventQueue
	seq      uint64
}

// Option is a functional option for configuring Timing.
type Option func(*Timing)

// WithSliceLength sets the slice length in cycles. Non-positive values are
// ignored.
func WithSliceLength(cycles int64) Option {
	return func(t *Timing) {
		if cycles > 0 {
			t.sliceLength = cycles
		}
	}
}

// WithClockRate sets the clock rate in Hz used by Duration. Zero is ignored.
func WithClockRate(hz uint64) Option {
	return func(t *Timing) {
		if hz > 0 {
			t.clockRate = hz
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(t *Timing) {
		t.log = l
	}
}

// New creates a timing facility at global tick zero.
func New(opts ...Option) *Timing {
	t := &Timing{
		sliceLength: DefaultSliceLength,
		clockRate:   DefaultClockRate,
		log:         logr.Discard(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// SliceLength returns the configured slice length.
func (t *Timing) SliceLength() int64 {
	return t.sliceLength
}

// Attach registers a down-counter and issues it its first slice.
func (t *Timing) Attach(c DownCounter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range t.counters {
		if a.counter == c {
			return
		}
	}

	a := &attached{counter: c}
	t.counters = append(t.counters, a)
	t.refill(a)
}

// Ticks returns the global cycle count.
func (t *Timing) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalTicks
}

// Advances returns how many times Advance reconciled an underflowed counter.
func (t *Timing) Advances() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advances
}

// IdledCycles returns the cycles skipped through Idle.
func (t *Timing) IdledCycles() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idledCycles
}

// Duration converts a cycle count into emulated wall time.
func (t *Timing) Duration(ticks uint64) time.Duration {
	sec := ticks / t.clockRate
	rem := ticks % t.clockRate
	return time.Duration(sec)*time.Second +
		time.Duration(rem*uint64(time.Second)/t.clockRate)
}

// Advance reconciles every exhausted down-counter with global time. Each
// slice ends at the global time it was issued plus the cycles run against
// it; global time moves to the latest such end, so cores running in parallel
// are not counted twice. Due events then fire in time order and each
// exhausted counter receives a new slice. Counters with budget left are left
// alone.
func (t *Timing) Advance() {
	t.mu.Lock()

	target := t.globalTicks
	var underflowed []*attached
	for _, a := range t.counters {
		dc := a.counter.DownCount()
		if dc > 0 {
			continue
		}
		underflowed = append(underflowed, a)
		if end := a.start + uint64(a.slice-dc); end > target {
			target = end
		}
	}
	executed := target - t.globalTicks

	if len(underflowed) > 0 {
		t.advances++
	}
	t.globalTicks = target

	var due []*event
	for len(t.events) > 0 && t.events[0].when <= t.globalTicks {
		due = append(due, heap.Pop(&t.events).(*event))
	}
	kinds := t.kinds
	now := t.globalTicks

	t.mu.Unlock()

	for _, ev := range due {
		k := kinds[ev.kind]
		t.log.V(1).Info("event", "name", k.name, "userdata", ev.userdata,
			"late", int64(now-ev.when))
		k.callback(ev.userdata, int64(now-ev.when))
	}

	t.mu.Lock()
	for _, a := range underflowed {
		t.refill(a)
	}
	t.mu.Unlock()

	if executed > 0 {
		t.log.V(1).Info("advance", "executed", executed, "ticks", now,
			"events", len(due))
	}
}

// Idle burns the rest of c's slice, as a core waiting for an interrupt
// would. Other counters keep their budget. A following Advance moves global
// time to the end of the idled slice.
func (t *Timing) Idle(c DownCounter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range t.counters {
		if a.counter != c {
			continue
		}
		if dc := c.DownCount(); dc > 0 {
			t.idledCycles += uint64(dc)
			c.SetDownCount(0)
		}
		return
	}
}

// RegisterEvent adds an event kind and returns its type.
func (t *Timing) RegisterEvent(name string, cb Callback) EventType {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.kinds = append(t.kinds, eventKind{name: name, callback: cb})
	return EventType(len(t.kinds) - 1)
}

// ScheduleEvent fires an event of type et cyclesIntoFuture cycles from the
// current global time. Attached counters whose slice would run past the event
// have their slice shortened so the event is not overshot.
func (t *Timing) ScheduleEvent(cyclesIntoFuture int64, et EventType, userdata uint64) {
	if cyclesIntoFuture < 0 {
		cyclesIntoFuture = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if int(et) < 0 || int(et) >= len(t.kinds) {
		t.log.Error(nil, "schedule of unregistered event", "type", int(et))
		return
	}

	t.seq++
	heap.Push(&t.events, &event{
		when:     t.globalTicks + uint64(cyclesIntoFuture),
		kind:     et,
		userdata: userdata,
		seq:      t.seq,
	})

	for _, a := range t.counters {
		dc := a.counter.DownCount()
		if dc > cyclesIntoFuture {
			a.slice -= dc - cyclesIntoFuture
			a.counter.SetDownCount(cyclesIntoFuture)
		}
	}
}

// UnscheduleEvent removes every pending event of type et carrying userdata.
func (t *Timing) UnscheduleEvent(et EventType, userdata uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.events[:0]
	for _, ev := range t.events {
		if ev.kind != et || ev.userdata != userdata {
			kept = append(kept, ev)
		}
	}
	t.events = kept
	heap.Init(&t.events)
}

// PendingEvents returns the number of scheduled events.
func (t *Timing) PendingEvents() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// refill issues a new slice, cut short at the next pending event.
// Callers hold t.mu.
func (t *Timing) refill(a *attached) {
	slice := t.sliceLength
	if len(t.events) > 0 && t.events[0].when >= t.globalTicks {
		if until := int64(t.events[0].when - t.globalTicks); until < slice {
			slice = until
		}
	}
	a.slice = slice
	a.start = t.globalTicks
	a.counter.SetDownCount(slice)
}
