package kernel

import (
	"fmt"

	"github.com/sarchlab/dyncom/threadctx"
)

// Priority bounds. Lower values run first.
const (
	HighestPriority uint32 = 0
	LowestPriority  uint32 = 63
)

// ThreadStatus is the scheduling state of a guest thread.
type ThreadStatus uint32

// Thread states.
const (
	Ready ThreadStatus = iota
	Running
	Waiting
	Dead
)

var statusNames = [...]string{"ready", "running", "waiting", "dead"}

func (s ThreadStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// Thread is a guest thread and its saved CPU context.
type Thread struct {
	ID       uint32
	Name     string
	Priority uint32
	Status   ThreadStatus

	EntryPoint uint32
	StackTop   uint32
	Arg        uint32

	// Context holds the registers while the thread is not running.
	Context threadctx.Context
}

// IDAllocator hands out thread ids. Schedulers that share one never reuse
// each other's ids. It is not safe for concurrent use.
type IDAllocator struct {
	last uint32
}

// Next returns a fresh id.
func (a *IDAllocator) Next() uint32 {
	a.last++
	return a.last
}

// Reserve makes sure ids up to id are never handed out.
func (a *IDAllocator) Reserve(id uint32) {
	if id > a.last {
		a.last = id
	}
}
