package dispatch

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/dyncom/emu"
)

// Tracer observes each dispatched instruction address.
type Tracer func(pc uint32)

// BlockEngine is a reference engine that dispatches opaque fixed-width
// instructions in translated blocks. It models the timing contract of a
// block-dispatching interpreter without any instruction semantics: the budget
// is checked only before a block, so a whole block runs even when it
// overshoots the budget, unless the step began with a budget of one.
type BlockEngine struct {
	blockLength          int
	cyclesPerInstruction uint64
	translationPenalty   uint64

	cache  *BlockCache
	tracer Tracer
	log    logr.Logger

	// Execution state
	instructionCount uint64
	blockCount       uint64
}

// BlockEngineOption is a functional option for configuring the BlockEngine.
type BlockEngineOption func(*BlockEngine)

// WithBlockLength sets the number of instructions per translated block.
// Values below one are ignored.
func WithBlockLength(n int) BlockEngineOption {
	return func(e *BlockEngine) {
		if n > 0 {
			e.blockLength = n
		}
	}
}

// WithCyclesPerInstruction sets the cycle cost of one instruction.
func WithCyclesPerInstruction(cycles uint64) BlockEngineOption {
	return func(e *BlockEngine) {
		e.cyclesPerInstruction = cycles
	}
}

// WithTranslationPenalty sets the extra cycles charged when a block has to
// be translated because it missed the block cache.
func WithTranslationPenalty(cycles uint64) BlockEngineOption {
	return func(e *BlockEngine) {
		e.translationPenalty = cycles
	}
}

// WithBlockCache sets the translated-block cache. A nil cache disables
// translation caching and every block is charged the translation penalty.
func WithBlockCache(cache *BlockCache) BlockEngineOption {
	return func(e *BlockEngine) {
		e.cache = cache
	}
}

// WithTracer sets a per-instruction observer.
func WithTracer(t Tracer) BlockEngineOption {
	return func(e *BlockEngine) {
		e.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) BlockEngineOption {
	return func(e *BlockEngine) {
		e.log = l
	}
}

// NewBlockEngine creates a block engine with 8-instruction blocks, one cycle
// per instruction and a default block cache.
func NewBlockEngine(opts ...BlockEngineOption) *BlockEngine {
	e := &BlockEngine{
		blockLength:          8,
		cyclesPerInstruction: 1,
		cache:                NewBlockCache(DefaultCacheConfig()),
		log:                  logr.Discard(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// InstructionCount returns the number of instructions executed.
func (e *BlockEngine) InstructionCount() uint64 {
	return e.instructionCount
}

// BlockCount returns the number of blocks dispatched.
func (e *BlockEngine) BlockCount() uint64 {
	return e.blockCount
}

// Cache returns the translated-block cache, or nil.
func (e *BlockEngine) Cache() *BlockCache {
	return e.cache
}

// Execute dispatches blocks until the budget is exhausted or the core stops.
func (e *BlockEngine) Execute(s *emu.State) uint64 {
	singleStep := s.NumInstrsToExecute == 1

	var cycles uint64
	for s.NumInstrsToExecute > 0 && s.Emulate == emu.Run {
		pc := s.Reg[emu.RegPC]

		length, penalty := e.translate(pc)
		if singleStep {
			length = 1
		}
		cycles += penalty

		width := uint32(4)
		if s.Thumb() {
			width = 2
		}

		for i := 0; i < length; i++ {
			if e.tracer != nil {
				e.tracer(s.Reg[emu.RegPC])
			}
			s.Reg[emu.RegPC] += width
			s.NumInstrsToExecute--
			e.instructionCount++
			cycles += e.cyclesPerInstruction
		}

		e.blockCount++
		e.log.V(1).Info("dispatched block", "pc", pc, "length", length,
			"budget", s.NumInstrsToExecute)
	}

	return cycles
}

// translate returns the length of the block starting at pc and the cycles
// spent translating it.
func (e *BlockEngine) translate(pc uint32) (int, uint64) {
	if e.cache == nil {
		return e.blockLength, e.translationPenalty
	}

	if length, ok := e.cache.Lookup(pc); ok {
		return length, 0
	}

	if e.cache.Insert(pc, e.blockLength) {
		e.log.V(1).Info("evicted translated block", "pc", pc)
	}
	return e.blockLength, e.translationPenalty
}
