package dispatch_test

import (
	"github.com/go-logr/logr/funcr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dyncom/dispatch"
	"github.com/sarchlab/dyncom/emu"
)

func newReadyState() *emu.State {
	s := emu.NewState()
	Expect(s.SelectProcessor(emu.FeatureV6)).To(Succeed())
	Expect(s.Reset()).To(Succeed())
	return s
}

var _ = Describe("BlockEngine", func() {
	var (
		s *emu.State
		e *dispatch.BlockEngine
	)

	BeforeEach(func() {
		s = newReadyState()
		s.Reg[emu.RegPC] = 0x1000
		e = dispatch.NewBlockEngine(
			dispatch.WithBlockLength(4),
			dispatch.WithCyclesPerInstruction(2),
			dispatch.WithTranslationPenalty(10),
			dispatch.WithLogger(GinkgoLogr),
		)
	})

	It("should do nothing with a zero budget", func() {
		Expect(e.Execute(s)).To(BeZero())
		Expect(s.Reg[emu.RegPC]).To(Equal(uint32(0x1000)))
	})

	It("should execute exactly one instruction when single-stepping", func() {
		s.NumInstrsToExecute = 1

		cycles := e.Execute(s)

		Expect(s.Reg[emu.RegPC]).To(Equal(uint32(0x1004)))
		Expect(e.InstructionCount()).To(Equal(uint64(1)))
		Expect(cycles).To(Equal(uint64(10 + 2)))
	})

	It("should run whole blocks past the budget", func() {
		s.NumInstrsToExecute = 5

		cycles := e.Execute(s)

		Expect(e.InstructionCount()).To(Equal(uint64(8)))
		Expect(e.BlockCount()).To(Equal(uint64(2)))
		Expect(s.NumInstrsToExecute).To(Equal(int64(-3)))
		Expect(s.Reg[emu.RegPC]).To(Equal(uint32(0x1020)))
		Expect(cycles).To(Equal(uint64(2*10 + 8*2)))
	})

	It("should skip the translation penalty on a cached block", func() {
		s.NumInstrsToExecute = 4
		first := e.Execute(s)

		s.Reg[emu.RegPC] = 0x1000
		s.NumInstrsToExecute = 4
		second := e.Execute(s)

		Expect(first).To(Equal(uint64(10 + 8)))
		Expect(second).To(Equal(uint64(8)))
		Expect(e.Cache().Stats().Hits).To(Equal(uint64(1)))
	})

	It("should charge the penalty for every block without a cache", func() {
		e = dispatch.NewBlockEngine(
			dispatch.WithBlockLength(4),
			dispatch.WithTranslationPenalty(10),
			dispatch.WithBlockCache(nil),
		)
		s.NumInstrsToExecute = 8

		Expect(e.Execute(s)).To(Equal(uint64(2*10 + 8)))
		Expect(e.Cache()).To(BeNil())
	})

	It("should advance by halfwords in Thumb state", func() {
		s.CPSR |= emu.FlagT
		s.NumInstrsToExecute = 4

		e.Execute(s)

		Expect(s.Reg[emu.RegPC]).To(Equal(uint32(0x1008)))
	})

	It("should stop at the next block boundary when the budget is zeroed", func() {
		calls := 0
		e = dispatch.NewBlockEngine(
			dispatch.WithBlockLength(4),
			dispatch.WithTracer(func(pc uint32) {
				calls++
				if calls == 2 {
					s.NumInstrsToExecute = 0
				}
			}),
		)
		s.NumInstrsToExecute = 100

		e.Execute(s)

		Expect(e.InstructionCount()).To(Equal(uint64(4)))
		Expect(s.Reg[emu.RegPC]).To(Equal(uint32(0x1010)))
	})

	It("should not run a stopped core", func() {
		s.Emulate = emu.Stop
		s.NumInstrsToExecute = 10

		Expect(e.Execute(s)).To(BeZero())
	})

	It("should report each dispatched address to the tracer", func() {
		var trace []uint32
		e = dispatch.NewBlockEngine(
			dispatch.WithBlockLength(2),
			dispatch.WithTracer(func(pc uint32) { trace = append(trace, pc) }),
		)
		s.NumInstrsToExecute = 3

		e.Execute(s)

		Expect(trace).To(Equal([]uint32{0x1000, 0x1004, 0x1008, 0x100C}))
	})

	It("should log dispatched blocks at step verbosity", func() {
		var lines []string
		log := funcr.New(func(prefix, args string) {
			lines = append(lines, args)
		}, funcr.Options{Verbosity: 1})
		e = dispatch.NewBlockEngine(dispatch.WithBlockLength(4), dispatch.WithLogger(log))
		s.NumInstrsToExecute = 4

		e.Execute(s)

		Expect(lines).To(HaveLen(1))
		Expect(lines[0]).To(ContainSubstring(`"msg"="dispatched block"`))
		Expect(lines[0]).To(ContainSubstring(`"length"=4`))
	})
})

var _ = Describe("EngineFunc", func() {
	It("should adapt a function", func() {
		var f dispatch.Engine = dispatch.EngineFunc(func(s *emu.State) uint64 {
			return uint64(s.NumInstrsToExecute)
		})
		s := emu.NewState()
		s.NumInstrsToExecute = 7
		Expect(f.Execute(s)).To(Equal(uint64(7)))
	})
})
