package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pkg/errors"

	"github.com/sarchlab/dyncom/emu"
)

var _ = Describe("State", func() {
	var s *emu.State

	BeforeEach(func() {
		s = emu.NewState()
	})

	Describe("boot sequence", func() {
		It("should refuse reset before processor selection", func() {
			err := s.Reset()
			Expect(errors.Is(err, emu.ErrCorruptState)).To(BeTrue())
		})

		It("should refuse a second processor selection", func() {
			Expect(s.SelectProcessor(emu.FeatureV6)).To(Succeed())
			err := s.SelectProcessor(emu.FeatureV6)
			Expect(errors.Is(err, emu.ErrCorruptState)).To(BeTrue())
		})

		It("should refuse a mode switch before reset", func() {
			Expect(s.SelectProcessor(emu.FeatureV6)).To(Succeed())
			err := s.SwitchMode(emu.ModeUser)
			Expect(errors.Is(err, emu.ErrCorruptState)).To(BeTrue())
		})

		It("should imply older architecture features from ARMv6", func() {
			Expect(s.SelectProcessor(emu.FeatureV6)).To(Succeed())
			Expect(s.Features.Has(emu.FeatureV5 | emu.FeatureV5E | emu.FeatureV4 | emu.FeatureVFP)).To(BeTrue())
		})
	})

	Describe("Reset", func() {
		BeforeEach(func() {
			Expect(s.SelectProcessor(emu.FeatureV6)).To(Succeed())
			s.Reg[3] = 99
		})

		It("should enter Supervisor mode with interrupts masked", func() {
			Expect(s.Reset()).To(Succeed())
			Expect(s.CPSR).To(Equal(uint32(0xD3)))
			Expect(s.Mode()).To(Equal(emu.ModeSupervisor))
			Expect(s.Emulate).To(Equal(emu.Run))
		})

		It("should clear general registers", func() {
			Expect(s.Reset()).To(Succeed())
			Expect(s.Reg).To(Equal([emu.NumRegisters]uint32{}))
		})

		It("should seed CP15 and VFP identification registers", func() {
			Expect(s.Reset()).To(Succeed())
			Expect(s.CP15[emu.CP15MainID]).To(Equal(uint32(0x410FB024)))
			Expect(s.CP15[emu.CP15CacheType]).To(BeZero())
			Expect(s.VFP[emu.VFPSlotFPSID]).To(Equal(uint32(0x410120B4)))
			Expect(s.VFP[emu.VFPSlotFPEXC]).To(Equal(uint32(0x40000000)))
		})

		It("should take the main id from the processor configuration", func() {
			s.CPU.MainID = 0x410FB026
			Expect(s.Reset()).To(Succeed())
			Expect(s.CP15[emu.CP15MainID]).To(Equal(uint32(0x410FB026)))
		})

		It("should reject a main id of another processor", func() {
			s.CPU.MainID = 0x410FC075
			err := s.Reset()
			Expect(errors.Is(err, emu.ErrCorruptState)).To(BeTrue())
		})

		It("should honour the big-endian signal", func() {
			s.BigEndSig = emu.High
			Expect(s.Reset()).To(Succeed())
			Expect(s.CPSR & emu.FlagE).NotTo(BeZero())
			Expect(s.CP15[emu.CP15Control] & (1 << 7)).NotTo(BeZero())
		})

		It("should report a cache type descriptor for cached configurations", func() {
			s.CPU.CacheType = emu.DataCache
			Expect(s.Reset()).To(Succeed())
			Expect(s.CP15[emu.CP15CacheType]).NotTo(BeZero())
		})
	})

	Describe("SwitchMode", func() {
		BeforeEach(func() {
			Expect(s.SelectProcessor(emu.FeatureV6)).To(Succeed())
			Expect(s.Reset()).To(Succeed())
		})

		It("should keep flag bits and replace mode bits", func() {
			s.CPSR |= emu.FlagZ
			Expect(s.SwitchMode(emu.ModeUser)).To(Succeed())
			Expect(s.CPSR).To(Equal(emu.FlagZ | emu.FlagI | emu.FlagF | uint32(emu.ModeUser)))
		})

		It("should bank SP and LR per mode", func() {
			s.Reg[emu.RegSP] = 0x1000
			s.Reg[emu.RegLR] = 0x2000
			Expect(s.SwitchMode(emu.ModeIRQ)).To(Succeed())
			Expect(s.Reg[emu.RegSP]).To(BeZero())
			s.Reg[emu.RegSP] = 0x3000

			Expect(s.SwitchMode(emu.ModeSupervisor)).To(Succeed())
			Expect(s.Reg[emu.RegSP]).To(Equal(uint32(0x1000)))
			Expect(s.Reg[emu.RegLR]).To(Equal(uint32(0x2000)))
			Expect(s.BankedSP(emu.ModeIRQ)).To(Equal(uint32(0x3000)))
		})

		It("should share the User bank with System mode", func() {
			Expect(s.SwitchMode(emu.ModeUser)).To(Succeed())
			s.Reg[emu.RegSP] = 0x4000
			Expect(s.SwitchMode(emu.ModeSystem)).To(Succeed())
			Expect(s.Reg[emu.RegSP]).To(Equal(uint32(0x4000)))
		})

		It("should bank R8-R12 only for FIQ", func() {
			s.Reg[8] = 8
			s.Reg[12] = 12
			Expect(s.SwitchMode(emu.ModeFIQ)).To(Succeed())
			Expect(s.Reg[8]).To(BeZero())
			s.Reg[8] = 0x88

			Expect(s.SwitchMode(emu.ModeIRQ)).To(Succeed())
			Expect(s.Reg[8]).To(Equal(uint32(8)))
			Expect(s.Reg[12]).To(Equal(uint32(12)))

			Expect(s.SwitchMode(emu.ModeFIQ)).To(Succeed())
			Expect(s.Reg[8]).To(Equal(uint32(0x88)))
		})

		It("should keep SPSR per mode", func() {
			s.SPSR = 0x10
			Expect(s.SwitchMode(emu.ModeAbort)).To(Succeed())
			Expect(s.SPSR).To(BeZero())
			Expect(s.SwitchMode(emu.ModeSupervisor)).To(Succeed())
			Expect(s.SPSR).To(Equal(uint32(0x10)))
		})

		It("should reject undefined modes and leave the CPSR valid", func() {
			err := s.SwitchMode(emu.PrivilegeMode(0x15))
			Expect(errors.Is(err, emu.ErrCorruptState)).To(BeTrue())
			Expect(s.Mode().Valid()).To(BeTrue())
		})
	})
})
