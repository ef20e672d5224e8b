package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pkg/errors"

	"github.com/sarchlab/dyncom/emu"
)

var _ = Describe("PrivilegeMode", func() {
	DescribeTable("valid modes",
		func(mode emu.PrivilegeMode, name string, spsr bool) {
			Expect(mode.Valid()).To(BeTrue())
			Expect(mode.String()).To(Equal(name))
			Expect(mode.HasSPSR()).To(Equal(spsr))
		},
		Entry("user", emu.ModeUser, "user", false),
		Entry("fiq", emu.ModeFIQ, "fiq", true),
		Entry("irq", emu.ModeIRQ, "irq", true),
		Entry("supervisor", emu.ModeSupervisor, "supervisor", true),
		Entry("abort", emu.ModeAbort, "abort", true),
		Entry("undefined", emu.ModeUndefined, "undefined", true),
		Entry("system", emu.ModeSystem, "system", false),
	)

	It("should reject undefined encodings", func() {
		Expect(emu.PrivilegeMode(0x00).Valid()).To(BeFalse())
		Expect(emu.PrivilegeMode(0x14).Valid()).To(BeFalse())
		Expect(emu.PrivilegeMode(0x14).String()).To(Equal("mode(0x14)"))
	})

	It("should extract the mode from a full CPSR", func() {
		Expect(emu.ModeOf(0x600000D3)).To(Equal(emu.ModeSupervisor))
	})

	Describe("ParseMode", func() {
		It("should accept long and short names", func() {
			m, err := emu.ParseMode("SVC")
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(Equal(emu.ModeSupervisor))

			m, err = emu.ParseMode(" user ")
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(Equal(emu.ModeUser))
		})

		It("should fail on unknown names", func() {
			_, err := emu.ParseMode("hyp")
			Expect(errors.Is(err, emu.ErrCorruptState)).To(BeTrue())
		})
	})
})
