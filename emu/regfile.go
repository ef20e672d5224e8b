// Package emu holds the architectural state of an emulated ARM11 core and
// the primitives that bring it to a known reset state.
package emu

import "github.com/pkg/errors"

// Register file dimensions.
const (
	NumRegisters    = 16
	NumExtRegisters = 64
	NumVFPRegisters = 3
)

// Conventional general-purpose register roles.
const (
	RegSP = 13
	RegLR = 14
	RegPC = 15
)

// Fixed slots of the VFP system register bank.
const (
	VFPSlotFPSID = 0
	VFPSlotFPSCR = 1
	VFPSlotFPEXC = 2
)

// RegFile represents the ARM11 register file.
// It holds the live general-purpose registers of the current mode, the
// program status registers, the VFP bank and the CP15 bank.
type RegFile struct {
	// Reg holds R0-R15 as seen by the current mode.
	// Reg[13] is SP, Reg[14] is LR and Reg[15] is PC by convention only.
	Reg [NumRegisters]uint32

	// CPSR is the current program status register.
	CPSR uint32

	// SPSR is the saved program status register of the current mode.
	// It reads as zero in User and System mode.
	SPSR uint32

	// ExtReg holds the VFP data registers as 64 single-precision words
	// (D0-D31 are pairs of words).
	ExtReg [NumExtRegisters]uint32

	// VFP holds FPSID, FPSCR and FPEXC at their VFPSlot indices.
	VFP [NumVFPRegisters]uint32

	// CP15 is the system control coprocessor bank.
	CP15 [NumCP15Registers]uint32

	// NumInstrsToExecute is the remaining instruction budget of the current
	// step. Dispatch engines decrement it per instruction and poll it at
	// dispatch boundaries, so it may go negative when a block overruns.
	NumInstrsToExecute int64
}

// ReadReg reads general-purpose register index.
func (r *RegFile) ReadReg(index int) (uint32, error) {
	if index < 0 || index >= NumRegisters {
		return 0, errors.Wrapf(ErrOutOfRange, "general register %d", index)
	}
	return r.Reg[index], nil
}

// WriteReg writes general-purpose register index.
func (r *RegFile) WriteReg(index int, value uint32) error {
	if index < 0 || index >= NumRegisters {
		return errors.Wrapf(ErrOutOfRange, "general register %d", index)
	}
	r.Reg[index] = value
	return nil
}

// ReadExtReg reads VFP data word index.
func (r *RegFile) ReadExtReg(index int) (uint32, error) {
	if index < 0 || index >= NumExtRegisters {
		return 0, errors.Wrapf(ErrOutOfRange, "extension register %d", index)
	}
	return r.ExtReg[index], nil
}

// WriteExtReg writes VFP data word index.
func (r *RegFile) WriteExtReg(index int, value uint32) error {
	if index < 0 || index >= NumExtRegisters {
		return errors.Wrapf(ErrOutOfRange, "extension register %d", index)
	}
	r.ExtReg[index] = value
	return nil
}

// ReadVFP reads a VFP system register by slot.
func (r *RegFile) ReadVFP(slot int) (uint32, error) {
	if slot < 0 || slot >= NumVFPRegisters {
		return 0, errors.Wrapf(ErrOutOfRange, "vfp slot %d", slot)
	}
	return r.VFP[slot], nil
}

// WriteVFP writes a VFP system register by slot.
func (r *RegFile) WriteVFP(slot int, value uint32) error {
	if slot < 0 || slot >= NumVFPRegisters {
		return errors.Wrapf(ErrOutOfRange, "vfp slot %d", slot)
	}
	r.VFP[slot] = value
	return nil
}

// ReadCP15 reads a CP15 register.
func (r *RegFile) ReadCP15(reg CP15Register) (uint32, error) {
	if !reg.Valid() {
		return 0, errors.Wrapf(ErrOutOfRange, "%v", reg)
	}
	return r.CP15[reg], nil
}

// WriteCP15 writes a CP15 register.
func (r *RegFile) WriteCP15(reg CP15Register, value uint32) error {
	if !reg.Valid() {
		return errors.Wrapf(ErrOutOfRange, "%v", reg)
	}
	r.CP15[reg] = value
	return nil
}

// Mode returns the privilege mode encoded in the CPSR.
func (r *RegFile) Mode() PrivilegeMode {
	return ModeOf(r.CPSR)
}

// Thumb reports whether the CPSR T bit is set.
func (r *RegFile) Thumb() bool {
	return r.CPSR&FlagT != 0
}
