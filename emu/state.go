package emu

import "github.com/pkg/errors"

// Features is a set of architecture feature flags for SelectProcessor.
type Features uint32

// Architecture feature flags.
const (
	FeatureV4 Features = 1 << iota
	FeatureV5
	FeatureV5E
	FeatureV6
	FeatureVFP
)

// Has reports whether every flag in want is set.
func (f Features) Has(want Features) bool {
	return f&want == want
}

// AbortModel selects how data aborts restore base registers.
type AbortModel int

// Abort models.
const (
	AbortBaseRestored AbortModel = iota
	AbortBaseUpdated
)

// Signal is the level of an input line to the core.
type Signal uint8

// Signal levels.
const (
	Low Signal = iota
	High
)

// CacheType describes the cache arrangement reported through CP15.
type CacheType int

// Cache arrangements.
const (
	NonCache CacheType = iota
	DataCache
	InstructionCache
)

// EmulateState is the run state of the core.
type EmulateState int

// Run states.
const (
	Stop EmulateState = iota
	Run
)

// CPUConfig identifies the emulated processor. A main ID register value
// belongs to the processor when its bits under Mask equal Value.
type CPUConfig struct {
	Arch      string
	Name      string
	Value     uint32
	Mask      uint32
	MainID    uint32
	CacheType CacheType
}

// Identifies reports whether mainID is a main ID of this processor.
func (c CPUConfig) Identifies(mainID uint32) bool {
	return mainID&c.Mask == c.Value
}

// ARM11 is the processor configuration of an ARM11 MPCore.
var ARM11 = CPUConfig{
	Arch:      "armv6",
	Name:      "arm11",
	Value:     0x0007b000,
	Mask:      0x0007f000,
	MainID:    0x410FB024,
	CacheType: NonCache,
}

// Reset values.
const (
	ResetCPSR        = uint32(ModeSupervisor) | FlagI | FlagF
	resetControl     = 0x00054078
	resetAuxControl  = 0x0000000F
	resetCPAccess    = 0x00F00000
	resetCacheType   = 0x1D192992
	controlBigEndian = 1 << 7
	resetFPSID       = 0x410120B4
	fpexcEnable      = 1 << 30
)

type bootPhase int

const (
	phaseAllocated bootPhase = iota + 1
	phaseSelected
	phaseReady
)

// State is the complete architectural state of one core: the live register
// file plus banked registers, processor configuration and input signals.
type State struct {
	RegFile

	Features   Features
	CPU        CPUConfig
	AbortModel AbortModel

	BigEndSig    Signal
	LateAbortSig Signal
	NIRQSig      Signal

	Emulate EmulateState

	bankedSP   [numBanks]uint32
	bankedLR   [numBanks]uint32
	bankedSPSR [numBanks]uint32
	fiqRegs    [5]uint32
	userRegs   [5]uint32

	phase bootPhase
}

// NewState allocates a zeroed state. It must be followed by SelectProcessor,
// Reset and SwitchMode, in that order.
func NewState() *State {
	return &State{
		CPU:   ARM11,
		phase: phaseAllocated,
	}
}

// SelectProcessor records the architecture features of the core. VFP is
// always enabled on an ARMv6 selection.
func (s *State) SelectProcessor(features Features) error {
	if s.phase != phaseAllocated {
		return errors.Wrap(ErrCorruptState, "processor selected twice or after reset")
	}
	if features.Has(FeatureV6) {
		features |= FeatureV5 | FeatureV5E | FeatureVFP
	}
	if features.Has(FeatureV5) {
		features |= FeatureV4
	}
	s.Features = features
	s.phase = phaseSelected
	return nil
}

// Reset brings the core to its architectural reset state: Supervisor mode
// with interrupts masked, cleared registers and banks, and CP15/VFP reset
// values derived from the processor configuration and input signals.
func (s *State) Reset() error {
	if s.phase < phaseSelected {
		return errors.Wrap(ErrCorruptState, "reset before processor selection")
	}
	if !s.CPU.Identifies(s.CPU.MainID) {
		return errors.Wrapf(ErrCorruptState, "main id 0x%08X is not a %s", s.CPU.MainID, s.CPU.Name)
	}

	s.RegFile = RegFile{}
	s.bankedSP = [numBanks]uint32{}
	s.bankedLR = [numBanks]uint32{}
	s.bankedSPSR = [numBanks]uint32{}
	s.fiqRegs = [5]uint32{}
	s.userRegs = [5]uint32{}

	s.CPSR = ResetCPSR
	if s.BigEndSig == High {
		s.CPSR |= FlagE
	}

	s.CP15[CP15MainID] = s.CPU.MainID
	s.CP15[CP15CPUID] = 0
	if s.CPU.CacheType != NonCache {
		s.CP15[CP15CacheType] = resetCacheType
	}
	s.CP15[CP15Control] = resetControl
	if s.BigEndSig == High {
		s.CP15[CP15Control] |= controlBigEndian
	}
	s.CP15[CP15AuxiliaryControl] = resetAuxControl
	s.CP15[CP15CoprocessorAccessControl] = resetCPAccess

	if s.Features.Has(FeatureVFP) {
		s.VFP[VFPSlotFPSID] = resetFPSID
		s.VFP[VFPSlotFPEXC] = fpexcEnable
	}

	s.Emulate = Run
	s.phase = phaseReady
	return nil
}

// SwitchMode changes the privilege mode, banking R8-R12 for FIQ and R13-R14
// plus SPSR for every mode that owns a bank.
func (s *State) SwitchMode(mode PrivilegeMode) error {
	if s.phase != phaseReady {
		return errors.Wrap(ErrCorruptState, "mode switch before reset")
	}
	if !mode.Valid() {
		return errors.Wrapf(ErrCorruptState, "switch to %v", mode)
	}

	cur := s.Mode()
	if !cur.Valid() {
		return errors.Wrapf(ErrCorruptState, "switch from %v", cur)
	}
	if cur == mode {
		return nil
	}

	from, to := cur.bank(), mode.bank()
	if from != to {
		s.bankedSP[from] = s.Reg[RegSP]
		s.bankedLR[from] = s.Reg[RegLR]
		s.bankedSPSR[from] = s.SPSR

		s.Reg[RegSP] = s.bankedSP[to]
		s.Reg[RegLR] = s.bankedLR[to]
		s.SPSR = s.bankedSPSR[to]
	}

	switch {
	case cur == ModeFIQ && mode != ModeFIQ:
		copy(s.fiqRegs[:], s.Reg[8:13])
		copy(s.Reg[8:13], s.userRegs[:])
	case cur != ModeFIQ && mode == ModeFIQ:
		copy(s.userRegs[:], s.Reg[8:13])
		copy(s.Reg[8:13], s.fiqRegs[:])
	}

	s.CPSR = s.CPSR&^ModeMask | uint32(mode)
	return nil
}

// BankedSP returns the stack pointer stored for mode. For the current mode
// it returns the live R13.
func (s *State) BankedSP(mode PrivilegeMode) uint32 {
	if mode.bank() == s.Mode().bank() {
		return s.Reg[RegSP]
	}
	return s.bankedSP[mode.bank()]
}
