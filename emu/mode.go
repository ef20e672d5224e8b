package emu

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// PrivilegeMode is an ARM processor mode as encoded in CPSR bits [4:0].
type PrivilegeMode uint32

// Privilege modes.
const (
	ModeUser       PrivilegeMode = 0x10
	ModeFIQ        PrivilegeMode = 0x11
	ModeIRQ        PrivilegeMode = 0x12
	ModeSupervisor PrivilegeMode = 0x13
	ModeAbort      PrivilegeMode = 0x17
	ModeUndefined  PrivilegeMode = 0x1B
	ModeSystem     PrivilegeMode = 0x1F
)

// ModeMask selects the mode bits of the CPSR.
const ModeMask uint32 = 0x1F

// CPSR flag and control bits.
const (
	FlagN uint32 = 1 << 31
	FlagZ uint32 = 1 << 30
	FlagC uint32 = 1 << 29
	FlagV uint32 = 1 << 28
	FlagQ uint32 = 1 << 27
	FlagJ uint32 = 1 << 24
	FlagE uint32 = 1 << 9
	FlagA uint32 = 1 << 8
	FlagI uint32 = 1 << 7
	FlagF uint32 = 1 << 6
	FlagT uint32 = 1 << 5
)

// register banks. User and System share one.
const (
	bankUser = iota
	bankFIQ
	bankIRQ
	bankSupervisor
	bankAbort
	bankUndefined
	numBanks
)

var modeNames = map[PrivilegeMode]string{
	ModeUser:       "user",
	ModeFIQ:        "fiq",
	ModeIRQ:        "irq",
	ModeSupervisor: "supervisor",
	ModeAbort:      "abort",
	ModeUndefined:  "undefined",
	ModeSystem:     "system",
}

// ModeOf extracts the privilege mode from a CPSR value. The result may be
// invalid if the CPSR itself is malformed.
func ModeOf(cpsr uint32) PrivilegeMode {
	return PrivilegeMode(cpsr & ModeMask)
}

// Valid reports whether m is one of the defined privilege modes.
func (m PrivilegeMode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// String returns the lower-case mode name.
func (m PrivilegeMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(0x%02X)", uint32(m))
}

// HasSPSR reports whether the mode has a saved program status register.
func (m PrivilegeMode) HasSPSR() bool {
	return m.Valid() && m != ModeUser && m != ModeSystem
}

func (m PrivilegeMode) bank() int {
	switch m {
	case ModeFIQ:
		return bankFIQ
	case ModeIRQ:
		return bankIRQ
	case ModeSupervisor:
		return bankSupervisor
	case ModeAbort:
		return bankAbort
	case ModeUndefined:
		return bankUndefined
	default:
		return bankUser
	}
}

// ParseMode converts a mode name such as "supervisor" or "svc" into a
// PrivilegeMode.
func ParseMode(s string) (PrivilegeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "usr":
		return ModeUser, nil
	case "fiq":
		return ModeFIQ, nil
	case "irq":
		return ModeIRQ, nil
	case "supervisor", "svc":
		return ModeSupervisor, nil
	case "abort", "abt":
		return ModeAbort, nil
	case "undefined", "und":
		return ModeUndefined, nil
	case "system", "sys":
		return ModeSystem, nil
	}
	return 0, errors.Wrapf(ErrCorruptState, "unknown privilege mode %q", s)
}
