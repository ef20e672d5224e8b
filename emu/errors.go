package emu

import "github.com/pkg/errors"

var (
	// ErrOutOfRange is returned when a register index or coprocessor register
	// id does not name a register in the register file.
	ErrOutOfRange = errors.New("register out of range")

	// ErrCorruptState is returned when architectural state would be left
	// invalid, such as a CPSR whose mode bits encode no defined mode, or when
	// the state primitives are called out of order.
	ErrCorruptState = errors.New("corrupt cpu state")
)
