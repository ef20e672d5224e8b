// Package threadctx defines the thread-context record a scheduler uses to
// suspend and resume a guest thread on a core, and its binary layout.
package threadctx

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/sarchlab/dyncom/emu"
)

// Size is the encoded size of a Context in bytes.
const Size = (emu.NumRegisters + emu.NumExtRegisters + 6) * 4

// NewThreadCPSR is the status word of a freshly created thread: the User
// register bank with System privilege, interrupts enabled, ARM state.
const NewThreadCPSR = uint32(emu.ModeSystem)

// Context is the scheduler-visible snapshot of a guest thread's CPU state.
// Field order is the wire layout.
type Context struct {
	CPURegisters [emu.NumRegisters]uint32
	FPURegisters [emu.NumExtRegisters]uint32

	SP   uint32
	LR   uint32
	PC   uint32
	CPSR uint32

	FPSCR uint32
	FPEXC uint32
}

// New returns a context for a thread that starts at entryPoint with its stack
// at stackTop and arg in R0. Everything else is zero.
func New(stackTop, entryPoint, arg uint32) Context {
	var ctx Context
	ctx.CPURegisters[0] = arg
	ctx.PC = entryPoint
	ctx.SP = stackTop
	ctx.CPSR = NewThreadCPSR
	return ctx
}

// Validate checks that the record can be loaded into a core.
func (c *Context) Validate() error {
	if mode := emu.ModeOf(c.CPSR); !mode.Valid() {
		return errors.Wrapf(emu.ErrCorruptState, "thread context cpsr 0x%08X has %v", c.CPSR, mode)
	}
	return nil
}

// Pack writes the record to w in the given byte order.
func (c *Context) Pack(w io.Writer, order binary.ByteOrder) error {
	return struc.PackWithOptions(w, c, &struc.Options{Order: order})
}

// Unpack reads a record from r in the given byte order.
func (c *Context) Unpack(r io.Reader, order binary.ByteOrder) error {
	if err := struc.UnpackWithOptions(r, c, &struc.Options{Order: order}); err != nil {
		return errors.Wrapf(emu.ErrCorruptState, "thread context: %v", err)
	}
	return nil
}

// MarshalBinary encodes the record little-endian.
func (c *Context) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(Size)
	if err := c.Pack(&buf, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a little-endian record. The input must be exactly
// Size bytes.
func (c *Context) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return errors.Wrapf(emu.ErrCorruptState, "thread context is %d bytes, want %d", len(data), Size)
	}
	return c.Unpack(bytes.NewReader(data), binary.LittleEndian)
}
