// Package dispatch defines the contract between an execution context and the
// engine that decodes and executes instructions, and provides a reference
// block-dispatching engine.
package dispatch

import "github.com/sarchlab/dyncom/emu"

// Engine executes instructions against a core state.
//
// Execute starts at s.Reg[15] and returns the number of cycles consumed. The
// budget lives in s.NumInstrsToExecute; an engine decrements it per executed
// instruction and consults it only at dispatch boundaries, so a block-mode
// engine may run past it. A budget of 1 requests a true single step.
// The register file is the only input and output of an engine.
type Engine interface {
	Execute(s *emu.State) uint64
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(s *emu.State) uint64

// Execute calls f(s).
func (f EngineFunc) Execute(s *emu.State) uint64 {
	return f(s)
}
