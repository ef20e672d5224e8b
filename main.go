// Package main provides the entry point for dyncom.
// dyncom is an ARM11 execution context with cooperative guest-thread
// scheduling on a shared global timing facility.
//
// For the full CLI, use: go run ./cmd/dyncom
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("dyncom - ARM11 execution context")
	fmt.Println("")
	fmt.Println("Usage: dyncom [options] [program.elf]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config    Path to configuration file (JSON or YAML)")
	fmt.Println("  -cores     Number of cores sharing the timing facility")
	fmt.Println("  -steps     Scheduling rounds, 0 runs until every thread exits")
	fmt.Println("  -budget    Instruction budget per step")
	fmt.Println("  -mode      Initial privilege mode")
	fmt.Println("  -save      Write a thread snapshot after the run")
	fmt.Println("  -restore   Resume threads from a snapshot")
	fmt.Println("  -v         Log verbosity")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/dyncom' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/dyncom' instead.")
	}
}
