// Package loader reads 32-bit ARM ELF executables to find where a guest's
// main thread starts.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer of the main thread, the same
// address a freshly constructed core uses.
const DefaultStackTop uint32 = 0x10000000

// Segment is a PT_LOAD segment of the executable.
type Segment struct {
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	Flags   SegmentFlags
}

// Contains reports whether addr falls inside the segment in memory.
func (s *Segment) Contains(addr uint32) bool {
	return addr >= s.VirtAddr && uint64(addr) < uint64(s.VirtAddr)+uint64(s.MemSize)
}

// Program is a parsed executable.
type Program struct {
	// EntryPoint is the first instruction, with the Thumb bit cleared.
	EntryPoint uint32
	// Thumb is set when the entry point is Thumb code.
	Thumb bool
	// BigEndian is set for big-endian (BE8) images.
	BigEndian bool

	Segments  []Segment
	InitialSP uint32
}

// ExecutableAt reports whether addr lies in an executable segment.
func (p *Program) ExecutableAt(addr uint32) bool {
	for i := range p.Segments {
		seg := &p.Segments[i]
		if seg.Flags&SegmentFlagExecute != 0 && seg.Contains(addr) {
			return true
		}
	}
	return false
}

// Load parses the ARM ELF executable at path.
func Load(path string) (*Program, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Parse(file)
}

// Parse reads an ARM ELF executable.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}
	if f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("not an ARM ELF file (machine type: %v)", f.Machine)
	}

	entry := uint32(f.Entry)
	prog := &Program{
		EntryPoint: entry &^ 1,
		Thumb:      entry&1 != 0,
		BigEndian:  f.Data == elf.ELFDATA2MSB,
		InitialSP:  DefaultStackTop,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	return prog, nil
}
