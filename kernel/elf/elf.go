// Package elf implements spec.md §6's ELF32 image loader: validating the
// class-32 LSB EXEC identification bytes and creating one address-space
// area per PT_LOAD program header, with area flags derived from p_flags.
// The teacher has no loader of its own — a freestanding single-image
// kernel never parses an executable format, it just jumps to its own
// entry point — so this package is grounded directly on spec.md §6 and on
// original_source's abi/include/abi/elf.h identification constants, using
// the standard library's debug/elf since no ELF-parsing library appears
// anywhere in the retrieval pack.
package elf

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/mem"
	"spartan/kernel/mem/as"
	"spartan/kernel/mem/frame"
)

// Segment describes one PT_LOAD program header after validation, ready to
// be turned into an address-space area.
type Segment struct {
	VAddr    uintptr
	MemSize  uintptr
	FileSize uintptr
	Flags    as.AreaFlags
	image    []byte
}

// Image is a parsed, validated ELF32 executable: spec §6's "class-32 LSB
// ELF... type EXEC" check has already run by the time Load returns one.
type Image struct {
	Entry    uintptr
	Segments []Segment
}

// Load parses raw, validating it against spec §6's ELF32 EXEC requirement
// and returning one Segment per PT_LOAD program header. It does not touch
// any AddressSpace; call MapInto to actually create areas.
func Load(raw []byte) (*Image, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.New("elf", errors.KindInval, fmt.Sprintf("parsing ELF header: %v", err))
	}

	if f.Class != elf.ELFCLASS32 {
		return nil, errors.New("elf", errors.KindNotSup, "only class-32 ELF images are supported")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, errors.New("elf", errors.KindNotSup, "only least-significant-byte-first ELF images are supported")
	}
	if f.Type != elf.ET_EXEC {
		return nil, errors.New("elf", errors.KindNotSup, "only ET_EXEC images are supported")
	}

	img := &Image{Entry: uintptr(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz < prog.Filesz {
			return nil, errors.New("elf", errors.KindInval, "PT_LOAD segment memsz is smaller than filesz")
		}

		data := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, err := io.ReadFull(prog.Open(), data); err != nil {
				return nil, errors.New("elf", errors.KindInval, fmt.Sprintf("reading PT_LOAD segment: %v", err))
			}
		}

		img.Segments = append(img.Segments, Segment{
			VAddr:    uintptr(prog.Vaddr),
			MemSize:  uintptr(prog.Memsz),
			FileSize: uintptr(prog.Filesz),
			Flags:    segmentFlags(prog.Flags),
			image:    data,
		})
	}

	return img, nil
}

// segmentFlags translates a PT_LOAD header's p_flags into an AreaFlags
// value, per spec §6 "flags derived from p_flags".
func segmentFlags(pf elf.ProgFlag) as.AreaFlags {
	var flags as.AreaFlags
	if pf&elf.PF_R != 0 {
		flags |= as.AreaRead
	}
	if pf&elf.PF_W != 0 {
		flags |= as.AreaWrite
	}
	if pf&elf.PF_X != 0 {
		flags |= as.AreaExec
	}
	return flags
}

// MapInto creates one area per PT_LOAD segment in space, each backed by an
// as.ELFBackend over that segment's image bytes. Segment base addresses and
// sizes are rounded to page boundaries the same way the teacher's vmm areas
// always are.
func MapInto(space *as.AddressSpace, frames *frame.Allocator, img *Image) *kernel.Error {
	pageSize := uintptr(mem.PageSize)
	for _, seg := range img.Segments {
		base := seg.VAddr &^ (pageSize - 1)
		end := (seg.VAddr + seg.MemSize + pageSize - 1) &^ (pageSize - 1)
		size := end - base

		backend := &as.ELFBackend{
			Frames:   frames,
			Image:    seg.image,
			FileSize: seg.FileSize,
		}
		if _, err := space.AddArea(base, size, seg.Flags, backend); err != nil {
			return err
		}
	}
	return nil
}
