// Package as implements the address-space subsystem from spec.md §4.4:
// address spaces, areas, four pluggable backends, page-fault dispatch in
// the as.lock -> area.lock -> pt.lock order, TLB shootdown, and ASID
// allocation with generation-based overflow reassignment. It generalizes
// the teacher's kernel/mem/vmm package (page-table walk, CoW handling in
// vmm.pageFaultHandler) from a single hardcoded address space into many,
// with a pluggable Backend per Area instead of one baked-in fault handler.
package as

import (
	"sync"

	"spartan/kernel"
	"spartan/kernel/arch"
	"spartan/kernel/errors"
	"spartan/kernel/mem"
)

// AccessFlags describes the kind of access that faulted.
type AccessFlags uint8

const (
	AccessRead AccessFlags = 1 << iota
	AccessWrite
	AccessExec
)

// AreaFlags describes an area's permitted access and sharing behavior.
type AreaFlags uint8

const (
	AreaRead AreaFlags = 1 << iota
	AreaWrite
	AreaExec
)

func (f AreaFlags) permits(acc AccessFlags) bool {
	if acc&AccessRead != 0 && f&AreaRead == 0 {
		return false
	}
	if acc&AccessWrite != 0 && f&AreaWrite == 0 {
		return false
	}
	if acc&AccessExec != 0 && f&AreaExec == 0 {
		return false
	}
	return true
}

// toPTFlags translates an area's permissions into the opaque flags word
// arch.Provider.WriteMapping expects. The bit layout is private to this
// package and the sim provider that consumes it.
func (f AreaFlags) toPTFlags() uint {
	var pt uint
	if f&AreaWrite != 0 {
		pt |= 0x1
	}
	if f&AreaExec != 0 {
		pt |= 0x2
	}
	return pt
}

// Backend implements one of spec §4.4's four area backends: anonymous,
// physical, ELF, or user-pager.
type Backend interface {
	// Name identifies the backend for logging/diagnostics.
	Name() string
	// PageFault resolves a fault at the area-relative, page-aligned
	// offset off, returning the physical address to map.
	PageFault(area *Area, off uintptr, acc AccessFlags) (pa uintptr, err *kernel.Error)
	// Shareable reports whether as_area_share may target this backend.
	Shareable() bool
}

// Area is one mapped virtual-memory region of an AddressSpace.
type Area struct {
	as      *AddressSpace
	mu      sync.Mutex
	base    uintptr
	size    uintptr
	flags   AreaFlags
	backend Backend
	used    map[uintptr]struct{}
}

// Base returns the area's starting virtual address.
func (a *Area) Base() uintptr { return a.base }

// Size returns the area's size in bytes.
func (a *Area) Size() uintptr { return a.size }

// Flags returns the area's access flags.
func (a *Area) Flags() AreaFlags { return a.flags }

func (a *Area) contains(va uintptr) bool {
	return va >= a.base && va < a.base+a.size
}

// AddressSpace is one page-table-backed virtual address space: a set of
// non-overlapping areas plus the ASID and page-table root arch.Provider
// needs to install mappings into it.
type AddressSpace struct {
	mu    sync.Mutex
	areas []*Area

	asid ASID
	root arch.PTRoot

	arch arch.Provider
}

// New creates an address space rooted at root, using provider ar for
// mapping installation and TLB maintenance. asid is assigned by an
// Allocator via Register, not here.
func New(ar arch.Provider, root arch.PTRoot) *AddressSpace {
	return &AddressSpace{arch: ar, root: root}
}

// ASID returns the address space's currently assigned ASID.
func (s *AddressSpace) ASID() ASID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asid
}

// Root returns the page-table root arch.Provider identifies this address
// space by.
func (s *AddressSpace) Root() arch.PTRoot { return s.root }

// AddArea creates a new area [base, base+size) with the given flags and
// backend, rejecting it if it overlaps an existing area.
func (s *AddressSpace) AddArea(base, size uintptr, flags AreaFlags, backend Backend) (*Area, *kernel.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := base + size
	for _, a := range s.areas {
		if base < a.base+a.size && end > a.base {
			return nil, errors.New("as", errors.KindInval, "area overlaps an existing mapping")
		}
	}

	area := &Area{as: s, base: base, size: size, flags: flags, backend: backend, used: make(map[uintptr]struct{})}
	s.areas = append(s.areas, area)
	return area, nil
}

func (s *AddressSpace) findArea(va uintptr) *Area {
	for _, a := range s.areas {
		if a.contains(va) {
			return a
		}
	}
	return nil
}

// HandleFault services a page fault at va with access acc, per spec §4.4's
// five-step dispatch. Lock order is as.mu -> area.mu -> (the page table's
// own internal lock, taken inside arch.Provider.WriteMapping).
func (s *AddressSpace) HandleFault(va uintptr, acc AccessFlags) *kernel.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	area := s.findArea(va)
	if area == nil {
		return errors.New("as", errors.KindInval, "fault address is not mapped by any area")
	}

	area.mu.Lock()
	defer area.mu.Unlock()

	if !area.flags.permits(acc) {
		return errors.New("as", errors.KindInval, "access does not match area permissions")
	}

	vaAligned := va &^ (uintptr(mem.PageSize) - 1)

	// A page already resolved by an earlier fault already has a mapping
	// installed that grants the area's full permitted access (toPTFlags
	// does not vary by the access that triggered the fault), so a second
	// fault on it is a no-op: re-running backend.PageFault here would hand
	// AnonymousBackend a fresh frame for a page that already has one,
	// leaking the original and discarding whatever it held.
	if _, ok := area.used[vaAligned]; ok {
		return nil
	}

	off := vaAligned - area.base

	pa, err := area.backend.PageFault(area, off, acc)
	if err != nil {
		return err
	}

	s.arch.WriteMapping(s.root, vaAligned, pa, area.flags.toPTFlags())
	area.used[vaAligned] = struct{}{}
	return nil
}

// ShareArea maps src's backend into dst at dstBase, provided src's backend
// is shareable (spec §4.4: anonymous and physical areas may be shared,
// ELF/user-pager may not). Already-resolved pages are not eagerly copied;
// the new area simply faults through the same backend on first touch.
func ShareArea(src *Area, dst *AddressSpace, dstBase uintptr) (*Area, *kernel.Error) {
	if !src.backend.Shareable() {
		return nil, errors.New("as", errors.KindNotSup, "backend does not support sharing")
	}
	return dst.AddArea(dstBase, src.size, src.flags, src.backend)
}
