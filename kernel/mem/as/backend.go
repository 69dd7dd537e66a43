package as

import (
	"sync"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/mem"
	"spartan/kernel/mem/frame"
)

// AnonymousBackend allocates and zero-fills a frame on demand, the way the
// teacher's vmm.reserveZeroedFrame path lazily backs RW pages. Anonymous
// areas are shareable, matching fork-style as_area_share.
type AnonymousBackend struct {
	Frames *frame.Allocator
}

func (b *AnonymousBackend) Name() string { return "anonymous" }

func (b *AnonymousBackend) PageFault(area *Area, off uintptr, acc AccessFlags) (uintptr, *kernel.Error) {
	pfn, err := b.Frames.Alloc(1, 0)
	if err != nil {
		return 0, err
	}
	// Zero the page in the allocator's simulated RAM: a frame that was
	// freed and handed out again still holds its previous user's bytes.
	ram := b.Frames.Memory()
	base := pfn.Address()
	for i := uintptr(0); i < uintptr(mem.PageSize); i++ {
		ram.WriteByte(base+i, 0)
	}
	return pfn.Address(), nil
}

func (b *AnonymousBackend) Shareable() bool { return true }

// PhysicalBackend maps a fixed, pre-existing physical range 1:1 with no
// frame allocation: pa = BasePA + off (spec §4.4 "Physical"). Always
// shareable, never resizable.
type PhysicalBackend struct {
	BasePA uintptr
}

func (b *PhysicalBackend) Name() string { return "physical" }

func (b *PhysicalBackend) PageFault(area *Area, off uintptr, acc AccessFlags) (uintptr, *kernel.Error) {
	return b.BasePA + off, nil
}

func (b *PhysicalBackend) Shareable() bool { return true }

// ELFBackend demand-loads pages from an in-memory ELF image segment.
// Read-only pages are shared across every area backed by the same
// ELFBackend instance (one physical frame per image offset, cached in
// pages); write faults always get a private copy-on-write frame, matching
// spec §4.4's "writable pages are copy-on-write from the image".
type ELFBackend struct {
	Frames   *frame.Allocator
	Image    []byte
	FileSize uintptr // bytes backed by Image; the rest of the segment is zero-fill (.bss-style)

	mu    sync.Mutex
	pages map[uintptr]frame.Frame // off -> shared read-only frame
}

func (b *ELFBackend) Name() string { return "elf" }

func (b *ELFBackend) PageFault(area *Area, off uintptr, acc AccessFlags) (uintptr, *kernel.Error) {
	if acc&AccessWrite != 0 {
		pfn, err := b.Frames.Alloc(1, 0)
		if err != nil {
			return 0, err
		}
		b.copySegment(pfn, off)
		return pfn.Address(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pages == nil {
		b.pages = make(map[uintptr]frame.Frame)
	}
	if pfn, ok := b.pages[off]; ok {
		if err := b.Frames.ReferenceAdd(pfn); err != nil {
			return 0, err
		}
		return pfn.Address(), nil
	}

	pfn, err := b.Frames.Alloc(1, 0)
	if err != nil {
		return 0, err
	}
	b.copySegment(pfn, off)
	b.pages[off] = pfn
	return pfn.Address(), nil
}

// copySegment is the simulated analogue of the teacher's mem.Memcopy call
// in vmm's CoW path: it fills the page at off in pfn's simulated RAM, taking
// bytes below FileSize from the image and zeroing the rest of the page.
func (b *ELFBackend) copySegment(pfn frame.Frame, off uintptr) {
	ram := b.Frames.Memory()
	base := pfn.Address()
	for i := uintptr(0); i < uintptr(mem.PageSize); i++ {
		var v byte
		if src := off + i; src < b.FileSize && src < uintptr(len(b.Image)) {
			v = b.Image[src]
		}
		ram.WriteByte(base+i, v)
	}
}

// Shareable returns false: spec §4.4 lists anonymous and physical areas as
// as_area_share targets, but only describes ELF read-only image pages as
// internally shared between the backend's own areas (the b.pages cache
// above) — it never lists the ELF backend itself as shareable to a second,
// unrelated address space the way AnonymousBackend/PhysicalBackend are.
func (b *ELFBackend) Shareable() bool { return false }

// Pager is the synchronous IPC hook a UserPagerBackend calls on a fault:
// the kernel's side of sending PAGE_IN(offset, length, id1, id2, id3) to
// the pager task and receiving back a physical frame whose refcount the
// pager has already adjusted. kernel/ipc wires the real implementation in;
// this package only depends on the function shape so it has no import
// cycle with kernel/ipc.
type Pager func(offset, length uint64, id1, id2, id3 uint64) (pa uintptr, err *kernel.Error)

// UserPagerBackend forwards faults to a user-mode pager task over IPC.
// Neither resizable nor shareable (spec §4.4).
type UserPagerBackend struct {
	PagerEndpoint uint64
	ID1, ID2, ID3 uint64
	Call          Pager
}

func (b *UserPagerBackend) Name() string { return "user-pager" }

func (b *UserPagerBackend) PageFault(area *Area, off uintptr, acc AccessFlags) (uintptr, *kernel.Error) {
	if b.Call == nil {
		return 0, errors.New("as", errors.KindNotSup, "user-pager backend has no pager call wired")
	}
	pa, err := b.Call(uint64(off), uint64(mem.PageSize), b.ID1, b.ID2, b.ID3)
	if err != nil {
		return 0, err
	}
	return pa, nil
}

func (b *UserPagerBackend) Shareable() bool { return false }
