//go:build linux || darwin || freebsd

package seg

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapSegment reserves a fixed range of address space up front and moves
// the break by committing and decommitting pages inside it. The base
// address never moves, matching the contiguity guarantee of brk(2).
type MmapSegment struct {
	mem  []byte
	page uintptr
	brk  uintptr
}

// NewMmapSegment reserves capacity bytes of PROT_NONE address space.
func NewMmapSegment(capacity uintptr) (*MmapSegment, error) {
	if capacity == 0 {
		return nil, ErrCapacityMustBePositive
	}
	page := uintptr(unix.Getpagesize())
	capacity = alignPage(capacity, page)
	mem, err := unix.Mmap(-1, 0, int(capacity),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &MmapSegment{mem: mem, page: page}, nil
}

func alignPage(n uintptr, page uintptr) uintptr {
	return (n + page - 1) &^ (page - 1)
}

// Grow ...
func (s *MmapSegment) Grow(n uintptr) (uintptr, bool) {
	if n > uintptr(len(s.mem))-s.brk {
		return 0, false
	}
	lo := s.brk &^ (s.page - 1)
	hi := alignPage(s.brk+n, s.page)
	err := unix.Mprotect(s.mem[lo:hi], unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return 0, false
	}
	old := s.brk
	s.brk += n
	return old, true
}

// Shrink ...
func (s *MmapSegment) Shrink(n uintptr) bool {
	if n > s.brk {
		return false
	}
	s.brk -= n
	lo := alignPage(s.brk, s.page)
	hi := alignPage(s.brk+n, s.page)
	if lo < hi {
		// Decommit failures are not reported: the break already moved and
		// the pages stay committed until the next Grow reuses them.
		_ = unix.Mprotect(s.mem[lo:hi], unix.PROT_NONE)
		_ = unix.Madvise(s.mem[lo:hi], unix.MADV_DONTNEED)
	}
	return true
}

// Size ...
func (s *MmapSegment) Size() uintptr {
	return s.brk
}

// At ...
func (s *MmapSegment) At(off uintptr) unsafe.Pointer {
	return unsafe.Pointer(&s.mem[off])
}

// Close releases the reservation. The segment must not be used afterwards.
func (s *MmapSegment) Close() error {
	mem := s.mem
	s.mem = nil
	s.brk = 0
	return unix.Munmap(mem)
}
