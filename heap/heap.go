package heap

import (
	"github.com/QuangTung97/hmalloc/seg"
)

const (
	// Alignment is the unit payload sizes are rounded to. Power of two, at
	// least the pointer width.
	Alignment = 8

	// DefaultCoarseBlock is the default unit of segment growth and the
	// threshold for giving the tail back.
	DefaultCoarseBlock = 8 << 20
)

// Config ...
type Config struct {
	// CoarseBlock overrides DefaultCoarseBlock, mainly for tests running on
	// small segments. Power of two, bigger than the chunk header.
	CoarseBlock uintptr
}

// Heap is the chunk heap: every byte below the segment break belongs to
// exactly one chunk, chunks form an address-ordered doubly linked list and
// free chunks are additionally reachable through the free index. Heap is
// not safe for concurrent use, callers serialise every operation.
type Heap struct {
	seg         seg.Segment
	coarseBlock uintptr

	head uintptr
	tail uintptr

	buckets   []uintptr
	freeBytes uintptr
}

func validateConfig(conf Config) {
	if conf.CoarseBlock&(conf.CoarseBlock-1) != 0 {
		panic("CoarseBlock must be a power of two")
	}
	if conf.CoarseBlock <= headerSize {
		panic("CoarseBlock must be bigger than the chunk header")
	}
}

// New creates an empty heap on top of segment. The segment break must be
// at zero.
func New(segment seg.Segment, conf Config) *Heap {
	if conf.CoarseBlock == 0 {
		conf.CoarseBlock = DefaultCoarseBlock
	}
	validateConfig(conf)

	buckets := make([]uintptr, conf.CoarseBlock/Alignment)
	for i := range buckets {
		buckets[i] = nullOff
	}

	return &Heap{
		seg:         segment,
		coarseBlock: conf.CoarseBlock,

		head: nullOff,
		tail: nullOff,

		buckets: buckets,
	}
}

// split carves a remainder chunk off the tail of the free chunk at off,
// which must not be in the free index. The chunk keeps size bytes, the
// remainder is linked after it and indexed. No remainder is carved when
// the leftover could not hold a header plus a non-empty payload.
func (h *Heap) split(off uintptr, size uintptr) {
	c := h.chunkAt(off)
	if c.size <= headerSize+size {
		return
	}

	remOff := off + headerSize + size
	rem := h.chunkAt(remOff)
	rem.inIndex = 0
	rem.free = 1
	rem.size = c.size - size - headerSize
	rem.prev = off
	rem.next = c.next
	rem.nextFree = nullOff

	if c.next != nullOff {
		h.chunkAt(c.next).prev = remOff
	} else {
		h.tail = remOff
	}
	c.next = remOff
	c.size = size

	h.indexInsert(remOff)
}

// coalesce merges the run of free chunks starting at off into a single
// chunk. Every walked chunk is removed from the free index, the walk stops
// at the first non-free chunk or at the end of the heap. The caller
// re-inserts the merged chunk.
func (h *Heap) coalesce(off uintptr) {
	first := h.chunkAt(off)

	total := uintptr(0)
	cur := off
	for cur != nullOff {
		c := h.chunkAt(cur)
		if c.free == 0 {
			break
		}
		if cur != off {
			total += c.size + headerSize
		}
		h.indexRemove(cur)
		cur = c.next
	}
	if total == 0 {
		return
	}

	first.size += total
	first.next = cur
	if cur != nullOff {
		h.chunkAt(cur).prev = off
	} else {
		h.tail = off
	}
}

// Walk visits every chunk from head to tail until fn returns false.
func (h *Heap) Walk(fn func(off uintptr, size uintptr, free bool) bool) {
	for cur := h.head; cur != nullOff; {
		c := h.chunkAt(cur)
		if !fn(cur, c.size, c.free != 0) {
			return
		}
		cur = c.next
	}
}

// Stats ...
type Stats struct {
	SegmentSize uintptr
	FreeBytes   uintptr
	Chunks      int
}

// Stats ...
func (h *Heap) Stats() Stats {
	s := Stats{
		SegmentSize: h.seg.Size(),
		FreeBytes:   h.freeBytes,
	}
	h.Walk(func(off uintptr, size uintptr, free bool) bool {
		s.Chunks++
		return true
	})
	return s
}
