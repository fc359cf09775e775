package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/QuangTung97/hmalloc/seg"
)

func newTestHeap(capacity int) *Heap {
	return New(seg.NewBufSegment(make([]byte, capacity)), Config{CoarseBlock: 1024})
}

func makeChunk(h *Heap, off uintptr, size uintptr) {
	c := h.chunkAt(off)
	*c = chunk{
		free:     1,
		size:     size,
		prev:     nullOff,
		next:     nullOff,
		nextFree: nullOff,
	}
}

func checkInvariants(t *testing.T, h *Heap) {
	t.Helper()

	if h.head == nullOff {
		assert.Equal(t, nullOff, h.tail)
		assert.Equal(t, uintptr(0), h.seg.Size())
		assert.Equal(t, uintptr(0), h.freeBytes)
		return
	}
	assert.Equal(t, uintptr(0), h.head)

	total := uintptr(0)
	expected := h.head
	prevOff := nullOff
	prevFree := false
	first := true
	for cur := h.head; cur != nullOff; {
		c := h.chunkAt(cur)
		assert.Equal(t, expected, cur)
		assert.Equal(t, prevOff, c.prev)
		if !first && prevFree {
			assert.Equal(t, uint32(0), c.free, "adjacent free chunks")
		}
		assert.Greater(t, c.size, uintptr(0))
		assert.Equal(t, uintptr(0), c.size%Alignment)

		total += headerSize + c.size
		expected = cur + headerSize + c.size
		prevOff = cur
		prevFree = c.free != 0
		first = false
		cur = c.next
	}
	assert.Equal(t, prevOff, h.tail)
	assert.Equal(t, total, h.seg.Size())

	sum := uintptr(0)
	h.Walk(func(off uintptr, size uintptr, free bool) bool {
		c := h.chunkAt(off)
		if c.inIndex != 0 {
			assert.True(t, free)
			sum += size
		}
		return true
	})
	assert.Equal(t, sum, h.freeBytes)

	for idx, off := range h.buckets {
		for off != nullOff {
			c := h.chunkAt(off)
			assert.Equal(t, uint32(1), c.inIndex)
			assert.Equal(t, uint32(1), c.free)
			assert.Equal(t, uintptr(idx), c.size/Alignment-1)
			off = c.nextFree
		}
	}
}

func TestNewHeap(t *testing.T) {
	h := newTestHeap(1 << 16)

	assert.Equal(t, nullOff, h.head)
	assert.Equal(t, nullOff, h.tail)
	assert.Equal(t, uintptr(1024), h.coarseBlock)
	assert.Equal(t, 128, len(h.buckets))
	for _, off := range h.buckets {
		assert.Equal(t, nullOff, off)
	}
	assert.Equal(t, uintptr(0), h.freeBytes)
}

func TestNewHeapDefaultConfig(t *testing.T) {
	h := New(seg.NewBufSegment(make([]byte, 1024)), Config{})

	assert.Equal(t, uintptr(DefaultCoarseBlock), h.coarseBlock)
	assert.Equal(t, DefaultCoarseBlock/Alignment, len(h.buckets))
}

func TestConfigValidation(t *testing.T) {
	assert.Panics(t, func() {
		New(seg.NewBufSegment(make([]byte, 1024)), Config{CoarseBlock: 1000})
	})
	assert.Panics(t, func() {
		New(seg.NewBufSegment(make([]byte, 1024)), Config{CoarseBlock: 32})
	})
}

func TestSplit(t *testing.T) {
	table := []struct {
		name      string
		request   uintptr
		split     bool
		remOff    uintptr
		remSize   uintptr
		remBucket int
	}{
		{
			name:      "carve-remainder",
			request:   16,
			split:     true,
			remOff:    56,
			remSize:   928,
			remBucket: 115,
		},
		{
			name:      "minimum-remainder",
			request:   936,
			split:     true,
			remOff:    976,
			remSize:   8,
			remBucket: 0,
		},
		{
			name:    "leftover-too-small",
			request: 944,
			split:   false,
		},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			h := newTestHeap(1 << 16)
			assert.True(t, h.grow(16))
			h.indexRemove(0)

			h.split(0, e.request)

			c := h.chunkAt(0)
			if !e.split {
				assert.Equal(t, uintptr(984), c.size)
				assert.Equal(t, nullOff, c.next)
				assert.Equal(t, uintptr(0), h.tail)
				return
			}

			assert.Equal(t, e.request, c.size)
			assert.Equal(t, e.remOff, c.next)
			assert.Equal(t, e.remOff, h.tail)

			rem := h.chunkAt(e.remOff)
			assert.Equal(t, e.remSize, rem.size)
			assert.Equal(t, uint32(1), rem.free)
			assert.Equal(t, uintptr(0), rem.prev)
			assert.Equal(t, nullOff, rem.next)
			assert.Equal(t, []uintptr{e.remOff}, h.contentOfBucket(e.remBucket))
			assert.Equal(t, e.remSize, h.freeBytes)
		})
	}
}

// setupChunks lays out three 16 byte allocations followed by the free
// remainder: [0:16][56:16][112:16][168:816].
func setupChunks(t *testing.T) *Heap {
	h := newTestHeap(1 << 16)
	for i := 0; i < 3; i++ {
		payload, ok := h.Allocate(16)
		assert.True(t, ok)
		assert.Equal(t, uintptr(40+i*56), payload)
	}
	assert.Equal(t, uintptr(816), h.freeBytes)
	return h
}

func TestCoalesceStopsAtUsed(t *testing.T) {
	h := setupChunks(t)
	h.chunkAt(0).free = 1
	h.chunkAt(56).free = 1

	h.coalesce(0)

	c := h.chunkAt(0)
	assert.Equal(t, uintptr(72), c.size)
	assert.Equal(t, uintptr(112), c.next)
	assert.Equal(t, uintptr(0), h.chunkAt(112).prev)
	assert.Equal(t, uintptr(168), h.tail)
	assert.Equal(t, uintptr(816), h.freeBytes)
}

func TestCoalesceRunToEnd(t *testing.T) {
	h := setupChunks(t)
	h.chunkAt(0).free = 1
	h.chunkAt(56).free = 1
	h.chunkAt(112).free = 1
	h.indexInsert(56)
	assert.Equal(t, uintptr(832), h.freeBytes)

	h.coalesce(0)

	c := h.chunkAt(0)
	assert.Equal(t, uintptr(984), c.size)
	assert.Equal(t, nullOff, c.next)
	assert.Equal(t, uintptr(0), h.tail)
	assert.Equal(t, uintptr(0), h.freeBytes)

	count := 0
	h.Walk(func(off uintptr, size uintptr, free bool) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
}

func TestCoalesceNoFreeSuccessor(t *testing.T) {
	h := setupChunks(t)
	h.chunkAt(0).free = 1

	h.coalesce(0)

	c := h.chunkAt(0)
	assert.Equal(t, uintptr(16), c.size)
	assert.Equal(t, uintptr(56), c.next)
}

func TestWalkStats(t *testing.T) {
	h := setupChunks(t)

	type visit struct {
		off  uintptr
		size uintptr
		free bool
	}
	var visits []visit
	h.Walk(func(off uintptr, size uintptr, free bool) bool {
		visits = append(visits, visit{off: off, size: size, free: free})
		return true
	})

	expected := []visit{
		{off: 0, size: 16, free: false},
		{off: 56, size: 16, free: false},
		{off: 112, size: 16, free: false},
		{off: 168, size: 816, free: true},
	}
	assert.Equal(t, expected, visits)

	assert.Equal(t, Stats{
		SegmentSize: 1024,
		FreeBytes:   816,
		Chunks:      4,
	}, h.Stats())

	visits = nil
	h.Walk(func(off uintptr, size uintptr, free bool) bool {
		visits = append(visits, visit{off: off, size: size, free: free})
		return false
	})
	assert.Equal(t, 1, len(visits))
}
