package heap

// maxRequest bounds a single request so that rounding and the growth
// computation cannot wrap.
const maxRequest = ^uintptr(0) >> 1

// normalize rounds a raw request up to the alignment unit, a zero request
// becomes one unit.
func normalize(size uintptr) uintptr {
	if size == 0 {
		return Alignment
	}
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// Allocate returns the payload offset of a chunk of at least size bytes,
// false when the segment refuses to grow.
func (h *Heap) Allocate(size uintptr) (uintptr, bool) {
	if size > maxRequest {
		return 0, false
	}
	size = normalize(size)

	for {
		off, ok := h.take(size)
		if ok {
			h.chunkAt(off).free = 0
			return payloadOf(off), true
		}
		if !h.grow(size) {
			return 0, false
		}
	}
}

// take finds a free chunk of at least size bytes: first the exact-size
// bucket, then a tail-to-head scan of the heap. The scan re-indexes every
// free chunk it skips. The returned chunk is unindexed and already split.
func (h *Heap) take(size uintptr) (uintptr, bool) {
	if off, ok := h.indexTake(size); ok {
		return off, true
	}

	for cur := h.tail; cur != nullOff; {
		c := h.chunkAt(cur)
		if c.free != 0 && c.size >= size {
			h.indexRemove(cur)
			h.split(cur, size)
			return cur, true
		}
		if c.free != 0 {
			h.indexInsert(cur)
		}
		cur = c.prev
	}
	return 0, false
}

// grow extends the segment by whole coarse blocks so that the next scan
// finds room for size bytes plus a header. A free tail chunk absorbs the
// grown region, otherwise the region becomes a new free tail chunk.
func (h *Heap) grow(size uintptr) bool {
	growSize := (size + headerSize + h.coarseBlock) / h.coarseBlock * h.coarseBlock

	old, ok := h.seg.Grow(growSize)
	if !ok {
		return false
	}

	if h.tail != nullOff {
		t := h.chunkAt(h.tail)
		if t.free != 0 {
			h.indexRemove(h.tail)
			t.size += growSize
			return true
		}
	}

	off := old
	c := h.chunkAt(off)
	c.inIndex = 0
	c.free = 1
	c.size = growSize - headerSize
	c.prev = h.tail
	c.next = nullOff
	c.nextFree = nullOff

	if h.tail != nullOff {
		h.chunkAt(h.tail).next = off
	}
	h.tail = off
	if h.head == nullOff {
		h.head = off
	}
	h.indexInsert(off)
	return true
}

// Release marks the chunk owning payload free, merges it with free
// neighbours and opportunistically gives the heap tail back to the
// segment. Releasing an already free chunk is a no-op.
func (h *Heap) Release(payload uintptr) {
	off := chunkOf(payload)
	c := h.chunkAt(off)
	if c.size == 0 {
		panic("chunk size must be > 0")
	}
	if c.free != 0 {
		return
	}
	c.free = 1

	if c.prev != nullOff && h.chunkAt(c.prev).free != 0 {
		start := c.prev
		h.coalesce(start)
		h.indexInsert(start)
	} else if c.next != nullOff && h.chunkAt(c.next).free != 0 {
		h.coalesce(off)
		h.indexInsert(off)
	} else {
		h.indexInsert(off)
	}

	h.trim()
}

// trim walks backward from the tail over free chunks and shrinks the
// segment by the collected region once it reaches a whole coarse block.
// When the collected region is too small, or the segment refuses to
// shrink, the collected chunks go back into the free index.
func (h *Heap) trim() {
	if h.freeBytes < h.coarseBlock {
		return
	}

	total := uintptr(0)
	cur := h.tail
	for cur != nullOff {
		c := h.chunkAt(cur)
		if c.free == 0 {
			break
		}
		total += c.size + headerSize
		h.indexRemove(cur)
		cur = c.prev
	}

	if total < h.coarseBlock || !h.seg.Shrink(total) {
		for back := h.tail; back != cur; {
			c := h.chunkAt(back)
			h.indexInsert(back)
			back = c.prev
		}
		return
	}

	if cur == nullOff {
		h.head = nullOff
		h.tail = nullOff
	} else {
		h.tail = cur
		h.chunkAt(cur).next = nullOff
	}
}

// AllocateZeroed allocates room for n elements of size bytes each and
// zeroes the whole payload of the returned chunk.
func (h *Heap) AllocateZeroed(n uintptr, size uintptr) (uintptr, bool) {
	if size != 0 && n > ^uintptr(0)/size {
		return 0, false
	}
	payload, ok := h.Allocate(n * size)
	if !ok {
		return 0, false
	}
	buf := h.bytesAt(payload, h.chunkAt(chunkOf(payload)).size)
	for i := range buf {
		buf[i] = 0
	}
	return payload, true
}

// Reallocate resizes the chunk owning payload. A zero size releases the
// chunk and hands out a minimum one. When the rounded size matches the
// current payload the chunk is returned unchanged. Otherwise the content
// moves into a fresh chunk, on allocation failure the old chunk is left
// untouched.
func (h *Heap) Reallocate(payload uintptr, size uintptr) (uintptr, bool) {
	if size == 0 {
		h.Release(payload)
		return h.Allocate(Alignment)
	}

	old := h.chunkAt(chunkOf(payload))
	if normalize(size) == old.size {
		return payload, true
	}

	newPayload, ok := h.Allocate(size)
	if !ok {
		return 0, false
	}

	n := old.size
	if newSize := h.chunkAt(chunkOf(newPayload)).size; newSize < n {
		n = newSize
	}
	copy(h.bytesAt(newPayload, n), h.bytesAt(payload, n))

	h.Release(payload)
	return newPayload, true
}
