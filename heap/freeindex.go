package heap

// The free index is an exact-fit cache: bucket i chains free chunks whose
// payload size is exactly (i+1)*Alignment. Chunks too big for the last
// bucket are flagged and accounted in freeBytes but not chained, they are
// found again only by the allocation scan.

func (h *Heap) bucketIndex(size uintptr) (int, bool) {
	idx := size/Alignment - 1
	if idx >= uintptr(len(h.buckets)) {
		return 0, false
	}
	return int(idx), true
}

func (h *Heap) indexInsert(off uintptr) {
	c := h.chunkAt(off)
	if c.inIndex != 0 {
		return
	}
	c.inIndex = 1
	h.freeBytes += c.size

	idx, ok := h.bucketIndex(c.size)
	if !ok {
		c.nextFree = nullOff
		return
	}
	c.nextFree = h.buckets[idx]
	h.buckets[idx] = off
}

// indexRemove is idempotent: the coalescer and the tail trim call it on
// every chunk they walk without checking membership first.
func (h *Heap) indexRemove(off uintptr) {
	c := h.chunkAt(off)
	if c.inIndex == 0 {
		return
	}
	c.inIndex = 0
	h.freeBytes -= c.size

	idx, ok := h.bucketIndex(c.size)
	if !ok {
		return
	}
	if h.buckets[idx] == off {
		h.buckets[idx] = c.nextFree
		return
	}
	cur := h.buckets[idx]
	for cur != nullOff {
		cc := h.chunkAt(cur)
		if cc.nextFree == off {
			cc.nextFree = c.nextFree
			return
		}
		cur = cc.nextFree
	}
}

func (h *Heap) contentOfBucket(idx int) []uintptr {
	var result []uintptr
	off := h.buckets[idx]
	for off != nullOff {
		result = append(result, off)
		off = h.chunkAt(off).nextFree
	}
	return result
}

// indexTake detaches and returns the head of the exact-size bucket. It
// never searches larger buckets, best fit falls to the heap scan.
func (h *Heap) indexTake(size uintptr) (uintptr, bool) {
	idx, ok := h.bucketIndex(size)
	if !ok || h.buckets[idx] == nullOff {
		return 0, false
	}
	off := h.buckets[idx]
	c := h.chunkAt(off)
	h.buckets[idx] = c.nextFree
	c.inIndex = 0
	h.freeBytes -= c.size
	return off, true
}
