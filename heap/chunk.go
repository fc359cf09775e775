package heap

import "unsafe"

// chunk is the header preceding every payload. Headers are never allocated
// as Go objects: they live inside the segment and are viewed through
// chunkAt. All raw pointer arithmetic of the package is confined to this
// file.
type chunk struct {
	inIndex  uint32
	free     uint32
	size     uintptr // payload bytes, excluding the header
	prev     uintptr // address-ordered neighbours, nullOff at the ends
	next     uintptr
	nextFree uintptr // bucket chain, meaningful only while inIndex is set
}

const headerSize = unsafe.Sizeof(chunk{})

// nullOff terminates both the heap links and the bucket chains. Offset zero
// is a valid chunk, the null value must live outside the segment.
const nullOff = ^uintptr(0)

func (h *Heap) chunkAt(off uintptr) *chunk {
	return (*chunk)(h.seg.At(off))
}

func payloadOf(off uintptr) uintptr {
	return off + headerSize
}

func chunkOf(payload uintptr) uintptr {
	return payload - headerSize
}

// bytesAt returns the n payload bytes starting at offset off.
func (h *Heap) bytesAt(off uintptr, n uintptr) []byte {
	return unsafe.Slice((*byte)(h.seg.At(off)), n)
}
