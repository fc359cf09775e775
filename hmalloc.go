package hmalloc

import (
	"sync"
	"unsafe"

	"github.com/QuangTung97/hmalloc/heap"
	"github.com/QuangTung97/hmalloc/seg"
)

// DefaultCapacity is the address-space reservation backing the
// process-wide allocator.
const DefaultCapacity = 1 << 30

// Allocator serialises every operation of a Heap behind one mutex. The
// four methods follow the C runtime allocator contract, so an Allocator
// can stand in for the system one.
type Allocator struct {
	mu   sync.Mutex
	seg  seg.Segment
	heap *heap.Heap
}

// New ...
func New(segment seg.Segment, conf heap.Config) *Allocator {
	return &Allocator{
		seg:  segment,
		heap: heap.New(segment, conf),
	}
}

func (a *Allocator) ptr(payload uintptr) unsafe.Pointer {
	return unsafe.Add(a.seg.At(0), payload)
}

func (a *Allocator) payload(p unsafe.Pointer) uintptr {
	return uintptr(p) - uintptr(a.seg.At(0))
}

// Malloc returns size bytes of uninitialised memory, nil when the segment
// is exhausted. A zero size still returns a valid, freeable pointer.
func (a *Allocator) Malloc(size uintptr) unsafe.Pointer {
	a.mu.Lock()
	payload, ok := a.heap.Allocate(size)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.ptr(payload)
}

// Calloc returns zeroed memory for n elements of size bytes each, nil when
// the product overflows or the segment is exhausted.
func (a *Allocator) Calloc(n uintptr, size uintptr) unsafe.Pointer {
	a.mu.Lock()
	payload, ok := a.heap.AllocateZeroed(n, size)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.ptr(payload)
}

// Realloc resizes p to size bytes, preserving the leading bytes. A nil p
// behaves as Malloc. On failure nil is returned and p stays valid.
func (a *Allocator) Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		return a.Malloc(size)
	}
	a.mu.Lock()
	payload, ok := a.heap.Reallocate(a.payload(p), size)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.ptr(payload)
}

// Free releases p. A nil p is a no-op, so is releasing p twice.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	a.mu.Lock()
	a.heap.Release(a.payload(p))
	a.mu.Unlock()
}

// Stats ...
func (a *Allocator) Stats() heap.Stats {
	a.mu.Lock()
	s := a.heap.Stats()
	a.mu.Unlock()
	return s
}

// Bytes returns the payload of p as a byte slice of length n. The slice
// aliases the allocator memory and must not be used after p is freed.
func Bytes(p unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(p), n)
}

var (
	globalOnce sync.Once
	global     *Allocator
)

func defaultAllocator() *Allocator {
	globalOnce.Do(func() {
		segment, err := seg.Default(DefaultCapacity)
		if err != nil {
			panic(err)
		}
		global = New(segment, heap.Config{})
	})
	return global
}

// Malloc ...
func Malloc(size uintptr) unsafe.Pointer {
	return defaultAllocator().Malloc(size)
}

// Calloc ...
func Calloc(n uintptr, size uintptr) unsafe.Pointer {
	return defaultAllocator().Calloc(n, size)
}

// Realloc ...
func Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	return defaultAllocator().Realloc(p, size)
}

// Free ...
func Free(p unsafe.Pointer) {
	defaultAllocator().Free(p)
}
