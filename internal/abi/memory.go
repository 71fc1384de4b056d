//go:build wasip1

package abi

import (
	"fmt"
	"sync"
	"unsafe"
)

// pins holds every live allocation handed across the boundary. Keeping the
// slice referenced stops the Go GC from moving or collecting it while the
// host still reads through the raw pointer.
var pins = struct {
	sync.Mutex
	bufs  map[uint32][]byte
	total int
}{bufs: make(map[uint32][]byte)}

// allocate reserves guest memory the host writes request payloads into.
//
//go:wasmexport allocate
func allocate(size uint32) uint32 {
	if size == 0 {
		return 0
	}

	pins.Lock()
	defer pins.Unlock()

	if pins.total+int(size) > MaxTotalBytes {
		panic(fmt.Sprintf("abi: allocation of %d bytes exceeds %d byte limit (%d pinned)",
			size, MaxTotalBytes, pins.total))
	}

	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	pins.bufs[ptr] = buf
	pins.total += int(size)
	return ptr
}

// deallocate releases one allocation. Unknown pointers are ignored, so a
// double free is harmless. Accounting uses the pinned length, not the
// caller's size argument.
//
//go:wasmexport deallocate
func deallocate(ptr, size uint32) {
	pins.Lock()
	defer pins.Unlock()

	buf, ok := pins.bufs[ptr]
	if !ok {
		return
	}
	delete(pins.bufs, ptr)
	pins.total -= len(buf)
	if pins.total < 0 {
		pins.total = 0
	}
}

// PtrFromBytes pins a copy of data in guest memory and returns the packed
// pointer the host reads it through. The caller releases it with
// ReleasePacked once the crossing is complete.
func PtrFromBytes(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	size := uint32(len(data))
	ptr := allocate(size)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(data))
	copy(dst, data)
	return PackPtrLen(ptr, size)
}

// BytesFromPtr copies the bytes a packed value points at out of linear
// memory. The returned slice is owned by the caller and survives the
// underlying allocation being released.
func BytesFromPtr(packed uint64) []byte {
	ptr, length := UnpackPtrLen(packed)
	if ptr == 0 || length == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
	out := make([]byte, length)
	copy(out, src)
	return out
}

// ReleasePacked frees the allocation behind a packed value. Zero values and
// already-released pointers are no-ops.
func ReleasePacked(packed uint64) {
	ptr, length := UnpackPtrLen(packed)
	if ptr != 0 {
		deallocate(ptr, length)
	}
}

// FreeAll drops every pinned allocation. Called on panic recovery so a
// crashed handler does not leak its in-flight buffers.
func FreeAll() {
	pins.Lock()
	defer pins.Unlock()
	pins.bufs = make(map[uint32][]byte)
	pins.total = 0
}
