// Package abi implements the packed pointer convention guests share with
// the host. Every boundary crossing moves one (ptr, len) pair packed into a
// single uint64: pointer in the high 32 bits, length in the low 32.
package abi

import "fmt"

// MaxTotalBytes caps the memory the guest may hold pinned for the host at
// any moment. Crossing it is a guest bug and traps the module.
const MaxTotalBytes = 100 * 1024 * 1024

// PackPtrLen packs a guest pointer and length into the wire form. A null
// pointer with a non-zero length is malformed and panics.
func PackPtrLen(ptr, length uint32) uint64 {
	if ptr == 0 && length > 0 {
		panic(fmt.Sprintf("abi: pack null pointer with length %d", length))
	}
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed value back into pointer and length. A null
// pointer with a non-zero length is malformed and panics.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)
	length = uint32(packed)
	if ptr == 0 && length > 0 {
		panic(fmt.Sprintf("abi: unpack null pointer with length %d", length))
	}
	return ptr, length
}
