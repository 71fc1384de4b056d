package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackPtrLen_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		ptr    uint32
		length uint32
	}{
		{name: "zero value", ptr: 0, length: 0},
		{name: "small payload", ptr: 1024, length: 16},
		{name: "page aligned", ptr: 65536, length: 4096},
		{name: "max pointer and length", ptr: 0xFFFFFFFF, length: 0xFFFFFFFF},
		{name: "pointer without length", ptr: 2048, length: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := PackPtrLen(tt.ptr, tt.length)
			ptr, length := UnpackPtrLen(packed)
			assert.Equal(t, tt.ptr, ptr)
			assert.Equal(t, tt.length, length)
		})
	}
}

func TestPackPtrLen_Layout(t *testing.T) {
	packed := PackPtrLen(0x00000001, 0x00000002)
	assert.Equal(t, uint64(0x0000000100000002), packed)
}

func TestPackPtrLen_NullPointerWithLength(t *testing.T) {
	assert.Panics(t, func() { PackPtrLen(0, 8) })
	assert.Panics(t, func() { UnpackPtrLen(8) })
}

func BenchmarkPackUnpack(b *testing.B) {
	for i := 0; i < b.N; i++ {
		packed := PackPtrLen(4096, 128)
		ptr, length := UnpackPtrLen(packed)
		_, _ = ptr, length
	}
}
