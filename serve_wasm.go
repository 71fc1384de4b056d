//go:build wasip1

package gantry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gantry-dev/gantry/internal/abi"
)

// served is the extension bound by Serve. Guests are single threaded, so a
// plain variable carries it.
var served *Extension

// pending is the packed reply of the previous export call. The host copies
// the bytes out before calling again, so each call releases its
// predecessor's buffer.
var pending uint64

// Serve binds the extension to the module exports. Call it from a package
// init function; under c-shared builds main never runs. Handlers registered
// after Serve still dispatch, but at least one must exist up front because
// hosts reject capability-less extensions.
func Serve(e *Extension) {
	if e == nil {
		panic("gantry: Serve(nil)")
	}
	if served != nil {
		panic("gantry: Serve called twice")
	}
	if len(e.Capabilities()) == 0 {
		panic("gantry: no handlers registered")
	}
	served = e
}

//go:wasmexport initialize
func guestInitialize(ptr, size uint32) uint64 {
	return reply(mustServed().Initialize(context.Background(), takeInput(ptr, size)))
}

//go:wasmexport capabilities
func guestCapabilities() uint64 {
	out, err := json.Marshal(mustServed().Capabilities())
	if err != nil {
		panic(fmt.Sprintf("gantry: encode capabilities: %v", err))
	}
	return reply(out)
}

//go:wasmexport handle
func guestHandle(ptr, size uint32) uint64 {
	return reply(mustServed().Dispatch(context.Background(), takeInput(ptr, size)))
}

func mustServed() *Extension {
	if served == nil {
		panic("gantry: Serve was never called")
	}
	return served
}

// takeInput copies the request buffer the host wrote through allocate and
// releases the allocation.
func takeInput(ptr, size uint32) []byte {
	if ptr == 0 || size == 0 {
		return nil
	}
	packed := abi.PackPtrLen(ptr, size)
	data := abi.BytesFromPtr(packed)
	abi.ReleasePacked(packed)
	return data
}

func reply(data []byte) uint64 {
	if pending != 0 {
		abi.ReleasePacked(pending)
		pending = 0
	}
	if len(data) == 0 {
		return 0
	}
	pending = abi.PtrFromBytes(data)
	return pending
}
