// Package wazero implements the extension runtime for sandboxed core WASM
// modules. Engine types stay inside this package and its wasi sibling;
// everything above them speaks envelopes and ports.
//
// The sandbox is pure compute: no WASI, no filesystem, no clock, no
// sockets. A guest's entire view of the world is the gantry_host import
// module built from a hostfuncs.HandlerRegistry, so the host function
// surface is also the permission surface.
//
// The ABI between host and guest is deliberately small:
//
//   - Every host import and guest export moves one byte payload.
//   - A payload is passed as (ptr, len) in linear memory; results come back
//     as one packed i64, pointer in the upper 32 bits, length in the lower.
//   - The guest exports "allocate" so the host can place bytes into guest
//     memory before a call and the guest can own the layout.
//
// Guests export "initialize" and "capabilities" for the load handshake and
// one generic "handle" export through which every capability method is
// dispatched as a CallRequestWire frame. Memory is capped at instantiation
// from the extension's resource limits, and call deadlines close the module
// mid-flight, so a runaway guest costs one extension, never the host.
package wazero
