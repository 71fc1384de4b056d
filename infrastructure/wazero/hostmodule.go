package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/gantry-dev/gantry/hostfuncs"
)

// DefaultModuleName is the import module name guests link against. The
// guest SDK hard-codes it in its wasmimport directives, so changing it
// breaks every compiled extension.
const DefaultModuleName = "gantry_host"

// HostModuleConfig describes the host function module instantiated into a
// guest's runtime. The zero value is usable; empty fields take defaults.
type HostModuleConfig struct {
	// Name is the import module name (default: DefaultModuleName).
	Name string

	// MaxRequestSize caps payloads read out of guest memory per call.
	// Default is hostfuncs.DefaultMaxRequestSize.
	MaxRequestSize uint32

	// Logger receives diagnostics for guest-side ABI violations.
	Logger *slog.Logger

	// Custom adds exports that do not follow the packed request/response
	// pattern, such as handlers with no return value.
	Custom []CustomHandler
}

// CustomHandler is a raw wazero export for the rare host function that
// cannot be expressed as a byte-in byte-out handler.
type CustomHandler struct {
	// Name is the exported function name.
	Name string

	// Handler is the wazero GoModuleFunc implementation.
	Handler api.GoModuleFunc

	// ParamTypes are the WASM parameter types.
	ParamTypes []api.ValueType

	// ResultTypes are the WASM result types.
	ResultTypes []api.ValueType
}

// RegisterHostModule instantiates the host function module into rt, exporting
// every handler in the registry plus any custom handlers.
//
// Each registry export is wrapped to:
//
//   - Unpack the (ptr, len) request from the packed i64 argument
//   - Read the request bytes from guest memory
//   - Invoke the named handler
//   - Allocate guest memory through the "allocate" export and write the
//     response there
//   - Return the response location as a packed i64
//
// Handler failures never trap the sandbox: they surface to the guest as
// hostfuncs.ErrorResponse JSON payloads.
func RegisterHostModule(ctx context.Context, rt wazero.Runtime, registry *hostfuncs.HandlerRegistry, cfg HostModuleConfig) error {
	if registry == nil {
		return fmt.Errorf("wazero: nil handler registry")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultModuleName
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = hostfuncs.DefaultMaxRequestSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	builder := rt.NewHostModuleBuilder(cfg.Name)

	for _, name := range registry.Names() {
		funcName := name // capture for closure
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				handleHostCall(ctx, mod, stack, registry, funcName, cfg)
			}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
			Export(funcName)
	}

	for _, ch := range cfg.Custom {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// handleHostCall services one host function invocation from a guest.
func handleHostCall(ctx context.Context, mod api.Module, stack []uint64, registry *hostfuncs.HandlerRegistry, name string, cfg HostModuleConfig) {
	ptr, length := unpackPtrLen(stack[0])

	if length > cfg.MaxRequestSize {
		errMsg := fmt.Sprintf("request size %d exceeds maximum %d bytes", length, cfg.MaxRequestSize)
		cfg.Logger.ErrorContext(ctx, "host call rejected", "function", name, "error", errMsg)
		stack[0] = writeErrorResponse(ctx, mod, hostfuncs.NewValidationError(errMsg))
		return
	}

	requestBytes, ok := mod.Memory().Read(ptr, length)
	if !ok {
		cfg.Logger.ErrorContext(ctx, "host call request unreadable", "function", name, "ptr", ptr, "len", length)
		stack[0] = writeErrorResponse(ctx, mod, hostfuncs.NewInternalError("failed to read request from guest memory"))
		return
	}

	responseBytes, err := registry.Invoke(ctx, name, requestBytes)
	if err != nil {
		cfg.Logger.ErrorContext(ctx, "host function failed", "function", name, "error", err)
		stack[0] = writeErrorResponse(ctx, mod, hostfuncs.NewInternalError(err.Error()))
		return
	}

	stack[0] = writeResponse(ctx, mod, responseBytes)
}

// writeResponse allocates guest memory and writes data there, returning the
// packed location, or 0 when the guest cannot receive it.
func writeResponse(ctx context.Context, mod api.Module, data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}

	allocate := mod.ExportedFunction(guestAllocate)
	if allocate == nil {
		return 0
	}

	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are 32-bit

	if !mod.Memory().Write(ptr, data) {
		return 0
	}

	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: length bounded by MaxRequestSize
}

func writeErrorResponse(ctx context.Context, mod api.Module, errResp hostfuncs.ErrorResponse) uint64 {
	return writeResponse(ctx, mod, errResp.ToJSON())
}

// packPtrLen packs a pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen unpacks a pointer and length from a packed i64.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: packed format stores 32-bit values
	return ptr, length
}
