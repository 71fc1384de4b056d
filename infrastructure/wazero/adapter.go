package wazero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/gantry-dev/gantry/application/discovery"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/hostfuncs"
	"github.com/gantry-dev/gantry/wireformat"
)

// Guest exports of the packed ABI.
const (
	guestAllocate     = "allocate"
	guestInitialize   = "initialize"
	guestCapabilities = "capabilities"
	guestHandle       = "handle"
	guestReactorInit  = "_initialize"
)

const wasmPageSize = 64 * 1024

// Runtime runs extensions compiled to core WASM. Each loaded extension gets
// its own engine instance so its memory ceiling is enforced at
// instantiation, not policed after the fact.
type Runtime struct {
	ids        *entities.IDSequence
	pipeline   *discovery.Pipeline
	registry   *hostfuncs.HandlerRegistry
	logger     *slog.Logger
	moduleName string
	maxRequest uint32
	custom     []CustomHandler
	cache      wazero.CompilationCache

	mu   sync.RWMutex
	exts map[entities.ExtensionID]*extension
}

type extension struct {
	name     string
	rt       wazero.Runtime
	mod      api.Module
	manifest entities.ExtensionManifest
	caps     []entities.Capability
	schemas  *discovery.SchemaIndex
	timeout  time.Duration

	// Guest linear memory is single threaded; calls serialize per extension.
	mu sync.Mutex
}

// Option configures the WASM runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithModuleName overrides the host import module name guests link against.
func WithModuleName(name string) Option {
	return func(r *Runtime) {
		if name != "" {
			r.moduleName = name
		}
	}
}

// WithMaxRequestSize caps host function payloads read from guest memory.
func WithMaxRequestSize(size uint32) Option {
	return func(r *Runtime) {
		if size > 0 {
			r.maxRequest = size
		}
	}
}

// WithCustomHandler adds a raw host export alongside the registry handlers.
func WithCustomHandler(h CustomHandler) Option {
	return func(r *Runtime) {
		r.custom = append(r.custom, h)
	}
}

// NewRuntime creates the WASM sandbox adapter. The registry defines the host
// function surface every guest sees; an empty registry is a guest that can
// only compute.
func NewRuntime(ids *entities.IDSequence, pipeline *discovery.Pipeline, registry *hostfuncs.HandlerRegistry, opts ...Option) (*Runtime, error) {
	if ids == nil {
		return nil, errors.New("wazero: nil id sequence")
	}
	if pipeline == nil {
		return nil, errors.New("wazero: nil discovery pipeline")
	}
	if registry == nil {
		return nil, errors.New("wazero: nil handler registry")
	}
	r := &Runtime{
		ids:        ids,
		pipeline:   pipeline,
		registry:   registry,
		logger:     slog.Default(),
		moduleName: DefaultModuleName,
		maxRequest: hostfuncs.DefaultMaxRequestSize,
		exts:       make(map[entities.ExtensionID]*extension),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize prepares the shared compilation cache so reloading a module,
// supervised restarts included, skips recompilation.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.cache = wazero.NewCompilationCache()
	return nil
}

// Load reads the module from disk, instantiates it in a fresh sandbox with
// the host functions registered, and runs the handshake.
func (r *Runtime) Load(ctx context.Context, config entities.ExtensionConfig) (entities.ExtensionID, error) {
	src := config.Source.Wasm
	if src == nil {
		return 0, &domerrors.InvalidSourceError{Field: "source", Reason: "wasm adapter requires a wasm source"}
	}

	limits := config.Limits.OrDefaults()

	code, err := os.ReadFile(src.Path)
	if err != nil {
		return 0, &domerrors.IOError{Err: err, Operation: "read module"}
	}

	rcfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(MemoryPages(limits.MaxMemoryBytes)).
		WithCloseOnContextDone(true)
	if r.cache != nil {
		rcfg = rcfg.WithCompilationCache(r.cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	hostCfg := HostModuleConfig{
		Name:           r.moduleName,
		MaxRequestSize: r.maxRequest,
		Logger:         r.logger.With("extension", config.Name),
		Custom:         r.custom,
	}
	if err := RegisterHostModule(ctx, rt, r.registry, hostCfg); err != nil {
		_ = rt.Close(ctx)
		return 0, &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
	}

	mod, err := rt.InstantiateWithConfig(ctx, code, wazero.NewModuleConfig().WithName(config.Name))
	if err != nil {
		_ = rt.Close(ctx)
		return 0, &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
	}

	ext := &extension{
		name:    config.Name,
		rt:      rt,
		mod:     mod,
		timeout: limits.CallTimeout,
	}

	if err := r.handshake(ctx, ext, config); err != nil {
		_ = rt.Close(ctx)
		return 0, err
	}

	id := r.ids.Next()
	r.mu.Lock()
	r.exts[id] = ext
	r.mu.Unlock()

	r.logger.Info("extension loaded", "extension", config.Name, "id", uint64(id),
		"module", src.Path, "capabilities", len(ext.caps))
	return id, nil
}

func (r *Runtime) handshake(ctx context.Context, ext *extension, config entities.ExtensionConfig) error {
	// Reactor-style modules run their constructors from _initialize.
	if init := ext.mod.ExportedFunction(guestReactorInit); init != nil {
		if _, err := init.Call(ctx); err != nil {
			return &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
		}
	}

	// initialize always takes (ptr, len); an absent init config travels as
	// JSON null so the export arity stays fixed.
	initCfg := config.Config
	if len(initCfg) == 0 {
		initCfg = []byte("null")
	}
	raw, err := r.callExport(ctx, ext, guestInitialize, initCfg)
	if err != nil {
		return &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
	}
	manifest, err := r.pipeline.DecodeInitializeResult(raw)
	if err != nil {
		return err
	}

	raw, err = r.callExport(ctx, ext, guestCapabilities, nil)
	if err != nil {
		return &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
	}
	caps, schemas, err := r.pipeline.DecodeCapabilities(raw)
	if err != nil {
		return err
	}

	ext.manifest = manifest
	ext.caps = caps
	ext.schemas = schemas
	return nil
}

// Call dispatches one capability method through the guest's handle export.
// The whole params envelope travels, so non-JSON content types are allowed;
// schema checks apply only to JSON params.
func (r *Runtime) Call(ctx context.Context, id entities.ExtensionID, method string, params envelope.Envelope) (envelope.Envelope, error) {
	ext, err := r.get(id)
	if err != nil {
		return envelope.Envelope{}, err
	}

	if params.IsJSON() {
		if err := ext.schemas.ValidateParams(method, params.Content); err != nil {
			return envelope.Envelope{}, err
		}
	}

	encoded, err := envelope.Encode(params)
	if err != nil {
		return envelope.Envelope{}, &domerrors.SerializationError{Err: err, Operation: "encode params envelope"}
	}
	body, err := json.Marshal(wireformat.CallRequestWire{Method: method, Params: encoded})
	if err != nil {
		return envelope.Envelope{}, &domerrors.SerializationError{Err: err, Operation: "encode call request"}
	}

	raw, err := r.callExport(ctx, ext, guestHandle, body)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if len(raw) == 0 {
		return envelope.New(envelope.ContentTypeJSON, []byte("null")), nil
	}

	var result wireformat.CallResultWire
	if err := json.Unmarshal(raw, &result); err != nil {
		return envelope.Envelope{}, &domerrors.ProtocolError{Protocol: "wasm", Err: err, Msg: "malformed call result"}
	}
	if result.Error != nil {
		return envelope.Envelope{}, classifyStringError(*result.Error)
	}
	if len(result.Result) == 0 {
		return envelope.New(envelope.ContentTypeJSON, []byte("null")), nil
	}

	env, err := envelope.Decode(result.Result)
	if err != nil {
		return envelope.Envelope{}, &domerrors.SerializationError{Err: err, Operation: "decode result envelope"}
	}
	return env, nil
}

// callExport invokes one guest export under the extension's call timeout.
// Input is placed in guest memory through allocate; the packed result is
// copied back out before the next call can reuse the memory.
func (r *Runtime) callExport(ctx context.Context, ext *extension, export string, input []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, ext.timeout)
	defer cancel()
	// Host functions invoked from inside this call can attribute themselves.
	callCtx = hostfuncs.WithExtensionName(callCtx, ext.name)

	ext.mu.Lock()
	defer ext.mu.Unlock()

	fn := ext.mod.ExportedFunction(export)
	if fn == nil {
		return nil, &domerrors.ProtocolError{Protocol: "wasm", Msg: fmt.Sprintf("guest does not export %q", export)}
	}

	var results []uint64
	var err error
	if len(input) == 0 {
		results, err = fn.Call(callCtx)
	} else {
		ptr, werr := writeGuest(callCtx, ext.mod, input)
		if werr != nil {
			return nil, werr
		}
		results, err = fn.Call(callCtx, uint64(ptr), uint64(len(input)))
	}
	if err != nil {
		return nil, mapCallError(callCtx, err, export, ext)
	}
	if len(results) == 0 || results[0] == 0 {
		return nil, nil
	}

	ptr, length := unpackPtrLen(results[0])
	data, ok := ext.mod.Memory().Read(ptr, length)
	if !ok {
		return nil, &domerrors.ProtocolError{
			Protocol: "wasm",
			Msg:      fmt.Sprintf("result at %d+%d is outside guest memory", ptr, length),
		}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// writeGuest places input into guest memory via the allocate export and
// returns its pointer.
func writeGuest(ctx context.Context, mod api.Module, input []byte) (uint32, error) {
	allocate := mod.ExportedFunction(guestAllocate)
	if allocate == nil {
		return 0, &domerrors.ProtocolError{Protocol: "wasm", Msg: "guest does not export allocate"}
	}
	results, err := allocate.Call(ctx, uint64(len(input)))
	if err != nil || len(results) == 0 {
		return 0, &domerrors.ProtocolError{Protocol: "wasm", Err: err, Msg: "guest allocate failed"}
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are 32-bit
	if !mod.Memory().Write(ptr, input) {
		return 0, &domerrors.ProtocolError{Protocol: "wasm", Msg: "write params to guest memory"}
	}
	return ptr, nil
}

// mapCallError turns a failed guest call into a domain error. A deadline
// closes the module mid-call, so the timeout wins over the trap it causes.
func mapCallError(ctx context.Context, err error, export string, ext *extension) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &domerrors.TimeoutError{Operation: export, Extension: ext.name, Duration: ext.timeout}
	case errors.Is(ctx.Err(), context.Canceled):
		return context.Canceled
	default:
		return &domerrors.ExtensionError{Msg: fmt.Sprintf("%s trapped: %v", export, err)}
	}
}

// classifyStringError maps the plain-string error of the call result frame
// back into the taxonomy.
func classifyStringError(msg string) error {
	if rest, ok := strings.CutPrefix(msg, wireformat.MethodNotFoundPrefix); ok {
		method := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		return &domerrors.MethodNotFoundError{Method: method}
	}
	return &domerrors.ExtensionError{Msg: msg}
}

// Unload tears the sandbox down, releasing its memory.
func (r *Runtime) Unload(ctx context.Context, id entities.ExtensionID) error {
	r.mu.Lock()
	ext, ok := r.exts[id]
	if ok {
		delete(r.exts, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := ext.rt.Close(ctx); err != nil {
		r.logger.Warn("closing sandbox failed", "extension", ext.name, "error", err)
	}
	r.logger.Info("extension unloaded", "extension", ext.name, "id", uint64(id))
	return nil
}

// Capabilities serves the capability set cached at load time.
func (r *Runtime) Capabilities(id entities.ExtensionID) ([]entities.Capability, error) {
	ext, err := r.get(id)
	if err != nil {
		return nil, err
	}
	out := make([]entities.Capability, len(ext.caps))
	copy(out, ext.caps)
	return out, nil
}

// Manifest serves the self-description cached at load time.
func (r *Runtime) Manifest(id entities.ExtensionID) (entities.ExtensionManifest, error) {
	ext, err := r.get(id)
	if err != nil {
		return entities.ExtensionManifest{}, err
	}
	return ext.manifest, nil
}

// HealthCheck probes the guest with a capabilities round trip. A module
// closed by an earlier deadline reports offline without a call.
func (r *Runtime) HealthCheck(ctx context.Context, id entities.ExtensionID) entities.HealthReport {
	ext, err := r.get(id)
	if err != nil {
		return entities.Offline("not loaded")
	}
	if ext.mod.IsClosed() {
		return entities.Offline("module closed")
	}

	start := time.Now()
	if _, err := r.callExport(ctx, ext, guestCapabilities, nil); err != nil {
		return entities.Offline(err.Error())
	}
	return entities.Healthy(time.Since(start))
}

func (r *Runtime) get(id entities.ExtensionID) (*extension, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.exts[id]
	if !ok {
		return nil, &domerrors.NotFoundError{ID: id}
	}
	return ext, nil
}

// MemoryPages converts a byte ceiling into 64 KiB WASM pages, rounding up.
// The engine caps linear memory at this many pages, so a guest that grows
// past its limit traps instead of growing.
func MemoryPages(limitBytes uint64) uint32 {
	pages := (limitBytes + wasmPageSize - 1) / wasmPageSize
	if pages == 0 {
		pages = 1
	}
	if pages > 65536 { // 4 GiB, the 32-bit linear memory maximum
		pages = 65536
	}
	return uint32(pages)
}
