// Package wasi implements the extension runtime for WASM modules with typed
// per-method exports and system interfaces. Where the core sandbox gives a
// guest nothing but host functions, this adapter instantiates
// wasi_snapshot_preview1 and grants system access strictly from the
// extension's Permissions: filesystem rules become preopened mounts, env
// rules select which variables cross, and everything ungranted stays
// absent. WASI preview 1 has no socket surface, so a network grant cannot
// leak through it; network access still goes through host functions.
//
// The packed ptr/len ABI and the allocate convention match the core
// sandbox. Dispatch differs: instead of one generic handle export, the
// guest exports one function per capability method, plus initialize and
// capabilities. A method export receives the encoded params envelope and
// replies with a CallResultWire frame.
package wasi

import (
	"bytes"
	"context"
	"crypto/rand"
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
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/gantry-dev/gantry/application/discovery"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/hostfuncs"
	sandbox "github.com/gantry-dev/gantry/infrastructure/wazero"
	"github.com/gantry-dev/gantry/wireformat"
)

// Guest exports of the packed ABI. Capability methods are exported under
// their own names.
const (
	guestAllocate     = "allocate"
	guestInitialize   = "initialize"
	guestCapabilities = "capabilities"
	guestReactorInit  = "_initialize"
)

// stderrFlushBytes caps how much of a partial diagnostic line is buffered
// before it is flushed to the log anyway.
const stderrFlushBytes = 8 << 10

// Runtime runs WASI extensions. Each loaded extension gets its own engine
// instance, its own preopened filesystem view, and its own env set.
type Runtime struct {
	ids        *entities.IDSequence
	pipeline   *discovery.Pipeline
	registry   *hostfuncs.HandlerRegistry
	logger     *slog.Logger
	moduleName string
	maxRequest uint32
	custom     []sandbox.CustomHandler
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

// Option configures the WASI runtime.
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
func WithCustomHandler(h sandbox.CustomHandler) Option {
	return func(r *Runtime) {
		r.custom = append(r.custom, h)
	}
}

// NewRuntime creates the WASI adapter.
func NewRuntime(ids *entities.IDSequence, pipeline *discovery.Pipeline, registry *hostfuncs.HandlerRegistry, opts ...Option) (*Runtime, error) {
	if ids == nil {
		return nil, errors.New("wasi: nil id sequence")
	}
	if pipeline == nil {
		return nil, errors.New("wasi: nil discovery pipeline")
	}
	if registry == nil {
		return nil, errors.New("wasi: nil handler registry")
	}
	r := &Runtime{
		ids:        ids,
		pipeline:   pipeline,
		registry:   registry,
		logger:     slog.Default(),
		moduleName: sandbox.DefaultModuleName,
		maxRequest: hostfuncs.DefaultMaxRequestSize,
		exts:       make(map[entities.ExtensionID]*extension),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize prepares the shared compilation cache.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.cache = wazero.NewCompilationCache()
	return nil
}

// Load reads the module from disk, instantiates WASI and the host functions
// beside it, applies the permission grants, and runs the handshake.
func (r *Runtime) Load(ctx context.Context, config entities.ExtensionConfig) (entities.ExtensionID, error) {
	src := config.Source.Component
	if src == nil {
		return 0, &domerrors.InvalidSourceError{Field: "source", Reason: "wasi adapter requires a component source"}
	}

	limits := config.Limits.OrDefaults()

	code, err := os.ReadFile(src.Path)
	if err != nil {
		return 0, &domerrors.IOError{Err: err, Operation: "read module"}
	}

	rcfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(sandbox.MemoryPages(limits.MaxMemoryBytes)).
		WithCloseOnContextDone(true)
	if r.cache != nil {
		rcfg = rcfg.WithCompilationCache(r.cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	hostCfg := sandbox.HostModuleConfig{
		Name:           r.moduleName,
		MaxRequestSize: r.maxRequest,
		Logger:         r.logger.With("extension", config.Name),
		Custom:         r.custom,
	}
	if err := sandbox.RegisterHostModule(ctx, rt, r.registry, hostCfg); err != nil {
		_ = rt.Close(ctx)
		return 0, &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
	}

	mod, err := rt.InstantiateWithConfig(ctx, code, r.moduleConfig(config))
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

// moduleConfig translates the extension's permission grants into the guest's
// system view. Nothing is granted by default beyond wall clock and random,
// which WASI guests need for their runtime.
func (r *Runtime) moduleConfig(config entities.ExtensionConfig) wazero.ModuleConfig {
	logger := r.logger.With("extension", config.Name)
	cfg := wazero.NewModuleConfig().
		WithName(config.Name).
		WithStdout(&logWriter{logger: logger, stream: "stdout"}).
		WithStderr(&logWriter{logger: logger, stream: "stderr"}).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	if fsCfg := r.mountConfig(logger, config.Permissions); fsCfg != nil {
		cfg = cfg.WithFSConfig(fsCfg)
	}
	for _, name := range envAllowlist(config.Permissions) {
		if value, ok := os.LookupEnv(name); ok {
			cfg = cfg.WithEnv(name, value)
		}
	}
	return cfg
}

// mountConfig preopens the directories the filesystem rules name, read
// rules read-only and write rules read-write, each visible to the guest at
// its host path. Glob patterns cannot be preopened and are skipped.
func (r *Runtime) mountConfig(logger *slog.Logger, perms *entities.Permissions) wazero.FSConfig {
	read := perms.ReadPaths()
	write := perms.WritePaths()
	if len(read) == 0 && len(write) == 0 {
		return nil
	}

	fsCfg := wazero.NewFSConfig()
	mounted := false
	for _, p := range read {
		if strings.ContainsAny(p, "*?[") {
			logger.Warn("filesystem rule is not a mountable directory", "pattern", p)
			continue
		}
		fsCfg = fsCfg.WithReadOnlyDirMount(p, p)
		mounted = true
	}
	for _, p := range write {
		if strings.ContainsAny(p, "*?[") {
			logger.Warn("filesystem rule is not a mountable directory", "pattern", p)
			continue
		}
		fsCfg = fsCfg.WithDirMount(p, p)
		mounted = true
	}
	if !mounted {
		return nil
	}
	return fsCfg
}

func envAllowlist(perms *entities.Permissions) []string {
	if perms == nil || perms.Environment == nil {
		return nil
	}
	return perms.Environment.Variables
}

func (r *Runtime) handshake(ctx context.Context, ext *extension, config entities.ExtensionConfig) error {
	// Reactor-style modules run their constructors from _initialize.
	if init := ext.mod.ExportedFunction(guestReactorInit); init != nil {
		if _, err := init.Call(ctx); err != nil {
			return &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
		}
	}

	raw, err := r.callExport(ctx, ext, guestInitialize, config.Config)
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

// Call dispatches a capability method to the guest export of the same name.
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

	if ext.mod.ExportedFunction(method) == nil {
		return envelope.Envelope{}, &domerrors.MethodNotFoundError{Method: method, Extension: ext.name}
	}

	encoded, err := envelope.Encode(params)
	if err != nil {
		return envelope.Envelope{}, &domerrors.SerializationError{Err: err, Operation: "encode params envelope"}
	}

	raw, err := r.callExport(ctx, ext, method, encoded)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if len(raw) == 0 {
		return envelope.New(envelope.ContentTypeJSON, []byte("null")), nil
	}

	var result wireformat.CallResultWire
	if err := json.Unmarshal(raw, &result); err != nil {
		return envelope.Envelope{}, &domerrors.ProtocolError{Protocol: "wasi", Err: err, Msg: "malformed call result"}
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

// callExport invokes one guest export under the extension's call timeout,
// identical in mechanics to the core sandbox.
func (r *Runtime) callExport(ctx context.Context, ext *extension, export string, input []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, ext.timeout)
	defer cancel()
	callCtx = hostfuncs.WithExtensionName(callCtx, ext.name)

	ext.mu.Lock()
	defer ext.mu.Unlock()

	fn := ext.mod.ExportedFunction(export)
	if fn == nil {
		return nil, &domerrors.ProtocolError{Protocol: "wasi", Msg: fmt.Sprintf("guest does not export %q", export)}
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
			Protocol: "wasi",
			Msg:      fmt.Sprintf("result at %d+%d is outside guest memory", ptr, length),
		}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func writeGuest(ctx context.Context, mod api.Module, input []byte) (uint32, error) {
	allocate := mod.ExportedFunction(guestAllocate)
	if allocate == nil {
		return 0, &domerrors.ProtocolError{Protocol: "wasi", Msg: "guest does not export allocate"}
	}
	results, err := allocate.Call(ctx, uint64(len(input)))
	if err != nil || len(results) == 0 {
		return 0, &domerrors.ProtocolError{Protocol: "wasi", Err: err, Msg: "guest allocate failed"}
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are 32-bit
	if !mod.Memory().Write(ptr, input) {
		return 0, &domerrors.ProtocolError{Protocol: "wasi", Msg: "write params to guest memory"}
	}
	return ptr, nil
}

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

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: packed format stores 32-bit values
	return ptr, length
}

// Unload tears the sandbox down, releasing its memory and preopens.
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

// logWriter forwards guest stdout or stderr to the host log, one line per
// record. Partial lines are buffered until their newline arrives or the
// buffer grows past stderrFlushBytes.
type logWriter struct {
	logger *slog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimRight(string(w.buf[:i]), "\r"); line != "" {
			w.logger.Info("extension "+w.stream, "line", line)
		}
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > stderrFlushBytes {
		w.logger.Info("extension "+w.stream, "line", string(w.buf), "truncated", true)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}
