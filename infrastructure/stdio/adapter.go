// Package stdio implements the extension runtime over child processes
// exchanging newline-delimited JSON on their standard streams. The dialect
// is deliberately small: requests are `{"id", "method", "params"}` lines,
// replies carry `result` or a plain-string `error`, and a request without
// an id is a notification the child must not answer. This transport moves
// application/json content only; envelope headers stop at the adapter.
package stdio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gantry-dev/gantry/application/discovery"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/wireformat"
)

// DefaultGracePeriod is how long a child gets between SIGTERM and SIGKILL.
const DefaultGracePeriod = 3 * time.Second

// Runtime runs process extensions over stdio. One Runtime serves every
// extension of the protocol; each loaded extension owns one child process
// and one connection.
type Runtime struct {
	launcher ports.ProcessLauncher
	ids      *entities.IDSequence
	pipeline *discovery.Pipeline
	logger   *slog.Logger

	grace            time.Duration
	maxLine          int
	watchdogInterval time.Duration

	mu   sync.RWMutex
	exts map[entities.ExtensionID]*extension
}

type extension struct {
	name     string
	conn     *conn
	manifest entities.ExtensionManifest
	caps     []entities.Capability
	schemas  *discovery.SchemaIndex
	timeout  time.Duration

	stopWatchdog context.CancelFunc
}

// Option configures the stdio runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithGracePeriod sets the SIGTERM-to-SIGKILL window used on unload.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithMaxLineBytes caps the length of one reply line from the child.
func WithMaxLineBytes(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// WithWatchdogInterval sets how often the memory watchdog samples child
// RSS.
func WithWatchdogInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.watchdogInterval = d
		}
	}
}

// NewRuntime creates the stdio adapter. The id sequence is shared with the
// manager so every adapter mints from one number line.
func NewRuntime(launcher ports.ProcessLauncher, ids *entities.IDSequence, pipeline *discovery.Pipeline, opts ...Option) (*Runtime, error) {
	if launcher == nil {
		return nil, errors.New("stdio: nil launcher")
	}
	if ids == nil {
		return nil, errors.New("stdio: nil id sequence")
	}
	if pipeline == nil {
		return nil, errors.New("stdio: nil discovery pipeline")
	}
	r := &Runtime{
		launcher:         launcher,
		ids:              ids,
		pipeline:         pipeline,
		logger:           slog.Default(),
		grace:            DefaultGracePeriod,
		maxLine:          DefaultMaxLineBytes,
		watchdogInterval: time.Second,
		exts:             make(map[entities.ExtensionID]*extension),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize implements ports.ExtensionRuntime. Stdio needs no shared
// setup.
func (r *Runtime) Initialize(ctx context.Context) error { return nil }

// Load spawns the child, runs the initialize and capabilities handshake
// under the configured call timeout, and registers the extension. Any
// handshake failure tears the child down before returning.
func (r *Runtime) Load(ctx context.Context, config entities.ExtensionConfig) (entities.ExtensionID, error) {
	src := config.Source.Process
	if src == nil {
		return 0, &domerrors.InvalidSourceError{Field: "source", Reason: "stdio adapter requires a process source"}
	}

	limits := config.Limits.OrDefaults()
	logger := r.logger.With("extension", config.Name)

	handle, err := r.launcher.Launch(ctx, ports.ProcessSpec{
		Command: src.Command,
		Args:    src.Args,
		Dir:     src.Dir,
		Env:     childEnv(src.Env),
	})
	if err != nil {
		return 0, &domerrors.IOError{Err: err, Operation: "launch"}
	}

	c := newConn(handle, logger, r.maxLine)

	manifest, caps, schemas, err := r.handshake(ctx, c, config, limits.CallTimeout)
	if err != nil {
		c.close(context.Background(), r.grace)
		return 0, err
	}

	ext := &extension{
		name:     config.Name,
		conn:     c,
		manifest: manifest,
		caps:     caps,
		schemas:  schemas,
		timeout:  limits.CallTimeout,
	}

	if limits.MaxMemoryBytes > 0 {
		wctx, cancel := context.WithCancel(context.Background())
		ext.stopWatchdog = cancel
		go r.watchMemory(wctx, logger, c, handle.PID(), limits.MaxMemoryBytes)
	}

	id := r.ids.Next()
	r.mu.Lock()
	r.exts[id] = ext
	r.mu.Unlock()

	logger.Info("extension loaded", "id", uint64(id), "pid", handle.PID(), "capabilities", len(caps))
	return id, nil
}

func (r *Runtime) handshake(ctx context.Context, c *conn, config entities.ExtensionConfig, timeout time.Duration) (entities.ExtensionManifest, []entities.Capability, *discovery.SchemaIndex, error) {
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.call(initCtx, wireformat.MethodInitialize, config.Config)
	if err != nil {
		return entities.ExtensionManifest{}, nil, nil, &domerrors.InitializationFailedError{
			Extension: config.Name,
			Err:       mapCallError(err, "initialize", config.Name, timeout),
		}
	}
	manifest, err := r.pipeline.DecodeInitializeResult(raw)
	if err != nil {
		return entities.ExtensionManifest{}, nil, nil, err
	}

	capsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err = c.call(capsCtx, wireformat.MethodCapabilities, nil)
	if err != nil {
		return entities.ExtensionManifest{}, nil, nil, &domerrors.InitializationFailedError{
			Extension: config.Name,
			Err:       mapCallError(err, "capabilities", config.Name, timeout),
		}
	}
	caps, schemas, err := r.pipeline.DecodeCapabilities(raw)
	if err != nil {
		return entities.ExtensionManifest{}, nil, nil, err
	}
	return manifest, caps, schemas, nil
}

// Call invokes one method. Params must carry application/json content;
// declared parameter schemas are enforced before anything reaches the
// child. The per-extension call timeout applies on top of the caller's
// context.
func (r *Runtime) Call(ctx context.Context, id entities.ExtensionID, method string, params envelope.Envelope) (envelope.Envelope, error) {
	ext, err := r.get(id)
	if err != nil {
		return envelope.Envelope{}, err
	}

	content := params.Content
	if len(content) > 0 && !params.IsJSON() {
		return envelope.Envelope{}, &domerrors.SerializationError{
			Err:       fmt.Errorf("content type %q", params.ContentType),
			Operation: "encode stdio params",
		}
	}
	if err := ext.schemas.ValidateParams(method, content); err != nil {
		return envelope.Envelope{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, ext.timeout)
	defer cancel()

	raw, err := ext.conn.call(callCtx, method, content)
	if err != nil {
		return envelope.Envelope{}, mapCallError(err, method, ext.name, ext.timeout)
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	return envelope.New(envelope.ContentTypeJSON, raw), nil
}

// Unload tears the extension down: SIGTERM, grace, SIGKILL. It never fails
// because the child already died.
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

	if ext.stopWatchdog != nil {
		ext.stopWatchdog()
	}
	ext.conn.close(ctx, r.grace)
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

// HealthCheck probes the child. A live process answering capabilities
// within the call timeout is healthy; a dead conn is offline.
func (r *Runtime) HealthCheck(ctx context.Context, id entities.ExtensionID) entities.HealthReport {
	ext, err := r.get(id)
	if err != nil {
		return entities.Offline("not loaded")
	}

	probeCtx, cancel := context.WithTimeout(ctx, ext.timeout)
	defer cancel()

	start := time.Now()
	if _, err := ext.conn.call(probeCtx, wireformat.MethodCapabilities, nil); err != nil {
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

// mapCallError converts transport-level failures into the taxonomy. Errors
// that already carry a taxonomy type pass through.
func mapCallError(err error, method, name string, timeout time.Duration) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &domerrors.TimeoutError{Operation: method, Extension: name, Duration: timeout}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return err
	}
}

// childEnv builds the child's environment: the host environment with the
// declared variables overlaid.
func childEnv(declared map[string]string) []string {
	if len(declared) == 0 {
		return nil
	}
	env := os.Environ()
	keys := make([]string, 0, len(declared))
	for k := range declared {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+declared[k])
	}
	return env
}
