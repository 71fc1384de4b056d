package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gantry-dev/gantry/config"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/hostfuncs"
	"github.com/gantry-dev/gantry/observability"
)

// DefaultQueueSize bounds the manager's sequential task queue.
const DefaultQueueSize = 256

// ErrManagerClosed is returned by every operation after Close.
var ErrManagerClosed = errors.New("host: manager closed")

var validate = validator.New()

// Manager is the single entry point for loading, calling, listing, and
// unloading extensions. All registry state lives behind one event loop;
// extension work itself runs on per-extension units, never on the loop.
type Manager struct {
	instanceID string
	logger     *slog.Logger
	sink       ports.EventSink
	obs        *observability.Provider
	hostFns    *hostfuncs.HandlerRegistry
	risk       *entities.RiskAssessor
	runtimes   map[entities.Protocol]ports.ExtensionRuntime

	queue    chan task
	baseCtx  context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	// Loop-owned state. Only the run goroutine touches these maps.
	units  map[entities.ExtensionID]*unit
	byName map[string]entities.ExtensionID
	meta   map[entities.ExtensionID]*entities.ExtensionMetadata
}

type task struct {
	fn   func()
	done chan struct{}
}

// NewManager creates a Manager and initializes every registered runtime.
// At least one runtime is required.
func NewManager(ctx context.Context, opts ...Option) (*Manager, error) {
	m := &Manager{
		instanceID: uuid.NewString(),
		logger:     slog.Default(),
		risk:       entities.NewRiskAssessor(),
		runtimes:   make(map[entities.Protocol]ports.ExtensionRuntime),
		queue:      make(chan task, DefaultQueueSize),
		loopDone:   make(chan struct{}),
		units:      make(map[entities.ExtensionID]*unit),
		byName:     make(map[string]entities.ExtensionID),
		meta:       make(map[entities.ExtensionID]*entities.ExtensionMetadata),
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.runtimes) == 0 {
		return nil, errors.New("host: no extension runtimes registered")
	}
	if m.sink == nil {
		m.sink = LogSink(m.logger)
	}

	for proto, rt := range m.runtimes {
		if err := rt.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize %s runtime: %w", proto, err)
		}
	}

	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	go m.run()

	m.logger.Info("manager started",
		"instance", m.instanceID,
		"protocols", len(m.runtimes),
	)
	return m, nil
}

// InstanceID returns the unique id of this manager instance.
func (m *Manager) InstanceID() string { return m.instanceID }

func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case t := <-m.queue:
			t.fn()
			if t.done != nil {
				close(t.done)
			}
		}
	}
}

// do runs fn on the manager loop and waits for it. Callers may only read
// values fn wrote when do returns nil.
func (m *Manager) do(ctx context.Context, fn func()) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	return m.submit(ctx, fn)
}

func (m *Manager) submit(ctx context.Context, fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case m.queue <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.baseCtx.Done():
		return ErrManagerClosed
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.baseCtx.Done():
		return ErrManagerClosed
	}
}

// enqueueAsync runs fn on the loop without waiting for it. Used for counter
// updates and failure reports that must not stall their caller.
func (m *Manager) enqueueAsync(fn func()) {
	select {
	case m.queue <- task{fn: fn}:
	case <-m.baseCtx.Done():
	}
}

// LoadExtension validates the declaration, loads the extension through its
// protocol adapter under the declaration's restart budget, and registers
// it. The returned id stays valid until unload or a supervised restart.
func (m *Manager) LoadExtension(ctx context.Context, cfg entities.ExtensionConfig) (entities.ExtensionID, error) {
	if err := m.validateConfig(cfg); err != nil {
		return 0, err
	}
	proto := cfg.Source.Protocol()
	rt, ok := m.runtimes[proto]
	if !ok {
		return 0, &domerrors.ProtocolError{
			Protocol: string(proto),
			Msg:      "no runtime registered for this protocol",
		}
	}

	var nameTaken bool
	if err := m.do(ctx, func() {
		_, nameTaken = m.byName[cfg.Name]
	}); err != nil {
		return 0, err
	}
	if nameTaken {
		return 0, &domerrors.InvalidSourceError{
			Field:  "name",
			Reason: fmt.Sprintf("extension %q is already loaded", cfg.Name),
		}
	}

	if level := m.risk.AssessPermissions(cfg.Permissions); level == entities.RiskLevelHigh {
		m.logger.Warn("extension requests high-risk permissions",
			"extension", cfg.Name,
			"risks", m.risk.DescribeRisks(cfg.Permissions),
		)
	}

	ctx, span := m.obs.StartSpan(ctx, "extension.load",
		attribute.String("extension.name", cfg.Name),
		attribute.String("extension.protocol", string(proto)),
	)
	defer span.End()

	id, err := m.loadWithRetry(ctx, rt, cfg)
	if err != nil {
		span.RecordError(err)
		m.logger.Error("extension load failed", "extension", cfg.Name, "error", err)
		return 0, err
	}

	u, meta, err := m.assemble(ctx, rt, id, cfg)
	if err != nil {
		span.RecordError(err)
		_ = rt.Unload(ctx, id)
		return 0, err
	}

	var regErr error
	if err := m.do(ctx, func() {
		if _, taken := m.byName[cfg.Name]; taken {
			regErr = &domerrors.InvalidSourceError{
				Field:  "name",
				Reason: fmt.Sprintf("extension %q is already loaded", cfg.Name),
			}
			return
		}
		m.units[id] = u
		m.byName[cfg.Name] = id
		m.meta[id] = meta
	}); err != nil {
		u.stop(context.WithoutCancel(ctx))
		return 0, err
	}
	if regErr != nil {
		u.stop(ctx)
		return 0, regErr
	}

	m.publish(entities.NewEvent(entities.EventExtensionLoaded, cfg.Name, id).
		WithDetail("protocol", string(proto)))
	m.obs.ExtensionLoaded(ctx, cfg.Name)
	m.logger.Info("extension loaded",
		"extension", cfg.Name,
		"id", uint64(id),
		"protocol", string(proto),
		"capabilities", len(meta.Capabilities),
	)
	return id, nil
}

// assemble collects the load-time caches and builds the isolation unit for
// a freshly loaded extension.
func (m *Manager) assemble(ctx context.Context, rt ports.ExtensionRuntime, id entities.ExtensionID, cfg entities.ExtensionConfig) (*unit, *entities.ExtensionMetadata, error) {
	caps, err := rt.Capabilities(id)
	if err != nil {
		return nil, nil, err
	}
	manifest, err := rt.Manifest(id)
	if err != nil {
		return nil, nil, err
	}
	u, err := m.newUnit(ctx, rt, id, cfg, manifest)
	if err != nil {
		return nil, nil, err
	}
	meta := &entities.ExtensionMetadata{
		ID:           id,
		Name:         cfg.Name,
		Protocol:     cfg.Source.Protocol(),
		Capabilities: caps,
		Config:       cfg,
		Manifest:     manifest,
		LoadedAt:     time.Now(),
		Status:       entities.StatusReady,
	}
	return u, meta, nil
}

// CallExtension invokes one method on a loaded extension by name. The call
// serializes through the extension's unit; calls to different extensions
// run in parallel.
func (m *Manager) CallExtension(ctx context.Context, name, method string, params envelope.Envelope) (envelope.Envelope, error) {
	var (
		u       *unit
		id      entities.ExtensionID
		status  entities.ExtensionStatus
		timeout time.Duration
		found   bool
	)
	if err := m.do(ctx, func() {
		id, found = m.byName[name]
		if !found {
			return
		}
		u = m.units[id]
		if meta := m.meta[id]; meta != nil {
			status = meta.Status
			timeout = meta.Config.Limits.OrDefaults().CallTimeout
		}
	}); err != nil {
		return envelope.Envelope{}, err
	}
	if !found {
		return envelope.Envelope{}, &domerrors.NotFoundError{Name: name}
	}
	if u == nil {
		return envelope.Envelope{}, &domerrors.ExtensionError{
			Extension: name,
			Method:    method,
			Msg:       fmt.Sprintf("extension is %s", status),
		}
	}

	ctx, span := m.obs.StartSpan(ctx, "extension.call",
		attribute.String("extension.name", name),
		attribute.String("extension.method", method),
	)
	defer span.End()

	if timeout <= 0 {
		timeout = entities.DefaultCallTimeout
	}
	callCtx, cancelCall := context.WithTimeout(ctx, timeout)
	defer cancelCall()

	start := time.Now()
	result, err := u.call(callCtx, method, params)
	elapsed := time.Since(start)

	// The hard per-call deadline surfaces as Timeout; a cancelled caller
	// context keeps its own error.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = &domerrors.TimeoutError{Operation: "call " + method, Extension: name, Duration: timeout}
	}

	m.recordCall(id, err)
	m.obs.RecordCall(ctx, name, method, elapsed, err)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (m *Manager) recordCall(id entities.ExtensionID, callErr error) {
	m.enqueueAsync(func() {
		meta := m.meta[id]
		if meta == nil {
			return
		}
		meta.CallCount++
		if callErr != nil {
			meta.ErrorCount++
			meta.LastError = callErr.Error()
		}
	})
}

// ListExtensions returns a read-only snapshot of every known extension,
// ordered by id. After Close it returns nil.
func (m *Manager) ListExtensions(ctx context.Context) []entities.ExtensionInfo {
	var infos []entities.ExtensionInfo
	if err := m.do(ctx, func() {
		now := time.Now()
		infos = make([]entities.ExtensionInfo, 0, len(m.meta))
		for _, meta := range m.meta {
			infos = append(infos, meta.Snapshot(now))
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	}); err != nil {
		return nil
	}
	return infos
}

// UnloadExtension removes the extension's registry entries and tears it
// down. An unknown name is NotFound; a dead or failed extension unloads
// without error.
func (m *Manager) UnloadExtension(ctx context.Context, name string) error {
	var (
		u     *unit
		id    entities.ExtensionID
		found bool
	)
	if err := m.do(ctx, func() {
		id, found = m.byName[name]
		if !found {
			return
		}
		u = m.units[id]
		delete(m.byName, name)
		delete(m.units, id)
		delete(m.meta, id)
	}); err != nil {
		return err
	}
	if !found {
		return &domerrors.NotFoundError{Name: name}
	}

	ctx, span := m.obs.StartSpan(ctx, "extension.unload",
		attribute.String("extension.name", name),
	)
	defer span.End()

	if u != nil {
		u.stop(ctx)
	}
	m.publish(entities.NewEvent(entities.EventExtensionUnloaded, name, id))
	m.obs.ExtensionUnloaded(ctx, name)
	m.logger.Info("extension unloaded", "extension", name, "id", uint64(id))
	return nil
}

// LoadFromConfig loads every enabled declaration from a YAML file. Disabled
// entries are skipped. A failing extension does not abort the batch; all
// failures come back joined, alongside the ids that did load.
func (m *Manager) LoadFromConfig(ctx context.Context, path string) ([]entities.ExtensionID, error) {
	configs, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var (
		ids  []entities.ExtensionID
		errs []error
	)
	for _, cfg := range configs {
		if !cfg.Enabled {
			m.logger.Info("extension disabled, skipping", "extension", cfg.Name)
			continue
		}
		id, err := m.LoadExtension(ctx, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", cfg.Name, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

// HealthCheck probes one extension by name.
func (m *Manager) HealthCheck(ctx context.Context, name string) (entities.HealthReport, error) {
	var (
		rt    ports.ExtensionRuntime
		id    entities.ExtensionID
		found bool
	)
	if err := m.do(ctx, func() {
		id, found = m.byName[name]
		if !found {
			return
		}
		if meta := m.meta[id]; meta != nil {
			rt = m.runtimes[meta.Protocol]
		}
	}); err != nil {
		return entities.HealthReport{}, err
	}
	if !found || rt == nil {
		return entities.HealthReport{}, &domerrors.NotFoundError{Name: name}
	}
	return rt.HealthCheck(ctx, id), nil
}

// Close unloads every extension, stops the loop, and waits for supervisors
// to finish. Safe to call twice.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	var units []*unit
	if err := m.submit(ctx, func() {
		units = make([]*unit, 0, len(m.units))
		for _, u := range m.units {
			units = append(units, u)
		}
		m.units = make(map[entities.ExtensionID]*unit)
		m.byName = make(map[string]entities.ExtensionID)
		m.meta = make(map[entities.ExtensionID]*entities.ExtensionMetadata)
	}); err != nil && !errors.Is(err, ErrManagerClosed) {
		return err
	}

	for _, u := range units {
		u.stop(ctx)
	}

	m.cancel()
	<-m.loopDone
	m.wg.Wait()

	m.logger.Info("manager closed", "instance", m.instanceID, "extensions", len(units))
	return nil
}

func (m *Manager) publish(event entities.Event) {
	m.sink.Publish(event)
	m.obs.RecordEvent(context.Background(), event)
}

// validateConfig rejects a bad declaration before any unit is created,
// combining the entity's own checks with the struct tags.
func (m *Manager) validateConfig(cfg entities.ExtensionConfig) error {
	if result := cfg.Validate(); !result.Valid {
		first := result.Errors[0]
		return &domerrors.InvalidSourceError{Field: first.Field, Reason: first.Message}
	}
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &domerrors.InvalidSourceError{
				Field:  fieldErrs[0].Namespace(),
				Reason: fmt.Sprintf("failed %q validation", fieldErrs[0].Tag()),
			}
		}
		return &domerrors.InvalidSourceError{Field: "config", Reason: err.Error()}
	}
	return nil
}
