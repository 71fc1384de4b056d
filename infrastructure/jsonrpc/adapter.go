// Package jsonrpc implements the extension runtime over JSON-RPC 2.0. Each
// call is one HTTP POST round trip against the extension's endpoint; there
// is no connection state beyond the client's pool, so correlation is purely
// per-request.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gantry-dev/gantry/application/discovery"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/wireformat"
)

// DefaultMaxBodyBytes caps one response body from an extension endpoint.
const DefaultMaxBodyBytes = 8 << 20

// Runtime runs extensions reachable over HTTP. One Runtime serves every
// extension of the protocol; each loaded extension owns one client so its
// connection pool dies with it.
type Runtime struct {
	ids      *entities.IDSequence
	pipeline *discovery.Pipeline
	logger   *slog.Logger
	maxBody  int64

	mu   sync.RWMutex
	exts map[entities.ExtensionID]*extension
}

type extension struct {
	name     string
	url      string
	client   *http.Client
	nextID   atomic.Uint64
	manifest entities.ExtensionManifest
	caps     []entities.Capability
	schemas  *discovery.SchemaIndex
	timeout  time.Duration
}

// Option configures the JSON-RPC runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxBodyBytes caps the length of one response body.
func WithMaxBodyBytes(n int64) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxBody = n
		}
	}
}

// NewRuntime creates the JSON-RPC adapter.
func NewRuntime(ids *entities.IDSequence, pipeline *discovery.Pipeline, opts ...Option) (*Runtime, error) {
	if ids == nil {
		return nil, errors.New("jsonrpc: nil id sequence")
	}
	if pipeline == nil {
		return nil, errors.New("jsonrpc: nil discovery pipeline")
	}
	r := &Runtime{
		ids:      ids,
		pipeline: pipeline,
		logger:   slog.Default(),
		maxBody:  DefaultMaxBodyBytes,
		exts:     make(map[entities.ExtensionID]*extension),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize implements ports.ExtensionRuntime. JSON-RPC needs no shared
// setup.
func (r *Runtime) Initialize(ctx context.Context) error { return nil }

// Load runs the initialize and capabilities handshake against the endpoint
// and registers the extension. Nothing is spawned: a failed handshake only
// discards the client.
func (r *Runtime) Load(ctx context.Context, config entities.ExtensionConfig) (entities.ExtensionID, error) {
	src := config.Source.HTTP
	if src == nil {
		return 0, &domerrors.InvalidSourceError{Field: "source", Reason: "jsonrpc adapter requires an http source"}
	}

	limits := config.Limits.OrDefaults()
	ext := &extension{
		name:    config.Name,
		url:     src.URL,
		client:  &http.Client{Transport: newTransport()},
		timeout: limits.CallTimeout,
	}

	if err := r.handshake(ctx, ext, config); err != nil {
		ext.client.CloseIdleConnections()
		return 0, err
	}

	id := r.ids.Next()
	r.mu.Lock()
	r.exts[id] = ext
	r.mu.Unlock()

	r.logger.Info("extension loaded", "extension", config.Name, "id", uint64(id),
		"endpoint", src.URL, "capabilities", len(ext.caps))
	return id, nil
}

func newTransport() *http.Transport {
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		return t.Clone()
	}
	return &http.Transport{}
}

func (r *Runtime) handshake(ctx context.Context, ext *extension, config entities.ExtensionConfig) error {
	raw, err := r.post(ctx, ext, wireformat.MethodInitialize, config.Config)
	if err != nil {
		return &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
	}
	manifest, err := r.pipeline.DecodeInitializeResult(raw)
	if err != nil {
		return err
	}

	raw, err = r.post(ctx, ext, wireformat.MethodCapabilities, nil)
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

// Call invokes one method as a JSON-RPC round trip. Params must carry
// application/json content; declared parameter schemas are enforced before
// the request leaves the host.
func (r *Runtime) Call(ctx context.Context, id entities.ExtensionID, method string, params envelope.Envelope) (envelope.Envelope, error) {
	ext, err := r.get(id)
	if err != nil {
		return envelope.Envelope{}, err
	}

	content := params.Content
	if len(content) > 0 && !params.IsJSON() {
		return envelope.Envelope{}, &domerrors.SerializationError{
			Err:       fmt.Errorf("content type %q", params.ContentType),
			Operation: "encode jsonrpc params",
		}
	}
	if err := ext.schemas.ValidateParams(method, content); err != nil {
		return envelope.Envelope{}, err
	}

	raw, err := r.post(ctx, ext, method, content)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	return envelope.New(envelope.ContentTypeJSON, raw), nil
}

// post performs one request/response round trip under the extension's call
// timeout and maps the reply back into the taxonomy.
func (r *Runtime) post(ctx context.Context, ext *extension, method string, params json.RawMessage) (json.RawMessage, error) {
	reqID := ext.nextID.Add(1)
	body, err := json.Marshal(wireformat.JSONRPCRequestWire{
		JSONRPC: wireformat.JSONRPCVersion,
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, &domerrors.SerializationError{Err: err, Operation: "encode request"}
	}

	callCtx, cancel := context.WithTimeout(ctx, ext.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, ext.url, bytes.NewReader(body))
	if err != nil {
		return nil, &domerrors.IOError{Err: err, Operation: "build request"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ext.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &domerrors.TimeoutError{Operation: method, Extension: ext.name, Duration: ext.timeout}
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			return nil, &domerrors.IOError{Err: err, Operation: "post"}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domerrors.ProtocolError{
			Protocol: "jsonrpc",
			Msg:      fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody))
	if err != nil {
		return nil, &domerrors.IOError{Err: err, Operation: "read response"}
	}

	var frame wireformat.JSONRPCResponseWire
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &domerrors.ProtocolError{Protocol: "jsonrpc", Err: err, Msg: "malformed response body"}
	}
	if frame.ID != reqID {
		return nil, &domerrors.ProtocolError{
			Protocol: "jsonrpc",
			Msg:      fmt.Sprintf("response id %d does not match request %d", frame.ID, reqID),
		}
	}
	if frame.Error != nil {
		return nil, domerrors.FromCode(frame.Error.Code, frame.Error.Message)
	}
	return frame.Result, nil
}

// Unload forgets the extension and drops its connection pool. The remote
// endpoint is not told anything: it outlives its clients.
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

	ext.client.CloseIdleConnections()
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

// HealthCheck probes the endpoint with a capabilities round trip.
func (r *Runtime) HealthCheck(ctx context.Context, id entities.ExtensionID) entities.HealthReport {
	ext, err := r.get(id)
	if err != nil {
		return entities.Offline("not loaded")
	}

	start := time.Now()
	if _, err := r.post(ctx, ext, wireformat.MethodCapabilities, nil); err != nil {
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
