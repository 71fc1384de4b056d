// Package grpcio implements the extension runtime over gRPC. The service
// contract is four fixed RPCs with opaque byte payloads; capability methods
// are multiplexed through Call, so an extension never changes the service
// shape. Unlike the line-oriented transports this one carries whole
// envelopes, content type included.
package grpcio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/gantry-dev/gantry/application/discovery"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/wireformat"
)

// Runtime runs extensions reachable over gRPC. Each loaded extension owns
// one client connection.
type Runtime struct {
	ids      *entities.IDSequence
	pipeline *discovery.Pipeline
	logger   *slog.Logger
	dialOpts []grpc.DialOption

	mu   sync.RWMutex
	exts map[entities.ExtensionID]*extension
}

type extension struct {
	name     string
	conn     *grpc.ClientConn
	manifest entities.ExtensionManifest
	caps     []entities.Capability
	schemas  *discovery.SchemaIndex
	timeout  time.Duration
}

// Option configures the gRPC runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDialOptions appends dial options for every extension connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(r *Runtime) {
		r.dialOpts = append(r.dialOpts, opts...)
	}
}

// NewRuntime creates the gRPC adapter.
func NewRuntime(ids *entities.IDSequence, pipeline *discovery.Pipeline, opts ...Option) (*Runtime, error) {
	if ids == nil {
		return nil, errors.New("grpcio: nil id sequence")
	}
	if pipeline == nil {
		return nil, errors.New("grpcio: nil discovery pipeline")
	}
	r := &Runtime{
		ids:      ids,
		pipeline: pipeline,
		logger:   slog.Default(),
		exts:     make(map[entities.ExtensionID]*extension),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize implements ports.ExtensionRuntime. gRPC needs no shared setup.
func (r *Runtime) Initialize(ctx context.Context) error { return nil }

// Load dials the endpoint, runs the handshake, and registers the extension.
// Dialing is lazy, so an unreachable endpoint surfaces here as a failed
// initialize.
func (r *Runtime) Load(ctx context.Context, config entities.ExtensionConfig) (entities.ExtensionID, error) {
	src := config.Source.GRPC
	if src == nil {
		return 0, &domerrors.InvalidSourceError{Field: "source", Reason: "grpc adapter requires a grpc source"}
	}

	limits := config.Limits.OrDefaults()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	}, r.dialOpts...)

	conn, err := grpc.NewClient(src.Endpoint, dialOpts...)
	if err != nil {
		return 0, &domerrors.IOError{Err: err, Operation: "dial"}
	}

	ext := &extension{
		name:    config.Name,
		conn:    conn,
		timeout: limits.CallTimeout,
	}

	if err := r.handshake(ctx, ext, config); err != nil {
		_ = conn.Close()
		return 0, err
	}

	id := r.ids.Next()
	r.mu.Lock()
	r.exts[id] = ext
	r.mu.Unlock()

	r.logger.Info("extension loaded", "extension", config.Name, "id", uint64(id),
		"endpoint", src.Endpoint, "capabilities", len(ext.caps))
	return id, nil
}

func (r *Runtime) handshake(ctx context.Context, ext *extension, config entities.ExtensionConfig) error {
	raw, err := r.invoke(ctx, ext, methodInitialize, "initialize", config.Config)
	if err != nil {
		return &domerrors.InitializationFailedError{Extension: config.Name, Err: err}
	}
	manifest, err := r.pipeline.DecodeInitializeResult(raw)
	if err != nil {
		return err
	}

	raw, err = r.invoke(ctx, ext, methodGetCapabilities, "capabilities", nil)
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

// Call invokes one capability method through the Call RPC. The whole params
// envelope travels, so non-JSON content types are allowed; schema checks
// apply only to JSON params.
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

	raw, err := r.invoke(ctx, ext, methodCall, method, body)
	if err != nil {
		return envelope.Envelope{}, err
	}

	var result wireformat.CallResultWire
	if err := json.Unmarshal(raw, &result); err != nil {
		return envelope.Envelope{}, &domerrors.ProtocolError{Protocol: "grpc", Err: err, Msg: "malformed call result"}
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

// invoke performs one unary round trip under the extension's call timeout.
// op is the short operation name used in error reports.
func (r *Runtime) invoke(ctx context.Context, ext *extension, fullMethod, op string, req []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, ext.timeout)
	defer cancel()

	reply := new(rawFrame)
	if err := ext.conn.Invoke(callCtx, fullMethod, &rawFrame{data: req}, reply); err != nil {
		return nil, r.mapStatusError(err, op, ext)
	}
	return reply.data, nil
}

func (r *Runtime) mapStatusError(err error, op string, ext *extension) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return &domerrors.TimeoutError{Operation: op, Extension: ext.name, Duration: ext.timeout}
	case codes.Canceled:
		return context.Canceled
	case codes.Unavailable:
		return &domerrors.IOError{Err: err, Operation: op}
	case codes.Unimplemented:
		return &domerrors.ProtocolError{
			Protocol: "grpc",
			Err:      err,
			Msg:      "endpoint does not serve the extension host service",
		}
	default:
		return &domerrors.ProtocolError{
			Protocol: "grpc",
			Err:      err,
			Msg:      fmt.Sprintf("%s failed with status %s", op, status.Code(err)),
		}
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

// Unload drops the extension's connection.
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

	if err := ext.conn.Close(); err != nil {
		r.logger.Warn("closing extension connection failed", "extension", ext.name, "error", err)
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

// HealthCheck probes the endpoint with a GetCapabilities round trip.
func (r *Runtime) HealthCheck(ctx context.Context, id entities.ExtensionID) entities.HealthReport {
	ext, err := r.get(id)
	if err != nil {
		return entities.Offline("not loaded")
	}

	start := time.Now()
	if _, err := r.invoke(ctx, ext, methodGetCapabilities, "capabilities", nil); err != nil {
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
