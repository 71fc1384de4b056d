package ports

import (
	"context"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/envelope"
)

// ExtensionRuntime is the contract every protocol adapter satisfies. One
// adapter instance serves all extensions of its protocol; it owns the
// mapping from ExtensionID to its transport-specific handle and is the
// only component allowed to perform I/O for that transport.
type ExtensionRuntime interface {
	// Initialize performs one-time adapter setup, such as compiling the
	// sandbox runtime or preparing a client pool. Called once before any
	// Load.
	Initialize(ctx context.Context) error

	// Load spawns or connects the extension described by config, performs
	// the initialize handshake, queries capabilities, and returns a fresh
	// ExtensionID. The ID is minted from the manager-owned sequence.
	Load(ctx context.Context, config entities.ExtensionConfig) (entities.ExtensionID, error)

	// Call invokes one method on a loaded extension. Implementations must
	// apply the configured call timeout and fail with a timeout error
	// rather than block indefinitely.
	Call(ctx context.Context, id entities.ExtensionID, method string, params envelope.Envelope) (envelope.Envelope, error)

	// Unload tears the extension down best-effort. It never fails because
	// the extension already terminated.
	Unload(ctx context.Context, id entities.ExtensionID) error

	// Capabilities returns the cached capability set recorded during Load.
	// No network or process call is made.
	Capabilities(id entities.ExtensionID) ([]entities.Capability, error)

	// Manifest returns the cached self-description recorded during Load.
	Manifest(id entities.ExtensionID) (entities.ExtensionManifest, error)

	// HealthCheck probes the extension's responsiveness.
	HealthCheck(ctx context.Context, id entities.ExtensionID) entities.HealthReport
}
