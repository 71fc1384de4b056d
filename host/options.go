package host

import (
	"log/slog"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/hostfuncs"
	"github.com/gantry-dev/gantry/observability"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRuntime registers the adapter serving one protocol. Declarations
// whose source resolves to an unregistered protocol fail to load. At least
// one runtime must be registered.
func WithRuntime(protocol entities.Protocol, runtime ports.ExtensionRuntime) Option {
	return func(m *Manager) {
		if runtime != nil {
			m.runtimes[protocol] = runtime
		}
	}
}

// WithEventSink sets where lifecycle events are published. Defaults to a
// sink that logs each event.
func WithEventSink(sink ports.EventSink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithObservability sets the telemetry provider. A nil provider records
// nothing, which is also the default.
func WithObservability(provider *observability.Provider) Option {
	return func(m *Manager) {
		m.obs = provider
	}
}

// WithHostFunctions sets the host function registry that program commands
// dispatch against. Without one, program extensions still run but every
// command fails with an internal error result.
func WithHostFunctions(registry *hostfuncs.HandlerRegistry) Option {
	return func(m *Manager) {
		m.hostFns = registry
	}
}
