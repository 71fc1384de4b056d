package entities

import (
	"sync/atomic"
	"time"
)

// ExtensionID uniquely identifies a loaded extension instance. IDs are
// minted by the manager and never reused within a host's lifetime; a
// restarted extension receives a fresh ID.
type ExtensionID uint64

// IDSequence mints monotonically increasing extension IDs. The zero value
// is ready to use; the first ID is 1 so that 0 can mean "no extension".
type IDSequence struct {
	next atomic.Uint64
}

// Next returns the next unused ExtensionID.
func (s *IDSequence) Next() ExtensionID {
	return ExtensionID(s.next.Add(1))
}

// Protocol identifies the transport an extension speaks.
type Protocol string

const (
	// ProtocolStdio is a child process exchanging JSON lines on its
	// standard streams.
	ProtocolStdio Protocol = "stdio"

	// ProtocolJSONRPC is JSON-RPC 2.0 over HTTP POST.
	ProtocolJSONRPC Protocol = "jsonrpc"

	// ProtocolGRPC is a gRPC client against a fixed four-method service.
	ProtocolGRPC Protocol = "grpc"

	// ProtocolWasmSandbox is core WASM executed in-process inside a
	// sandboxing engine.
	ProtocolWasmSandbox Protocol = "wasm-sandbox"

	// ProtocolWasmComponent is WASM with typed interface exports and
	// permission-gated system access.
	ProtocolWasmComponent Protocol = "wasm-component"

	// ProtocolUnknown is returned for a source with no valid variant.
	ProtocolUnknown Protocol = ""
)

// ExtensionSource selects the transport and addresses the extension.
// Exactly one variant must be populated; the populated variant determines
// which protocol adapter the manager routes to.
type ExtensionSource struct {
	HTTP      *HTTPSource      `json:"http,omitempty" yaml:"http,omitempty"`
	GRPC      *GRPCSource      `json:"grpc,omitempty" yaml:"grpc,omitempty"`
	Process   *ProcessSource   `json:"process,omitempty" yaml:"process,omitempty"`
	Wasm      *WasmSource      `json:"wasm,omitempty" yaml:"wasm,omitempty"`
	Component *ComponentSource `json:"component,omitempty" yaml:"component,omitempty"`
}

// HTTPSource addresses a JSON-RPC extension by endpoint URL.
type HTTPSource struct {
	URL string `json:"url" yaml:"url" validate:"required,url"`
}

// GRPCSource addresses a gRPC extension by dial target.
type GRPCSource struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required"`
}

// ProcessSource spawns a child process speaking JSON lines over stdio.
type ProcessSource struct {
	Command string            `json:"command" yaml:"command" validate:"required"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// WasmSource loads a core WASM module from a file path.
type WasmSource struct {
	Path string `json:"path" yaml:"path" validate:"required"`
}

// ComponentSource loads a WASM module with typed exports and system access.
type ComponentSource struct {
	Path string `json:"path" yaml:"path" validate:"required"`
}

// Protocol returns the transport selected by the populated variant, or
// ProtocolUnknown when zero or multiple variants are set.
func (s ExtensionSource) Protocol() Protocol {
	var proto Protocol
	count := 0
	if s.HTTP != nil {
		proto = ProtocolJSONRPC
		count++
	}
	if s.GRPC != nil {
		proto = ProtocolGRPC
		count++
	}
	if s.Process != nil {
		proto = ProtocolStdio
		count++
	}
	if s.Wasm != nil {
		proto = ProtocolWasmSandbox
		count++
	}
	if s.Component != nil {
		proto = ProtocolWasmComponent
		count++
	}
	if count != 1 {
		return ProtocolUnknown
	}
	return proto
}

// Validate checks that exactly one variant is populated and that the
// populated variant's required fields are present.
func (s ExtensionSource) Validate() ValidationResult {
	var errs []ValidationError

	switch s.Protocol() {
	case ProtocolJSONRPC:
		if s.HTTP.URL == "" {
			errs = append(errs, ValidationError{Field: "source.http.url", Message: "url is required"})
		}
	case ProtocolGRPC:
		if s.GRPC.Endpoint == "" {
			errs = append(errs, ValidationError{Field: "source.grpc.endpoint", Message: "endpoint is required"})
		}
	case ProtocolStdio:
		if s.Process.Command == "" {
			errs = append(errs, ValidationError{Field: "source.process.command", Message: "command is required"})
		}
	case ProtocolWasmSandbox:
		if s.Wasm.Path == "" {
			errs = append(errs, ValidationError{Field: "source.wasm.path", Message: "path is required"})
		}
	case ProtocolWasmComponent:
		if s.Component.Path == "" {
			errs = append(errs, ValidationError{Field: "source.component.path", Message: "path is required"})
		}
	default:
		errs = append(errs, ValidationError{Field: "source", Message: "exactly one source variant must be set"})
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ExtensionMetadata is the manager-owned record of a loaded extension.
// It is mutated only by the manager's own sequential processing.
type ExtensionMetadata struct {
	ID           ExtensionID
	Name         string
	Protocol     Protocol
	Capabilities []Capability
	Config       ExtensionConfig
	Manifest     ExtensionManifest
	LoadedAt     time.Time
	CallCount    uint64
	ErrorCount   uint64
	Status       ExtensionStatus
	LastError    string
}

// Snapshot returns the read-only view of this metadata for listings.
func (m *ExtensionMetadata) Snapshot(now time.Time) ExtensionInfo {
	names := make([]string, len(m.Capabilities))
	for i, c := range m.Capabilities {
		names[i] = c.Name
	}
	return ExtensionInfo{
		ID:           m.ID,
		Name:         m.Name,
		Protocol:     m.Protocol,
		Status:       m.Status,
		Capabilities: names,
		CallCount:    m.CallCount,
		ErrorCount:   m.ErrorCount,
		LoadedAt:     m.LoadedAt,
		Uptime:       now.Sub(m.LoadedAt),
	}
}

// ExtensionInfo is a read-only snapshot of a loaded extension's metadata.
type ExtensionInfo struct {
	ID           ExtensionID     `json:"id"`
	Name         string          `json:"name"`
	Protocol     Protocol        `json:"protocol"`
	Status       ExtensionStatus `json:"status"`
	Capabilities []string        `json:"capabilities,omitempty"`
	CallCount    uint64          `json:"call_count"`
	ErrorCount   uint64          `json:"error_count"`
	LoadedAt     time.Time       `json:"loaded_at"`
	Uptime       time.Duration   `json:"uptime_ns"`
}
