package entities

import "time"

const (
	// DefaultMaxMemoryBytes is the default memory ceiling per extension.
	DefaultMaxMemoryBytes uint64 = 256 << 20 // 256 MiB

	// DefaultCallTimeout is the default per-call deadline.
	DefaultCallTimeout = 30 * time.Second
)

// ResourceLimits bounds an extension's memory and per-call time. Limits are
// enforced by the adapter with the mechanism native to its transport:
// sandbox memory pages for WASM, a process watchdog for stdio, and plain
// call deadlines everywhere.
type ResourceLimits struct {
	MaxMemoryBytes uint64        `json:"max_memory_bytes,omitempty" yaml:"max_memory_bytes,omitempty"`
	CallTimeout    time.Duration `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`
}

// DefaultResourceLimits returns the default limits applied when a
// declaration leaves them unset.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes: DefaultMaxMemoryBytes,
		CallTimeout:    DefaultCallTimeout,
	}
}

// OrDefaults fills in zero fields from the defaults.
func (l ResourceLimits) OrDefaults() ResourceLimits {
	if l.MaxMemoryBytes == 0 {
		l.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if l.CallTimeout <= 0 {
		l.CallTimeout = DefaultCallTimeout
	}
	return l
}
