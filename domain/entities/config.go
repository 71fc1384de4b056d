package entities

import (
	"encoding/json"
	"time"
)

// ExtensionConfig declares one extension to load. It is immutable after
// load; changing any field requires unload and reload.
type ExtensionConfig struct {
	// Name uniquely identifies the extension within a host.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Enabled controls whether the declaration is acted on at startup.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Source selects the transport and addresses the extension binary,
	// endpoint, or module.
	Source ExtensionSource `json:"source" yaml:"source"`

	// Permissions grants system access. The empty set denies everything.
	Permissions *Permissions `json:"permissions,omitempty" yaml:"permissions,omitempty"`

	// Config is the opaque initialization payload handed to the extension
	// verbatim during the initialize handshake.
	Config json.RawMessage `json:"config,omitempty" yaml:"config,omitempty"`

	// Restart is the supervision policy applied when the extension fails.
	Restart RestartStrategy `json:"restart,omitempty" yaml:"restart,omitempty"`

	// Limits bounds the extension's memory and per-call time.
	Limits ResourceLimits `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// ExtensionConfigOption is a functional option for building an
// ExtensionConfig.
type ExtensionConfigOption func(*ExtensionConfig)

// WithPermissions grants the extension the given permission set.
func WithPermissions(p *Permissions) ExtensionConfigOption {
	return func(c *ExtensionConfig) {
		c.Permissions = p
	}
}

// WithInitConfig sets the opaque initialization payload.
func WithInitConfig(raw json.RawMessage) ExtensionConfigOption {
	return func(c *ExtensionConfig) {
		c.Config = raw
	}
}

// WithRestart sets the supervision policy.
func WithRestart(r RestartStrategy) ExtensionConfigOption {
	return func(c *ExtensionConfig) {
		c.Restart = r
	}
}

// WithLimits sets the resource limits.
func WithLimits(l ResourceLimits) ExtensionConfigOption {
	return func(c *ExtensionConfig) {
		c.Limits = l
	}
}

// WithCallTimeout overrides only the per-call timeout limit.
func WithCallTimeout(d time.Duration) ExtensionConfigOption {
	return func(c *ExtensionConfig) {
		if d > 0 {
			c.Limits.CallTimeout = d
		}
	}
}

// NewExtensionConfig creates an enabled ExtensionConfig with default limits
// and no restarts.
func NewExtensionConfig(name string, source ExtensionSource, opts ...ExtensionConfigOption) ExtensionConfig {
	cfg := ExtensionConfig{
		Name:    name,
		Enabled: true,
		Source:  source,
		Restart: NeverRestart(),
		Limits:  DefaultResourceLimits(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate checks the declaration before any unit is created. It reports
// every problem rather than stopping at the first.
func (c ExtensionConfig) Validate() ValidationResult {
	var errs []ValidationError
	if c.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}
	src := c.Source.Validate()
	errs = append(errs, src.Errors...)
	if rs := c.Restart.Validate(); !rs.Valid {
		errs = append(errs, rs.Errors...)
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
