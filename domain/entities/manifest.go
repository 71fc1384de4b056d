package entities

// ExtensionType classifies what role an extension plays in a pipeline.
type ExtensionType string

const (
	ExtensionTypeFrontend  ExtensionType = "frontend"
	ExtensionTypeBackend   ExtensionType = "backend"
	ExtensionTypeTransform ExtensionType = "transform"
	ExtensionTypeValidator ExtensionType = "validator"
	ExtensionTypeRuntime   ExtensionType = "runtime"
)

// CapabilityFlags advertises which optional surfaces an extension supports
// beyond plain method calls.
type CapabilityFlags struct {
	// Program is true when the extension hosts a stateful program loop
	// (init, update, subscriptions).
	Program bool `json:"program,omitempty" yaml:"program,omitempty"`

	// Events is true when the extension emits unsolicited notifications.
	Events bool `json:"events,omitempty" yaml:"events,omitempty"`

	// Streaming is true when the extension supports streaming calls.
	Streaming bool `json:"streaming,omitempty" yaml:"streaming,omitempty"`
}

// ExtensionManifest is the self-description an extension returns from the
// initialize handshake.
type ExtensionManifest struct {
	Name          string          `json:"name" yaml:"name"`
	Version       string          `json:"version" yaml:"version"`
	Description   string          `json:"description,omitempty" yaml:"description,omitempty"`
	Type          ExtensionType   `json:"extension_type,omitempty" yaml:"extension_type,omitempty"`
	MinSDKVersion string          `json:"min_sdk_version,omitempty" yaml:"min_sdk_version,omitempty"`
	Flags         CapabilityFlags `json:"flags,omitempty" yaml:"flags,omitempty"`
}
