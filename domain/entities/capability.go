package entities

import "encoding/json"

// Capability describes a single callable method an extension exposes.
// Extensions report their capabilities once during the load handshake; the
// manager caches the set and never queries it again for the instance's
// lifetime.
type Capability struct {
	// Name is the method name used in call requests.
	Name string `json:"name"`

	// Description is a human-readable summary of the method.
	Description string `json:"description,omitempty"`

	// ParamsSchema is an optional JSON Schema for the method's params.
	ParamsSchema json.RawMessage `json:"params_schema,omitempty"`

	// ReturnSchema is an optional JSON Schema for the method's result.
	ReturnSchema json.RawMessage `json:"return_schema,omitempty"`
}

// NewCapability creates a Capability with the given method name.
func NewCapability(name string) Capability {
	return Capability{Name: name}
}

// WithDescription returns a copy of the Capability with the description set.
func (c Capability) WithDescription(desc string) Capability {
	c.Description = desc
	return c
}

// WithParamsSchema returns a copy of the Capability with the params schema
// set.
func (c Capability) WithParamsSchema(schema json.RawMessage) Capability {
	c.ParamsSchema = schema
	return c
}

// WithReturnSchema returns a copy of the Capability with the return schema
// set.
func (c Capability) WithReturnSchema(schema json.RawMessage) Capability {
	c.ReturnSchema = schema
	return c
}

// CapabilityNames returns the method names of a capability set, preserving
// order.
func CapabilityNames(caps []Capability) []string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name
	}
	return names
}

// HasCapability reports whether the set declares the given method name.
func HasCapability(caps []Capability, name string) bool {
	for _, c := range caps {
		if c.Name == name {
			return true
		}
	}
	return false
}
