package hostfuncs

import "context"

// HostContext is the context handlers and middleware receive for one host
// function call. Beyond the standard deadline and cancellation surface it
// names the function being invoked and carries call-scoped values that
// middleware can hand to the layers below without re-wrapping the context.
type HostContext interface {
	context.Context

	// FunctionName names the host function being invoked.
	FunctionName() string

	// SetValue stores a call-scoped value in place. It is visible to every
	// later layer of the same call and gone once the call returns.
	SetValue(key, value any)

	// GetValue reads a call-scoped value stored by SetValue.
	GetValue(key any) (value any, ok bool)
}

// callScope implements HostContext for a single registry dispatch.
type callScope struct {
	context.Context
	name   string
	values map[any]any
}

// HostContextFrom returns ctx unchanged when it already is a HostContext,
// as when a middleware re-enters the registry, and otherwise wraps it for
// the named call.
func HostContextFrom(ctx context.Context, name string) HostContext {
	if hc, ok := ctx.(HostContext); ok {
		return hc
	}
	return &callScope{Context: ctx, name: name}
}

func (c *callScope) FunctionName() string { return c.name }

func (c *callScope) SetValue(key, value any) {
	if c.values == nil {
		c.values = make(map[any]any, 1)
	}
	c.values[key] = value
}

func (c *callScope) GetValue(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

type extensionNameKey struct{}

// WithExtensionName records which extension is making host function calls.
// Adapters set it before entering guest code so handlers and middleware can
// attribute a call to its caller.
func WithExtensionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, extensionNameKey{}, name)
}

// ExtensionNameFromContext reports the calling extension, if recorded.
func ExtensionNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(extensionNameKey{}).(string)
	return name, ok
}
