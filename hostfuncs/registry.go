package hostfuncs

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// HandlerRegistry is the immutable dispatch table for host functions.
// Build one with NewRegistry; nothing mutates after construction, so
// every transport dispatches through it without locks.
type HandlerRegistry struct {
	handlers map[string]ByteHandler
	names    []string
}

// RegistryOption configures a registry under construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	handlers   map[string]ByteHandler
	middleware []Middleware
	errs       []error
}

func (c *registryConfig) add(name string, h ByteHandler) {
	switch {
	case name == "":
		c.errs = append(c.errs, errors.New("handler name cannot be empty"))
	case c.handlers[name] != nil:
		c.errs = append(c.errs, fmt.Errorf("duplicate handler name: %q", name))
	default:
		c.handlers[name] = h
	}
}

// NewRegistry builds the dispatch table from bundles, single handlers and
// middleware. Every registration problem is reported, not just the first.
//
//	registry, err := NewRegistry(
//	    WithMiddleware(PanicRecoveryMiddleware(), LoggingMiddleware(logger)),
//	    WithBundle(CoreBundle(logger, env, workspace)),
//	    WithHandler("custom", customHandler),
//	)
func NewRegistry(opts ...RegistryOption) (*HandlerRegistry, error) {
	cfg := registryConfig{handlers: make(map[string]ByteHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := errors.Join(cfg.errs...); err != nil {
		return nil, err
	}

	r := &HandlerRegistry{
		handlers: make(map[string]ByteHandler, len(cfg.handlers)),
		names:    make([]string, 0, len(cfg.handlers)),
	}
	for name, h := range cfg.handlers {
		// The first middleware added wraps outermost.
		for i := len(cfg.middleware) - 1; i >= 0; i-- {
			h = cfg.middleware[i](h)
		}
		r.handlers[name] = h
		r.names = append(r.names, name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Invoke runs the named host function. An unknown name yields a structured
// error payload, not a Go error: the extension always gets bytes back.
func (r *HandlerRegistry) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	h, ok := r.handlers[name]
	if !ok {
		return NewNotFoundError(name).ToJSON(), nil
	}
	return h(HostContextFrom(ctx, name), payload)
}

// Has reports whether name is registered.
func (r *HandlerRegistry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *HandlerRegistry) Names() []string {
	return slices.Clone(r.names)
}

// WithByteHandler registers a raw ByteHandler under the given name. Use
// WithHandler for typed registration with JSON framing.
func WithByteHandler(name string, handler ByteHandler) RegistryOption {
	return func(c *registryConfig) { c.add(name, handler) }
}

// WithMiddleware appends middleware. Middleware runs in the order added.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(c *registryConfig) { c.middleware = append(c.middleware, mw...) }
}
