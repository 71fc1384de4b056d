// Package gantry is the extension authoring kit. An extension declares its
// identity once with Define, registers typed method handlers with Handle,
// and hands control to Serve. The package owns the guest half of the
// initialize/capabilities/handle contract; authors never touch wire frames.
package gantry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gantry-dev/gantry/domain/entities"
)

// Version is the SDK release. Hosts refuse extensions whose manifest asks
// for a newer one.
const Version = "1.0.0"

// Info declares extension identity. It becomes the manifest returned from
// the initialize handshake.
type Info struct {
	// Name uniquely identifies the extension to its host.
	Name string

	// Version is the extension's own release, not the SDK's.
	Version string

	Description string

	// Type classifies the pipeline role. Leave empty for plain extensions.
	Type entities.ExtensionType

	// MinSDKVersion is the oldest host SDK this extension works against.
	// Empty accepts any host.
	MinSDKVersion string

	// Flags advertises optional surfaces beyond plain method calls.
	Flags entities.CapabilityFlags
}

// InitFunc runs once during the initialize handshake with the parsed init
// config. Returning an error fails the load.
type InitFunc func(ctx context.Context, cfg Config) error

// Extension is one declared extension: identity, registered handlers and
// the config received at initialize. Registration happens at package init
// time; the host drives everything after Serve.
type Extension struct {
	mu       sync.RWMutex
	info     Info
	config   Config
	onInit   InitFunc
	handlers map[string]*handlerEntry
	order    []string
}

type handlerEntry struct {
	cap entities.Capability
	fn  EnvelopeHandler
}

// Define declares an extension. Name and version are required; Define
// panics without them because a nameless extension can never load.
func Define(info Info) *Extension {
	if info.Name == "" || info.Version == "" {
		panic("gantry: extension name and version are required")
	}
	return &Extension{
		info:     info,
		config:   Config{},
		handlers: make(map[string]*handlerEntry),
	}
}

// OnInit registers the initialize hook. At most one; a second call panics.
func (e *Extension) OnInit(fn InitFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.onInit != nil {
		panic("gantry: OnInit registered twice")
	}
	e.onInit = fn
}

// EnableProgram marks the program surface in the manifest. program.Attach
// calls it when wiring a program loop.
func (e *Extension) EnableProgram() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.Flags.Program = true
}

// Manifest builds the self-description sent to the host at initialize.
func (e *Extension) Manifest() entities.ExtensionManifest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return entities.ExtensionManifest{
		Name:          e.info.Name,
		Version:       e.info.Version,
		Description:   e.info.Description,
		Type:          e.info.Type,
		MinSDKVersion: e.info.MinSDKVersion,
		Flags:         e.info.Flags,
	}
}

// Capabilities lists the registered methods in registration order.
func (e *Extension) Capabilities() []entities.Capability {
	e.mu.RLock()
	defer e.mu.RUnlock()
	caps := make([]entities.Capability, 0, len(e.order))
	for _, name := range e.order {
		caps = append(caps, e.handlers[name].cap)
	}
	return caps
}

// InitConfig returns the config parsed during initialize. Empty before the
// handshake.
func (e *Extension) InitConfig() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

func (e *Extension) register(c entities.Capability, fn EnvelopeHandler) {
	if c.Name == "" {
		panic("gantry: handler name is required")
	}
	if fn == nil {
		panic(fmt.Sprintf("gantry: nil handler for %q", c.Name))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.handlers[c.Name]; exists {
		panic(fmt.Sprintf("gantry: handler %q registered twice", c.Name))
	}
	e.handlers[c.Name] = &handlerEntry{cap: c, fn: fn}
	e.order = append(e.order, c.Name)
}

func (e *Extension) lookup(method string) (*handlerEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.handlers[method]
	return entry, ok
}

func (e *Extension) setConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
}
