// Package wireformat defines the JSON wire format structures exchanged with
// extensions over every byte-oriented transport (stdio lines, JSON-RPC
// bodies, gRPC payload frames, sandbox buffers). These types must remain
// stable and backward compatible as they define the protocol contract.
package wireformat

import (
	"encoding/json"
	"fmt"
)

// Methods every extension must answer.
const (
	MethodInitialize   = "initialize"
	MethodCapabilities = "capabilities"
)

// Methods runtime-style extensions additionally answer. Teardown is
// best-effort: hosts send it on unload but never wait on failure.
const (
	MethodInit          = "init"
	MethodUpdate        = "update"
	MethodSubscriptions = "subscriptions"
	MethodTeardown      = "teardown"
)

// Methods design-time extensions answer.
const (
	MethodFrontendCompile = "frontend-compile"
	MethodBackendGenerate = "backend-generate"
)

// Envelope header kinds stamped on host-originated messages fed back into
// the update loop, so extensions can route without sniffing content.
const (
	KindSubscription  = "subscription"
	KindCommandResult = "command_result"
)

// StatusReady is the status an extension reports from a successful
// initialize. Any other value fails the load.
const StatusReady = "ready"

// MethodNotFoundPrefix marks an error string reporting an unknown method.
// Extensions answering over string-error transports (stdio, gRPC) prefix
// unknown-method failures with it so hosts can classify them.
const MethodNotFoundPrefix = "method not found"

// Host function names sandboxed extensions import from the host module.
// Renaming one breaks every compiled extension.
const (
	FuncLog           = "log"
	FuncEnvGet        = "get_env_var"
	FuncEnvSet        = "set_env_var"
	FuncWorkspaceInfo = "get_workspace_info"
	FuncCachePut      = "cache_ir"
	FuncCacheGet      = "get_cached_ir"
	FuncFetch         = "http_fetch"
)

// StdioRequestWire is one request line on a stdio transport. A nil ID makes
// the line a notification: the child must not reply to it.
type StdioRequestWire struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// StdioResponseWire is one response line on a stdio transport. Exactly one
// of Result and Error is set.
type StdioResponseWire struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// JSONRPCVersion is the protocol version stamped on every JSON-RPC frame.
const JSONRPCVersion = "2.0"

// JSONRPCRequestWire is a JSON-RPC 2.0 request body.
type JSONRPCRequestWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponseWire is a JSON-RPC 2.0 response body. Exactly one of
// Result and Error is set.
type JSONRPCResponseWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorWire      `json:"error,omitempty"`
}

// ErrorWire is the structured error object shared by code-bearing
// transports. Codes follow the JSON-RPC 2.0 table plus the extension range.
type ErrorWire struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface for ErrorWire.
func (e *ErrorWire) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s [%d]", e.Message, e.Code)
}

// CallRequestWire frames a method invocation for transports that carry whole
// envelopes as opaque bytes, the gRPC Call RPC and the WASM handle export.
// Params is the encoded request Envelope.
type CallRequestWire struct {
	Method string `json:"method"`
	Params []byte `json:"params,omitempty"`
}

// CallResultWire frames the reply to a CallRequestWire. Result carries the
// encoded response Envelope; Error carries an extension-reported failure.
type CallResultWire struct {
	Result []byte  `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// InitializeResultWire is the reply to initialize on every transport. Info,
// when present, decodes to an extension manifest.
type InitializeResultWire struct {
	Status string          `json:"status"`
	Info   json.RawMessage `json:"info,omitempty"`
}

// ModelUpdateWire is the single-input update convention for extensions whose
// ABI takes one payload: both fields hold complete encoded Envelopes, whose
// own content is base64 as usual.
type ModelUpdateWire struct {
	Msg   json.RawMessage `json:"msg"`
	Model json.RawMessage `json:"model"`
}

// ModelResultWire is the reply to init and update: the next model plus the
// commands the host should run.
type ModelResultWire struct {
	Model json.RawMessage `json:"model"`
	Cmds  []CommandWire   `json:"cmds,omitempty"`
}

// CommandWire is one tagged instruction returned from init or update. Name
// selects the host function that runs it; ID correlates the result fed back
// into the update loop.
type CommandWire struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandResultWire is the message content delivered back to update after a
// command ran. Exactly one of Result and Error is set.
type CommandResultWire struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorWire      `json:"error,omitempty"`
}

// Subscription kinds.
const (
	SubscriptionTimer = "timer"
	SubscriptionWatch = "watch"
)

// SubscriptionWire is one entry in the subscriptions reply. Hosts diff
// replies by ID: a new ID starts the subscription, a missing one cancels it.
// Timer subscriptions tick every IntervalMs on a host ticker; watch
// subscriptions poll Path for changes at the same interval.
type SubscriptionWire struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	IntervalMs int64           `json:"interval_ms,omitempty"`
	Path       string          `json:"path,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SubscriptionsResultWire is the reply to subscriptions.
type SubscriptionsResultWire struct {
	Subs []SubscriptionWire `json:"subs,omitempty"`
}

// SubscriptionFiredWire is the message content delivered to update when a
// subscription fires. Payload echoes the declared payload verbatim.
type SubscriptionFiredWire struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Path    string          `json:"path,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
